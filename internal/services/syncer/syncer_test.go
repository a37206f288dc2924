package syncer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strand/internal/domain"
	"strand/internal/protocol/events"
	"strand/internal/protocol/events/eventstest"
	"strand/internal/stream"
)

const waitFor = 2 * time.Second

var errRefused = errors.New("dial tcp: connection refused")

type fakeSub struct {
	ch        chan domain.SyncResponse
	end       chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		ch:     make(chan domain.SyncResponse, 16),
		end:    make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeSub) Recv() (domain.SyncResponse, error) {
	select {
	case r := <-f.ch:
		return r, nil
	case err := <-f.end:
		return domain.SyncResponse{}, err
	case <-f.closed:
		return domain.SyncResponse{}, errors.New("subscription closed")
	}
}

func (f *fakeSub) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// fakeTransport fails the first failN SyncStreams calls and then hands out
// subscriptions that open with a new sync id unless silent is set.
type fakeTransport struct {
	domain.Transport

	mu      sync.Mutex
	failN   int
	silent  bool
	calls   int
	cookies [][]domain.SyncCookie
	subs    []*fakeSub
}

func (f *fakeTransport) SyncStreams(_ context.Context, cookies []domain.SyncCookie) (domain.SyncSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cookies = append(f.cookies, cookies)
	if f.calls <= f.failN {
		return nil, errRefused
	}
	sub := newFakeSub()
	if !f.silent {
		sub.ch <- domain.SyncResponse{SyncID: syncID(f.calls), Op: domain.SyncOpNew}
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeTransport) lastCookies() []domain.SyncCookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies[len(f.cookies)-1]
}

func syncID(n int) string {
	return "sync-" + string(rune('0'+n%10))
}

func fastConfig() Config {
	return Config{
		RPCTimeout: time.Minute,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}
}

type fixture struct {
	t         *testing.T
	router    *stream.Router
	transport *fakeTransport
	alice     *eventstest.Signer
}

func newFixture(t *testing.T, transport *fakeTransport) *fixture {
	router := stream.NewRouter(nil)
	t.Cleanup(router.Halt)
	return &fixture{t: t, router: router, transport: transport, alice: eventstest.NewSigner(t)}
}

func (f *fixture) syncer(cfg Config) *Syncer {
	s := New(cfg, nil, f.transport, f.router)
	f.t.Cleanup(s.Stop)
	return s
}

// channel returns an initialized channel stream that is not yet up to date.
func (f *fixture) channel() (*stream.State, *eventstest.Chain) {
	t := f.t
	t.Helper()
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	inception := domain.Inception{SpaceID: spaceID}
	c := eventstest.NewChain(t, domain.KindChannel, f.alice, inception)
	c.Add(f.alice, domain.Payload{Membership: &domain.Membership{
		Op:               domain.OpJoin,
		UserAddress:      f.alice.Address,
		InitiatorAddress: f.alice.Address,
	}})
	inception.StreamID = c.StreamID
	mb, _ := c.Seal(&domain.Snapshot{
		Inception: inception,
		Members: domain.MembersSnapshot{Members: []domain.MemberSnapshot{
			{UserAddress: f.alice.Address, Op: domain.OpJoin, EventNum: 1},
		}},
	})
	pmb, err := events.ParseMiniblock(mb)
	require.NoError(t, err)
	st, err := stream.New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize([]*events.ParsedMiniblock{pmb}, nil))
	return st, c
}

func waitState(t *testing.T, s *Syncer, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, time.Millisecond,
		"state %s, want %s", s.State(), want)
}

func TestRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, &fakeTransport{failN: 5})
	s := f.syncer(fastConfig())
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()

	waitState(t, s, Syncing)
	require.Equal(t, 6, f.transport.callCount())
	require.Zero(t, s.Failures())
	require.NoError(t, s.Err())
	require.Equal(t, syncID(6), s.SyncID())

	select {
	case <-s.Done():
		t.Fatal("syncer stopped")
	default:
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t, &fakeTransport{failN: 100})
	s := f.syncer(fastConfig())
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("syncer did not give up")
	}
	require.ErrorIs(t, s.Err(), errRefused)
	require.Equal(t, 6, f.transport.callCount())
	require.Equal(t, 6, s.Failures())
	require.Equal(t, NotSyncing, s.State())
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t, &fakeTransport{silent: true})
	cfg := fastConfig()
	cfg.RPCTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	s := f.syncer(cfg)
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("syncer did not give up")
	}
	require.ErrorIs(t, s.Err(), errRoundTimeout)
	require.Equal(t, 2, f.transport.callCount())
}

func TestRoutesUpdates(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, c := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)
	require.False(t, st.IsUpToDate())

	pe := c.Add(f.alice, domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte("hello"),
		Algorithm:  domain.GroupSessionAlgorithm,
		SessionID:  "session-1",
	}}})
	cookie := domain.SyncCookie{StreamID: st.StreamID(), MinipoolGen: 1}
	sub := f.transport.lastSub()
	sub.ch <- domain.SyncResponse{
		SyncID:     s.SyncID(),
		Op:         domain.SyncOpUpdate,
		StreamID:   st.StreamID(),
		Events:     eventstest.Envelopes(pe),
		NextCookie: cookie,
	}

	require.Eventually(t, st.IsUpToDate, waitFor, time.Millisecond)
	require.True(t, st.HasEvent(pe.Hash))
	require.Equal(t, cookie, st.SyncCookie())
}

func TestUpdateDropsOnlyBadEnvelope(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, c := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)

	first := c.Add(f.alice, domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte("one"),
		SessionID:  "session-1",
	}}})
	forged := c.Add(f.alice, domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte("forged"),
		SessionID:  "session-1",
	}}})
	bad := forged.Envelope
	bad.Event = append([]byte(nil), bad.Event...)
	bad.Event[len(bad.Event)-1] ^= 0x01

	sub := f.transport.lastSub()
	sub.ch <- domain.SyncResponse{
		SyncID:     s.SyncID(),
		Op:         domain.SyncOpUpdate,
		StreamID:   st.StreamID(),
		Events:     []domain.Envelope{first.Envelope, bad},
		NextCookie: domain.SyncCookie{StreamID: st.StreamID(), MinipoolGen: 1},
	}
	require.Eventually(t, func() bool { return st.HasEvent(first.Hash) }, waitFor, time.Millisecond)
	require.False(t, st.HasEvent(forged.Hash))

	second := f.alice.Parsed(t, domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte("two"),
		SessionID:  "session-1",
	}}}, first.Hash)
	sub.ch <- domain.SyncResponse{
		SyncID:     s.SyncID(),
		Op:         domain.SyncOpUpdate,
		StreamID:   st.StreamID(),
		Events:     eventstest.Envelopes(second),
		NextCookie: domain.SyncCookie{StreamID: st.StreamID(), MinipoolGen: 2},
	}
	require.Eventually(t, func() bool { return st.HasEvent(second.Hash) }, waitFor, time.Millisecond)
	require.Equal(t, []domain.Hash{second.Hash}, st.LeafEventHashes())
}

func TestUpdateWithWrongSyncIDIgnored(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, c := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)

	pe := c.Add(f.alice, domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte("stale"),
		SessionID:  "session-1",
	}}})
	sub := f.transport.lastSub()
	sub.ch <- domain.SyncResponse{
		SyncID:   "other",
		Op:       domain.SyncOpUpdate,
		StreamID: st.StreamID(),
		Events:   eventstest.Envelopes(pe),
	}
	// A response without a sync id is dropped as well, and the round goes on.
	sub.ch <- domain.SyncResponse{Op: domain.SyncOpUpdate}

	require.Never(t, st.IsUpToDate, 50*time.Millisecond, 5*time.Millisecond)
	require.False(t, st.HasEvent(pe.Hash))
	require.Equal(t, Syncing, s.State())
	require.Equal(t, 1, f.transport.callCount())
}

func TestBlipRestartsWithoutFailure(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	first, _ := f.channel()
	s.AddStream(first)
	s.Start()
	waitState(t, s, Syncing)
	require.Len(t, f.transport.lastCookies(), 1)

	second, _ := f.channel()
	s.AddStream(second)
	require.Eventually(t, func() bool { return f.transport.callCount() == 2 }, waitFor, time.Millisecond)
	require.Len(t, f.transport.lastCookies(), 2)
	require.Eventually(t, func() bool { return s.SyncID() == syncID(2) }, waitFor, time.Millisecond)
	require.Zero(t, s.Failures())

	got, ok := f.router.Stream(second.StreamID())
	require.True(t, ok)
	require.Same(t, second, got)

	s.RemoveStream(first.StreamID())
	_, ok = f.router.Stream(first.StreamID())
	require.False(t, ok)
	_, ok = s.Stream(first.StreamID())
	require.False(t, ok)
	require.Eventually(t, func() bool {
		select {
		case _, open := <-first.Events():
			return !open
		default:
			return false
		}
	}, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return f.transport.callCount() == 3 }, waitFor, time.Millisecond)
	cookies := f.transport.lastCookies()
	require.Len(t, cookies, 1)
	require.Equal(t, second.StreamID(), cookies[0].StreamID)
	require.Zero(t, s.Failures())
}

func TestCleanEndStartsNextRound(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)

	f.transport.lastSub().end <- io.EOF
	require.Eventually(t, func() bool { return f.transport.callCount() == 2 }, waitFor, time.Millisecond)
	require.Zero(t, s.Failures())
}

func TestRecvErrorRetries(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)

	f.transport.lastSub().end <- errors.New("connection reset by peer")
	require.Eventually(t, func() bool { return f.transport.callCount() == 2 }, waitFor, time.Millisecond)
	// The new round opened, so the failure was forgotten.
	require.Eventually(t, func() bool { return s.SyncID() == syncID(2) }, waitFor, time.Millisecond)
	require.Zero(t, s.Failures())
}

func TestServerCloseStops(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)

	f.transport.lastSub().ch <- domain.SyncResponse{SyncID: s.SyncID(), Op: domain.SyncOpClose}
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("syncer did not stop")
	}
	require.NoError(t, s.Err())
	require.Equal(t, NotSyncing, s.State())
}

func TestWaitsForStreams(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	s.Start()

	require.Never(t, func() bool { return f.transport.callCount() > 0 }, 30*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, Starting, s.State())

	st, _ := f.channel()
	s.AddStream(st)
	waitState(t, s, Syncing)
}

func TestStop(t *testing.T) {
	f := newFixture(t, &fakeTransport{})
	s := f.syncer(fastConfig())
	st, _ := f.channel()
	s.AddStream(st)
	s.Start()
	waitState(t, s, Syncing)

	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	require.Equal(t, NotSyncing, s.State())
	require.NoError(t, s.Err())

	// Starting again does nothing.
	s.Start()
	require.Equal(t, 1, f.transport.callCount())
}

func TestStopBeforeStart(t *testing.T) {
	s := New(fastConfig(), nil, &fakeTransport{}, nil)
	s.Stop()
	s.Start()
	<-s.Done()
	require.Equal(t, NotSyncing, s.State())
}
