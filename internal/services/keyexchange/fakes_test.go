package keyexchange

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"strand/internal/domain"
	"strand/internal/protocol/events"
	"strand/internal/protocol/events/eventstest"
	"strand/internal/stream"
)

const (
	aliceDevice domain.DeviceKey = "alice-device"
	bobDevice   domain.DeviceKey = "bob-device"
)

type fakeDevice struct {
	mu       sync.Mutex
	key      domain.DeviceKey
	sessions map[domain.StreamID]map[domain.SessionID][]byte
	// failWith makes DecryptGroup fail with this error for every session.
	failWith error
}

var _ domain.CryptoDevice = (*fakeDevice)(nil)

func newFakeDevice(key domain.DeviceKey) *fakeDevice {
	return &fakeDevice{key: key, sessions: make(map[domain.StreamID]map[domain.SessionID][]byte)}
}

func (d *fakeDevice) add(streamID domain.StreamID, ids ...domain.SessionID) {
	var sessions []domain.GroupSession
	for _, id := range ids {
		sessions = append(sessions, domain.GroupSession{StreamID: streamID, SessionID: id, SessionKey: []byte("key-" + id)})
	}
	_ = d.ImportSessionKeys(streamID, sessions)
}

func (d *fakeDevice) DeviceKey() domain.DeviceKey { return d.key }
func (d *fakeDevice) FallbackKey() string         { return "fallback-" + string(d.key) }

func (d *fakeDevice) DecryptWithDeviceKey(ciphertext []byte, _ domain.DeviceKey) ([]byte, error) {
	return ciphertext, nil
}

func (d *fakeDevice) EncryptForDevice(plaintext []byte, _ domain.DeviceKey) ([]byte, error) {
	return plaintext, nil
}

func (d *fakeDevice) HasInboundGroupSession(streamID domain.StreamID, sessionID domain.SessionID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[streamID][sessionID]
	return ok, nil
}

func (d *fakeDevice) ImportSessionKeys(streamID domain.StreamID, sessions []domain.GroupSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[streamID] == nil {
		d.sessions[streamID] = make(map[domain.SessionID][]byte)
	}
	for _, s := range sessions {
		d.sessions[streamID][s.SessionID] = s.SessionKey
	}
	return nil
}

func (d *fakeDevice) ExportInboundGroupSession(
	streamID domain.StreamID,
	sessionID domain.SessionID,
) (*domain.GroupSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.sessions[streamID][sessionID]
	if !ok {
		return nil, nil
	}
	return &domain.GroupSession{
		StreamID:   streamID,
		SessionID:  sessionID,
		SessionKey: key,
		Algorithm:  domain.GroupSessionAlgorithm,
	}, nil
}

func (d *fakeDevice) GetInboundGroupSessionIDs(streamID domain.StreamID) ([]domain.SessionID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []domain.SessionID
	for id := range d.sessions[streamID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (d *fakeDevice) EncryptGroup(_ domain.StreamID, plaintext []byte) (domain.EncryptedData, error) {
	return domain.EncryptedData{Ciphertext: plaintext}, nil
}

func (d *fakeDevice) DecryptGroup(streamID domain.StreamID, data domain.EncryptedData) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	if _, ok := d.sessions[streamID][data.SessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, data.SessionID)
	}
	return append([]byte("plain:"), data.Ciphertext...), nil
}

type sharedSessions struct {
	streamID domain.StreamID
	user     domain.Address
	device   domain.DeviceKey
	sessions []domain.GroupSession
}

type clientCalls struct {
	uploads       int
	downloads     int
	acks          []int64
	solicitations []domain.KeySolicitation
	fulfillments  []domain.KeyFulfillment
	shares        []sharedSessions
}

type fakeClient struct {
	mu   sync.Mutex
	user domain.Address
	clientCalls
}

var _ domain.KeyExchangeClient = (*fakeClient)(nil)

func (c *fakeClient) UserAddress() domain.Address { return c.user }

func (c *fakeClient) UploadDeviceKeys(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads++
	return nil
}

func (c *fakeClient) DownloadInbox(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads++
	return nil
}

func (c *fakeClient) AckInbox(_ context.Context, miniblockNum int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, miniblockNum)
	return nil
}

func (c *fakeClient) SendKeySolicitation(_ context.Context, _ domain.StreamID, sol domain.KeySolicitation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.solicitations = append(c.solicitations, sol)
	return nil
}

func (c *fakeClient) SendKeyFulfillment(_ context.Context, _ domain.StreamID, f domain.KeyFulfillment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fulfillments = append(c.fulfillments, f)
	return nil
}

func (c *fakeClient) ShareSessions(
	_ context.Context,
	streamID domain.StreamID,
	toUser domain.Address,
	toDevice domain.DeviceKey,
	sessions []domain.GroupSession,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shares = append(c.shares, sharedSessions{streamID, toUser, toDevice, slices.Clone(sessions)})
	return nil
}

func (c *fakeClient) snapshot() clientCalls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clientCalls{
		uploads:       c.uploads,
		downloads:     c.downloads,
		acks:          slices.Clone(c.acks),
		solicitations: slices.Clone(c.solicitations),
		fulfillments:  slices.Clone(c.fulfillments),
		shares:        slices.Clone(c.shares),
	}
}

type fakeEntitlements struct {
	mu    sync.Mutex
	allow bool
	calls int
}

var _ domain.Entitlements = (*fakeEntitlements)(nil)

func (e *fakeEntitlements) IsEntitled(
	context.Context,
	domain.StreamID,
	domain.StreamID,
	domain.Address,
	domain.Permission,
) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.allow, nil
}

func (e *fakeEntitlements) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fixture is alice's device with a channel shared with bob and alice's
// inbox, both up to date.
type fixture struct {
	t            *testing.T
	router       *stream.Router
	alice, bob   *eventstest.Signer
	channel      *stream.State
	channelChain *eventstest.Chain
	inbox        *stream.State
	inboxChain   *eventstest.Chain
	device       *fakeDevice
	client       *fakeClient
	ents         *fakeEntitlements
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		router: stream.NewRouter(nil),
		alice:  eventstest.NewSigner(t),
		bob:    eventstest.NewSigner(t),
		device: newFakeDevice(aliceDevice),
		ents:   &fakeEntitlements{allow: true},
	}
	t.Cleanup(f.router.Halt)
	f.client = &fakeClient{user: f.alice.Address}

	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	f.channel, f.channelChain = f.newStream(domain.KindChannel, domain.Inception{SpaceID: spaceID}, f.alice, f.bob)
	f.inbox, f.inboxChain = f.newStream(domain.KindInbox, domain.Inception{}, f.alice)
	return f
}

func (f *fixture) newStream(
	kind domain.ContentKind,
	inception domain.Inception,
	members ...*eventstest.Signer,
) (*stream.State, *eventstest.Chain) {
	t := f.t
	t.Helper()
	c := eventstest.NewChain(t, kind, members[0], inception)
	var snap domain.MembersSnapshot
	for i, m := range members {
		c.Add(m, domain.Payload{Membership: &domain.Membership{
			Op:               domain.OpJoin,
			UserAddress:      m.Address,
			InitiatorAddress: m.Address,
		}})
		snap.Members = append(snap.Members, domain.MemberSnapshot{
			UserAddress: m.Address,
			Op:          domain.OpJoin,
			EventNum:    int64(i + 1),
		})
	}
	inception.StreamID = c.StreamID
	mb, _ := c.Seal(&domain.Snapshot{Inception: inception, Members: snap})
	pmb, err := events.ParseMiniblock(mb)
	require.NoError(t, err)

	st, err := stream.New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize([]*events.ParsedMiniblock{pmb}, nil))
	f.router.Attach(st)
	st.MarkUpToDate()
	return st, c
}

func (f *fixture) scheduler(cfg Config) *Scheduler {
	f.t.Helper()
	s, err := New(cfg, nil, f.router, f.device, f.client, f.ents, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(s.Stop)
	return s
}

func (f *fixture) append(st *stream.State, c *eventstest.Chain, by *eventstest.Signer, p domain.Payload) *events.ParsedEvent {
	f.t.Helper()
	pe := c.Add(by, p)
	require.NoError(f.t, st.AppendEvents([]*events.ParsedEvent{pe}))
	return pe
}

func encryptedMessage(text string, session domain.SessionID) domain.Payload {
	return domain.Payload{Message: &domain.Message{Data: domain.EncryptedData{
		Ciphertext: []byte(text),
		Algorithm:  domain.GroupSessionAlgorithm,
		SenderKey:  bobDevice,
		SessionID:  session,
	}}}
}
