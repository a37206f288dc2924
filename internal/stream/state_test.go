package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strand/internal/domain"
	"strand/internal/protocol/events"
	"strand/internal/protocol/events/eventstest"
)

func joinPayload(u *eventstest.Signer) domain.Payload {
	return domain.Payload{Membership: &domain.Membership{
		Op:               domain.OpJoin,
		UserAddress:      u.Address,
		InitiatorAddress: u.Address,
	}}
}

func memberSnap(users ...*eventstest.Signer) domain.MembersSnapshot {
	var ms domain.MembersSnapshot
	for i, u := range users {
		ms.Members = append(ms.Members, domain.MemberSnapshot{
			UserAddress: u.Address,
			Op:          domain.OpJoin,
			EventNum:    int64(i + 1),
		})
	}
	return ms
}

func encrypted(text string) domain.EncryptedData {
	return domain.EncryptedData{
		Ciphertext: []byte(text),
		Algorithm:  domain.GroupSessionAlgorithm,
		SenderKey:  "sender-device",
		SessionID:  "session-1",
	}
}

func message(text string) domain.Payload {
	return domain.Payload{Message: &domain.Message{Data: encrypted(text)}}
}

func parse(t *testing.T, mbs ...domain.Miniblock) []*events.ParsedMiniblock {
	t.Helper()
	out := make([]*events.ParsedMiniblock, len(mbs))
	for i, mb := range mbs {
		pmb, err := events.ParseMiniblock(mb)
		require.NoError(t, err)
		out[i] = pmb
	}
	return out
}

func drain(s *State) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func mustEvent(t *testing.T, s *State, hash domain.Hash) TimelineEvent {
	t.Helper()
	te, ok := s.Event(hash)
	require.True(t, ok, "event %s not accepted", hash.Hex())
	return te
}

func count(evs []Event, kind EventKind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// newChannelState initializes a channel whose first miniblock holds the
// inception and a join for each member.
func newChannelState(t *testing.T, members ...*eventstest.Signer) (*State, *eventstest.Chain) {
	t.Helper()
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	c := eventstest.NewChain(t, domain.KindChannel, members[0], domain.Inception{SpaceID: spaceID})
	for _, m := range members {
		c.Add(m, joinPayload(m))
	}
	mb, _ := c.Seal(&domain.Snapshot{
		Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID},
		Members:   memberSnap(members...),
	})
	s, err := New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(parse(t, mb), nil))
	drain(s)
	return s, c
}

func TestNewRejectsBadStreamID(t *testing.T) {
	_, err := New("zz1234", nil)
	require.True(t, domain.IsCode(err, domain.CodeBadStreamID))
}

func TestInitializeRequiresMiniblocks(t *testing.T) {
	id, err := domain.RandomStreamID(domain.KindChannel)
	require.NoError(t, err)
	s, err := New(id, nil)
	require.NoError(t, err)

	err = s.Initialize(nil, nil)
	require.ErrorIs(t, err, domain.ErrStreamEmpty)
	require.Equal(t, PhaseUninitialized, s.Phase())
}

func TestInitializeRequiresSnapshot(t *testing.T) {
	alice := eventstest.NewSigner(t)
	c := eventstest.NewChain(t, domain.KindGDM, alice, domain.Inception{})
	mb, _ := c.Seal(nil)
	s, err := New(c.StreamID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.CodeStreamBadEvent, domain.CodeOf(s.Initialize(parse(t, mb), nil)))
}

func TestInitialize(t *testing.T) {
	alice := eventstest.NewSigner(t)
	bob := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice, bob)

	require.Equal(t, PhaseLive, s.Phase())
	require.Equal(t, domain.MiniblockInfo{Min: 0, Max: 0, TerminusReached: true}, s.MiniblockInfo())
	require.Equal(t, []domain.Hash{c.Last()}, s.LeafEventHashes())
	require.ElementsMatch(t, []domain.Address{alice.Address, bob.Address}, s.Members().Joined())

	tl := s.Timeline()
	require.Len(t, tl, 4)
	require.Equal(t, domain.PayloadInception, tl[0].Case())
	require.Equal(t, domain.PayloadMiniblockHeader, tl[3].Case())
	for i, te := range tl {
		require.True(t, te.Confirmed)
		require.Equal(t, int64(i), te.EventNum)
	}

	require.ErrorIs(t, s.Initialize(nil, nil), ErrAlreadyInitialized)
}

func TestInitializeWithLaterBlocksAndMinipool(t *testing.T) {
	alice := eventstest.NewSigner(t)
	bob := eventstest.NewSigner(t)
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	c := eventstest.NewChain(t, domain.KindChannel, alice, domain.Inception{SpaceID: spaceID})
	c.Add(alice, joinPayload(alice))
	mb0, _ := c.Seal(&domain.Snapshot{
		Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID},
		Members:   memberSnap(alice),
	})
	c.Add(bob, joinPayload(bob))
	mb1, _ := c.Seal(nil)
	pending := c.Add(alice, message("hello"))

	s, err := New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(parse(t, mb0, mb1), []*events.ParsedEvent{pending}))

	require.Equal(t, domain.MiniblockInfo{Min: 0, Max: 1, TerminusReached: true}, s.MiniblockInfo())
	require.True(t, s.Members().IsJoined(bob.Address))
	require.Equal(t, []domain.Hash{pending.Hash}, s.LeafEventHashes())
	require.False(t, mustEvent(t, s, pending.Hash).Confirmed)

	evs := drain(s)
	require.Equal(t, 0, count(evs, EventUserJoinedStream))
	require.Equal(t, 1, count(evs, EventStreamInitialized))
	require.Equal(t, 1, count(evs, EventNewEncryptedContent))
	require.Equal(t, EventStreamInitialized, evs[len(evs)-1].Kind)
}

func TestTipAdvancement(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)
	require.Equal(t, []domain.Hash{c.Last()}, s.LeafEventHashes())

	var last *events.ParsedEvent
	for i := 0; i < 5; i++ {
		last = c.Add(alice, message("m"))
	}
	require.NoError(t, s.AppendEvents(c.Pending()))
	require.Equal(t, []domain.Hash{last.Hash}, s.LeafEventHashes())

	// Two events on the same parent leave two tips.
	fork := alice.Parsed(t, message("fork"), last.Hash)
	next := c.Add(alice, message("next"))
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{fork, next}))
	require.ElementsMatch(t, []domain.Hash{fork.Hash, next.Hash}, s.LeafEventHashes())
}

func TestAppendRejectsUnknownPredecessor(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, _ := newChannelState(t, alice)

	orphan := alice.Parsed(t, message("orphan"), domain.BytesToHash([]byte("nowhere")))
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{orphan}))
	require.False(t, s.HasEvent(orphan.Hash))
}

func TestAppendBeforeInitialize(t *testing.T) {
	id, err := domain.RandomStreamID(domain.KindChannel)
	require.NoError(t, err)
	s, err := New(id, nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.AppendEvents(nil), ErrNotLive)
	require.ErrorIs(t, s.PrependEvents(nil, true), ErrNotLive)
}

func TestConfirmationIdempotence(t *testing.T) {
	alice := eventstest.NewSigner(t)
	bob := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)

	join := c.Add(bob, joinPayload(bob))
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{join}))
	require.Equal(t, domain.MembershipPendingJoined, s.Members().Membership(bob.Address))
	require.False(t, s.Members().IsJoined(bob.Address))
	require.True(t, s.Members().IsParticipant(bob.Address))
	require.Equal(t, 0, count(drain(s), EventUserJoinedStream))

	_, hdr := c.Seal(nil)
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{hdr}))
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{join, hdr}))
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{hdr}))

	require.Equal(t, domain.MembershipJoined, s.Members().Membership(bob.Address))
	require.ElementsMatch(t, []domain.Address{alice.Address, bob.Address}, s.Members().Joined())
	require.Equal(t, int64(1), s.MiniblockInfo().Max)
	require.Equal(t, []domain.Hash{hdr.Hash}, s.LeafEventHashes())

	te := mustEvent(t, s, join.Hash)
	require.True(t, te.Confirmed)
	require.Equal(t, int64(1), te.MiniblockNum)
	require.Equal(t, int64(3), te.EventNum)

	mem, ok := s.Members().Get(bob.Address)
	require.True(t, ok)
	require.Equal(t, int64(3), mem.EventNum)

	evs := drain(s)
	require.Equal(t, 1, count(evs, EventUserJoinedStream))
	require.Equal(t, 1, count(evs, EventStreamUpdated))
	require.Len(t, s.Timeline(), 5)
}

func TestLeaveConfirmation(t *testing.T) {
	alice := eventstest.NewSigner(t)
	bob := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice, bob)

	leave := c.Add(bob, domain.Payload{Membership: &domain.Membership{
		Op:               domain.OpLeave,
		UserAddress:      bob.Address,
		InitiatorAddress: bob.Address,
	}})
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{leave}))
	require.Equal(t, domain.MembershipPendingLeft, s.Members().Membership(bob.Address))
	require.True(t, s.Members().IsJoined(bob.Address))
	require.False(t, s.Members().IsParticipant(bob.Address))

	_, hdr := c.Seal(nil)
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{hdr}))
	require.Equal(t, []domain.Address{bob.Address}, s.Members().Left())
	require.Equal(t, []domain.Address{alice.Address}, s.Members().Joined())
	require.Equal(t, 1, count(drain(s), EventUserLeftStream))
}

func TestInviteConfirmation(t *testing.T) {
	alice := eventstest.NewSigner(t)
	carol := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)

	c.Add(alice, domain.Payload{Membership: &domain.Membership{
		Op:               domain.OpInvite,
		UserAddress:      carol.Address,
		InitiatorAddress: alice.Address,
	}})
	require.NoError(t, s.AppendEvents(c.Pending()))
	require.Equal(t, domain.MembershipPendingInvited, s.Members().Membership(carol.Address))
	require.Empty(t, s.Members().Invited())

	_, hdr := c.Seal(nil)
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{hdr}))
	require.Equal(t, []domain.Address{carol.Address}, s.Members().Invited())

	evs := drain(s)
	require.Equal(t, 1, count(evs, EventUserInvitedToStream))
	for _, ev := range evs {
		if ev.Kind == EventUserInvitedToStream {
			require.Equal(t, carol.Address, ev.User)
			require.Equal(t, s.StreamID(), ev.StreamID)
		}
	}
}

func TestPrependEvents(t *testing.T) {
	alice := eventstest.NewSigner(t)
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	snap := func(c *eventstest.Chain) *domain.Snapshot {
		return &domain.Snapshot{
			Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID},
			Members:   memberSnap(alice),
		}
	}

	c := eventstest.NewChain(t, domain.KindChannel, alice, domain.Inception{SpaceID: spaceID})
	c.Add(alice, joinPayload(alice))
	mb0, _ := c.Seal(snap(c))
	c.Add(alice, message("one"))
	c.Add(alice, message("two"))
	mb1, _ := c.Seal(nil)
	c.Add(alice, message("three"))
	mb2, hdr2 := c.Seal(snap(c))

	s, err := New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(parse(t, mb2), nil))
	require.Equal(t, domain.MiniblockInfo{Min: 2, Max: 2}, s.MiniblockInfo())
	require.Equal(t, []domain.Hash{hdr2.Hash}, s.LeafEventHashes())
	drain(s)

	require.NoError(t, s.PrependEvents(parse(t, mb0, mb1), false))
	require.Equal(t, domain.MiniblockInfo{Min: 0, Max: 2, TerminusReached: true}, s.MiniblockInfo())
	require.Equal(t, []domain.Hash{hdr2.Hash}, s.LeafEventHashes())

	tl := s.Timeline()
	require.Len(t, tl, 8)
	require.Equal(t, domain.PayloadInception, tl[0].Case())
	for i, te := range tl {
		require.Equal(t, int64(i), te.EventNum)
	}

	view, ok := s.View().(*ChannelView)
	require.True(t, ok)
	require.Equal(t, spaceID, view.SpaceID())
	var texts []string
	for _, m := range view.Messages() {
		texts = append(texts, string(m.Event.Payload.Message.Data.Ciphertext))
	}
	require.Equal(t, []string{"one", "two", "three"}, texts)

	evs := drain(s)
	require.Equal(t, 1, count(evs, EventStreamEventsPrepended))
	require.Equal(t, 2, count(evs, EventNewEncryptedContent))

	// Duplicate history is ignored.
	require.NoError(t, s.PrependEvents(parse(t, mb1), false))
	require.Len(t, s.Timeline(), 8)
}

func TestPrependTerminusFlag(t *testing.T) {
	alice := eventstest.NewSigner(t)
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	c := eventstest.NewChain(t, domain.KindChannel, alice, domain.Inception{SpaceID: spaceID})
	c.Add(alice, joinPayload(alice))
	c.Seal(nil)
	c.Add(alice, message("one"))
	mb1, _ := c.Seal(nil)
	c.Add(alice, message("two"))
	mb2, _ := c.Seal(&domain.Snapshot{
		Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID},
		Members:   memberSnap(alice),
	})

	s, err := New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(parse(t, mb2), nil))
	require.NoError(t, s.PrependEvents(parse(t, mb1), false))
	require.Equal(t, domain.MiniblockInfo{Min: 1, Max: 2}, s.MiniblockInfo())
	require.NoError(t, s.PrependEvents(nil, true))
	require.True(t, s.MiniblockInfo().TerminusReached)
}

func TestDispatchErrorsAreIsolated(t *testing.T) {
	alice := eventstest.NewSigner(t)
	stranger := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)

	bad := c.Add(alice, domain.Payload{Channel: &domain.ChannelUpdate{Op: domain.ChannelOpCreated, ChannelID: c.StreamID}})
	good := c.Add(alice, message("ok"))
	ks := c.Add(stranger, domain.Payload{KeySolicitation: &domain.KeySolicitation{
		DeviceKey:  "stranger-device",
		SessionIDs: []domain.SessionID{"a"},
	}})
	require.NoError(t, s.AppendEvents(c.Pending()))

	require.True(t, s.HasEvent(bad.Hash))
	require.True(t, s.HasEvent(good.Hash))
	require.True(t, s.HasEvent(ks.Hash))
	require.Equal(t, []domain.Hash{ks.Hash}, s.LeafEventHashes())
	require.Len(t, s.View().(*ChannelView).Messages(), 1)
	require.Empty(t, s.Members().Solicitations())
}

func TestApplyDecryptedMessage(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)
	msg := c.Add(alice, message("ciphertext"))
	require.NoError(t, s.AppendEvents(c.Pending()))
	drain(s)

	s.ApplyDecrypted(domain.DecryptedContent{
		StreamID:       s.StreamID(),
		EventHash:      msg.Hash,
		Kind:           domain.ContentMessage,
		CreatorAddress: alice.Address,
		Plaintext:      []byte("hello"),
	})
	require.Equal(t, []byte("hello"), mustEvent(t, s, msg.Hash).Plaintext)
	evs := drain(s)
	require.Len(t, evs, 1)
	require.Equal(t, EventDecryptedContent, evs[0].Kind)
	require.Equal(t, msg.Hash, evs[0].Decrypted.EventHash)
}

func TestMarkUpToDateEmitsOnce(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, _ := newChannelState(t, alice)
	require.False(t, s.IsUpToDate())
	s.MarkUpToDate()
	s.MarkUpToDate()
	require.True(t, s.IsUpToDate())
	require.Equal(t, 1, count(drain(s), EventStreamUpToDate))
}

func TestSyncCookie(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)
	require.Equal(t, c.Last(), s.SyncCookie().PrevMiniblockHash)

	s.SetSyncCookie(domain.SyncCookie{MinipoolGen: 7})
	got := s.SyncCookie()
	require.Equal(t, s.StreamID(), got.StreamID)
	require.Equal(t, int64(7), got.MinipoolGen)
}

func TestCloseStopsDelivery(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)
	s.Close()
	s.Close()
	_, ok := <-s.Events()
	require.False(t, ok)

	c.Add(alice, message("late"))
	require.NoError(t, s.AppendEvents(c.Pending()))
}

func TestTimelineEventsAreCopies(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)
	msg := c.Add(alice, message("ciphertext"))
	require.NoError(t, s.AppendEvents(c.Pending()))

	evs := drain(s)
	require.Equal(t, 1, count(evs, EventStreamUpdated))
	var appended []TimelineEvent
	for _, ev := range evs {
		appended = append(appended, ev.Appended...)
	}
	require.Len(t, appended, 1)
	before := mustEvent(t, s, msg.Hash)
	timeline := s.Timeline()

	s.ApplyDecrypted(domain.DecryptedContent{
		StreamID:  s.StreamID(),
		EventHash: msg.Hash,
		Kind:      domain.ContentMessage,
		Plaintext: []byte("hello"),
	})
	_, hdr := c.Seal(nil)
	require.NoError(t, s.AppendEvents([]*events.ParsedEvent{hdr}))

	require.Nil(t, before.Plaintext)
	require.False(t, before.Confirmed)
	require.False(t, appended[0].Confirmed)
	require.Nil(t, timeline[len(timeline)-1].Plaintext)

	after := mustEvent(t, s, msg.Hash)
	require.Equal(t, []byte("hello"), after.Plaintext)
	require.True(t, after.Confirmed)
}

func TestConcurrentReadsAndDecrypts(t *testing.T) {
	alice := eventstest.NewSigner(t)
	s, c := newChannelState(t, alice)
	var hashes []domain.Hash
	for i := 0; i < 20; i++ {
		hashes = append(hashes, c.Add(alice, message("m")).Hash)
	}
	require.NoError(t, s.AppendEvents(c.Pending()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, h := range hashes {
			s.ApplyDecrypted(domain.DecryptedContent{EventHash: h, Kind: domain.ContentMessage, Plaintext: []byte("p")})
		}
	}()
	go func() {
		defer wg.Done()
		for range hashes {
			for _, te := range s.Timeline() {
				_ = len(te.Plaintext)
			}
			for _, m := range s.View().(*ChannelView).Messages() {
				_ = m.Confirmed
			}
		}
	}()
	wg.Wait()
	for _, h := range hashes {
		require.Equal(t, []byte("p"), mustEvent(t, s, h).Plaintext)
	}
}

func TestInitializeBacklogsOverflow(t *testing.T) {
	alice := eventstest.NewSigner(t)
	spaceID, err := domain.RandomStreamID(domain.KindSpace)
	require.NoError(t, err)
	c := eventstest.NewChain(t, domain.KindChannel, alice, domain.Inception{SpaceID: spaceID})
	c.Add(alice, joinPayload(alice))
	mb, _ := c.Seal(&domain.Snapshot{
		Inception: domain.Inception{StreamID: c.StreamID, SpaceID: spaceID},
		Members:   memberSnap(alice),
	})
	n := DefaultEventBuffer + 100
	for i := 0; i < n; i++ {
		c.Add(alice, message("m"))
	}

	s, err := New(c.StreamID, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(parse(t, mb), c.Pending()))

	late := c.Add(alice, message("late"))
	require.NoError(t, s.AppendEvents(c.Pending()))

	var content, initialized int
	var last Event
	timeout := time.After(5 * time.Second)
	for last.Kind != EventStreamUpdated {
		select {
		case ev := <-s.Events():
			switch ev.Kind {
			case EventNewEncryptedContent:
				content++
			case EventStreamInitialized:
				initialized++
				require.Equal(t, n, content)
			}
			last = ev
		case <-timeout:
			t.Fatalf("got %d content events and %d initialized", content, initialized)
		}
	}
	require.Equal(t, n+1, content)
	require.Equal(t, 1, initialized)
	require.Equal(t, late.Hash, last.Appended[0].Hash)
	s.Close()
}
