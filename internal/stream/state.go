package stream

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/protocol/events"
	"strand/internal/worker"
)

// DefaultEventBuffer is the capacity of a State's outbound event channel.
// Further events are held in an unbounded backlog.
const DefaultEventBuffer = 1024

var (
	ErrAlreadyInitialized = errors.New("stream: already initialized")
	ErrNotLive            = errors.New("stream: not initialized")
)

// Phase is the lifecycle phase of a State.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseLive:
		return "live"
	}
	return "uninitialized"
}

// TimelineEvent is an accepted event and its position in the stream.
// EventNum and MiniblockNum are -1 until a miniblock header confirms it.
// A State hands out copies; a copy does not change when the event is later
// confirmed or decrypted.
type TimelineEvent struct {
	*events.ParsedEvent
	EventNum     int64
	MiniblockNum int64
	Confirmed    bool
	// Plaintext is set once an encrypted message has been decrypted.
	Plaintext []byte
}

// State is the materialized state of one stream. It is safe for concurrent
// use. Views and Members returned by a State share its lock.
type State struct {
	mu  sync.RWMutex
	log *logging.Logger

	streamID domain.StreamID
	kind     domain.ContentKind
	phase    Phase

	timeline []*TimelineEvent
	byHash   map[domain.Hash]*TimelineEvent
	leaves   map[domain.Hash]struct{}
	info     domain.MiniblockInfo
	cookie   domain.SyncCookie
	upToDate bool

	members *Members
	view    ContentView

	outMu   sync.Mutex
	out     chan Event
	backlog []Event
	pumping bool
	closed  bool
	pump    worker.Worker
}

// New returns an uninitialized State for streamID.
func New(streamID domain.StreamID, log *logging.Logger) (*State, error) {
	if err := streamID.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.MustGetLogger("stream")
	}
	s := &State{
		log:      log,
		streamID: streamID,
		kind:     streamID.Kind(),
		byHash:   make(map[domain.Hash]*TimelineEvent),
		leaves:   make(map[domain.Hash]struct{}),
		info:     domain.MiniblockInfo{Min: -1, Max: -1},
		out:      make(chan Event, DefaultEventBuffer),
	}
	s.members = newMembers(&s.mu)
	view, err := newContentView(s.kind, &s.mu)
	if err != nil {
		return nil, err
	}
	s.view = view
	return s, nil
}

// StreamID returns the id of the stream.
func (s *State) StreamID() domain.StreamID { return s.streamID }

// Kind returns the content kind of the stream.
func (s *State) Kind() domain.ContentKind { return s.kind }

// Events returns the channel on which the State reports changes. It is
// closed by Close.
func (s *State) Events() <-chan Event { return s.out }

// Members returns the membership sub-view.
func (s *State) Members() *Members { return s.members }

// View returns the kind-specific content view. Callers type-switch on the
// result.
func (s *State) View() ContentView { return s.view }

// Phase returns the lifecycle phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Initialize applies the snapshot carried by the first miniblock, then
// the remaining miniblocks and the minipool.
func (s *State) Initialize(miniblocks []*events.ParsedMiniblock, minipool []*events.ParsedEvent) error {
	e := &emitter{streamID: s.streamID, quiet: true}
	err := s.initialize(miniblocks, minipool, e)
	s.flush(e)
	return err
}

func (s *State) initialize(miniblocks []*events.ParsedMiniblock, minipool []*events.ParsedEvent, e *emitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseUninitialized {
		return ErrAlreadyInitialized
	}
	if len(miniblocks) == 0 {
		return domain.NewError(domain.CodeStreamEmpty, "stream %s has no miniblocks", s.streamID.Short())
	}
	first := miniblocks[0]
	snap := first.HeaderPayload().Snapshot
	if snap == nil {
		return domain.NewError(domain.CodeStreamBadEvent, "first miniblock %d of %s has no snapshot", first.Num(), s.streamID.Short())
	}
	if snap.Inception.StreamID != s.streamID {
		return domain.NewError(
			domain.CodeStreamBadEvent,
			"snapshot inception is for %s, not %s", snap.Inception.StreamID.Short(), s.streamID.Short(),
		)
	}
	s.phase = PhaseInitializing

	s.members.applySnapshot(snap.Members, e)
	if err := s.view.applySnapshot(snap, e); err != nil {
		s.log.Warningf("%s: apply snapshot: %v", s.streamID.Short(), err)
	}

	// The snapshot already accounts for the first block's events.
	hdr := first.HeaderPayload()
	pre := make([]*TimelineEvent, 0, len(first.Events))
	for i := len(first.Events) - 1; i >= 0; i-- {
		te := s.prependOne(first.Events[i], hdr.MiniblockNum, hdr.EventNumOffset+int64(i), e)
		if te != nil {
			pre = append(pre, te)
		}
	}
	reverse(pre)
	s.timeline = append(pre, s.timeline...)
	s.info.Min = hdr.MiniblockNum
	s.info.Max = hdr.MiniblockNum
	s.info.TerminusReached = hdr.MiniblockNum == 0
	// Its header extends history that was compacted into the snapshot.
	s.indexAppended(first.Header, e)

	for _, mb := range miniblocks[1:] {
		for _, pe := range mb.Events {
			s.appendOne(pe, e)
		}
		s.appendOne(mb.Header, e)
	}
	for _, pe := range minipool {
		s.appendOne(pe, e)
	}

	s.phase = PhaseLive
	e.quiet = false
	e.emit(Event{Kind: EventStreamInitialized})
	s.log.Debugf("%s: initialized %s stream at miniblock %d with %d events", s.streamID.Short(), s.kind, s.info.Max, len(s.timeline))
	return nil
}

// AppendEvents adds new events to the stream. Events already indexed are
// skipped. Miniblock header events confirm the events they list.
func (s *State) AppendEvents(evs []*events.ParsedEvent) error {
	e := &emitter{streamID: s.streamID}
	err := s.appendEvents(evs, e)
	s.flush(e)
	return err
}

func (s *State) appendEvents(evs []*events.ParsedEvent, e *emitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLive {
		return ErrNotLive
	}
	var appended, confirmed []*TimelineEvent
	for _, pe := range evs {
		te, conf := s.appendOne(pe, e)
		if te != nil {
			appended = append(appended, te)
		}
		confirmed = append(confirmed, conf...)
	}
	if len(appended) > 0 || len(confirmed) > 0 {
		e.emit(Event{Kind: EventStreamUpdated, Appended: copyTimeline(appended), Confirmed: copyTimeline(confirmed)})
	}
	return nil
}

// appendOne indexes pe at the end of the timeline and advances the leaf
// hashes. It returns nil if pe was already indexed or names a predecessor
// the stream has not seen.
func (s *State) appendOne(pe *events.ParsedEvent, e *emitter) (*TimelineEvent, []*TimelineEvent) {
	if _, ok := s.byHash[pe.Hash]; ok {
		return nil, nil
	}
	for _, prev := range pe.PrevEventHashes {
		if _, ok := s.byHash[prev]; !ok {
			s.log.Warningf("%s: rejecting %s: unknown predecessor %s", s.streamID.Short(), pe.ShortString(), prev.Hex())
			return nil, nil
		}
	}
	return s.indexAppended(pe, e)
}

func (s *State) indexAppended(pe *events.ParsedEvent, e *emitter) (*TimelineEvent, []*TimelineEvent) {
	if _, ok := s.byHash[pe.Hash]; ok {
		return nil, nil
	}
	te := &TimelineEvent{ParsedEvent: pe, EventNum: -1, MiniblockNum: -1}
	s.timeline = append(s.timeline, te)
	s.byHash[pe.Hash] = te
	s.leaves[pe.Hash] = struct{}{}
	for _, prev := range pe.PrevEventHashes {
		delete(s.leaves, prev)
	}

	var confirmed []*TimelineEvent
	switch te.Case() {
	case domain.PayloadInception:
	case domain.PayloadMiniblockHeader:
		confirmed = s.applyHeader(te, e)
	default:
		s.dispatch(te, "append", func() error {
			if isMemberPayload(te.Case()) {
				return s.members.appendEvent(te, e)
			}
			return s.view.appendEvent(te, e)
		})
	}
	return te, confirmed
}

func (s *State) applyHeader(te *TimelineEvent, e *emitter) []*TimelineEvent {
	hdr := te.Event.Payload.MiniblockHeader
	var confirmed []*TimelineEvent
	for i, h := range hdr.EventHashes {
		c, ok := s.byHash[h]
		if !ok || c.Confirmed {
			continue
		}
		c.Confirmed = true
		c.EventNum = hdr.EventNumOffset + int64(i)
		c.MiniblockNum = hdr.MiniblockNum
		confirmed = append(confirmed, c)
		s.dispatch(c, "confirm", func() error {
			s.members.onConfirmed(c, e)
			return nil
		})
	}
	te.Confirmed = true
	te.EventNum = hdr.EventNumOffset + int64(len(hdr.EventHashes))
	te.MiniblockNum = hdr.MiniblockNum
	if hdr.MiniblockNum > s.info.Max {
		s.info.Max = hdr.MiniblockNum
	}
	s.cookie.PrevMiniblockHash = te.Hash
	return confirmed
}

// PrependEvents adds older miniblocks found by backward pagination. It never
// changes the leaf hashes.
func (s *State) PrependEvents(miniblocks []*events.ParsedMiniblock, terminus bool) error {
	e := &emitter{streamID: s.streamID}
	err := s.prependEvents(miniblocks, terminus, e)
	s.flush(e)
	return err
}

func (s *State) prependEvents(miniblocks []*events.ParsedMiniblock, terminus bool, e *emitter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseLive {
		return ErrNotLive
	}
	var pre []*TimelineEvent
	for i := len(miniblocks) - 1; i >= 0; i-- {
		mb := miniblocks[i]
		hdr := mb.HeaderPayload()
		if te := s.prependOne(mb.Header, hdr.MiniblockNum, hdr.EventNumOffset+int64(len(mb.Events)), e); te != nil {
			pre = append(pre, te)
		}
		for j := len(mb.Events) - 1; j >= 0; j-- {
			if te := s.prependOne(mb.Events[j], hdr.MiniblockNum, hdr.EventNumOffset+int64(j), e); te != nil {
				pre = append(pre, te)
			}
		}
		if s.info.Min < 0 || hdr.MiniblockNum < s.info.Min {
			s.info.Min = hdr.MiniblockNum
		}
		if hdr.MiniblockNum == 0 {
			s.info.TerminusReached = true
		}
	}
	if terminus {
		s.info.TerminusReached = true
	}
	reverse(pre)
	s.timeline = append(pre, s.timeline...)
	e.emit(Event{Kind: EventStreamEventsPrepended, Prepended: copyTimeline(pre)})
	return nil
}

// prependOne indexes a confirmed historical event. The caller places it in
// the timeline.
func (s *State) prependOne(pe *events.ParsedEvent, miniblockNum, eventNum int64, e *emitter) *TimelineEvent {
	if _, ok := s.byHash[pe.Hash]; ok {
		return nil
	}
	te := &TimelineEvent{ParsedEvent: pe, EventNum: eventNum, MiniblockNum: miniblockNum, Confirmed: true}
	s.byHash[pe.Hash] = te
	c := te.Case()
	if c != domain.PayloadInception && c != domain.PayloadMiniblockHeader && !isMemberPayload(c) {
		s.dispatch(te, "prepend", func() error { return s.view.prependEvent(te, e) })
	}
	return te
}

// dispatch runs fn for one event. A failure or panic is logged and does not
// affect the remaining events of the batch.
func (s *State) dispatch(te *TimelineEvent, op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("%s: %s %s: panic: %v", s.streamID.Short(), op, te.ShortString(), r)
		}
	}()
	if err := fn(); err != nil {
		s.log.Warningf("%s: %s %s: %v", s.streamID.Short(), op, te.ShortString(), err)
	}
}

func isMemberPayload(c domain.PayloadCase) bool {
	switch c {
	case domain.PayloadMembership,
		domain.PayloadKeySolicitation,
		domain.PayloadKeyFulfillment,
		domain.PayloadUsername,
		domain.PayloadDisplayName:
		return true
	}
	return false
}

// ApplyDecrypted records the plaintext of previously emitted encrypted
// content and reports it as EventDecryptedContent.
func (s *State) ApplyDecrypted(dc domain.DecryptedContent) {
	e := &emitter{streamID: s.streamID}
	s.mu.Lock()
	switch dc.Kind {
	case domain.ContentUsername, domain.ContentDisplayName:
		s.members.metadata.onDecrypted(dc.EventHash, dc.Plaintext)
	case domain.ContentChannelProperties:
		if sv, ok := s.view.(*SpaceView); ok {
			sv.onDecrypted(dc.EventHash, dc.Plaintext)
		}
	default:
		if te, ok := s.byHash[dc.EventHash]; ok {
			te.Plaintext = bytes.Clone(dc.Plaintext)
		}
	}
	e.emit(Event{Kind: EventDecryptedContent, Decrypted: &dc})
	s.mu.Unlock()
	s.flush(e)
}

// MarkUpToDate records that the sync layer has caught the stream up. The
// first call emits EventStreamUpToDate.
func (s *State) MarkUpToDate() {
	e := &emitter{streamID: s.streamID}
	s.mu.Lock()
	if !s.upToDate {
		s.upToDate = true
		e.emit(Event{Kind: EventStreamUpToDate})
	}
	s.mu.Unlock()
	s.flush(e)
}

// IsUpToDate reports whether MarkUpToDate has been called.
func (s *State) IsUpToDate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upToDate
}

// SetSyncCookie records the position to resume syncing from.
func (s *State) SetSyncCookie(c domain.SyncCookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.StreamID = s.streamID
	s.cookie = c
}

// SyncCookie returns the position to resume syncing from.
func (s *State) SyncCookie() domain.SyncCookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.cookie
	c.StreamID = s.streamID
	return c
}

// LeafEventHashes returns the current tips of the event DAG, sorted.
func (s *State) LeafEventHashes() []domain.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Hash, 0, len(s.leaves))
	for h := range s.leaves {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Timeline returns the accepted events in order.
func (s *State) Timeline() []TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTimeline(s.timeline)
}

// Event returns the accepted event with hash.
func (s *State) Event(hash domain.Hash) (TimelineEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	te, ok := s.byHash[hash]
	if !ok {
		return TimelineEvent{}, false
	}
	return *te, true
}

// HasEvent reports whether the event with hash has been accepted.
func (s *State) HasEvent(hash domain.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[hash]
	return ok
}

// MiniblockInfo returns the range of miniblocks applied so far.
func (s *State) MiniblockInfo() domain.MiniblockInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Close closes the Events channel. Events still backlogged are discarded.
// Changes made after Close are not reported.
func (s *State) Close() {
	s.outMu.Lock()
	if s.closed {
		s.outMu.Unlock()
		return
	}
	s.closed = true
	s.outMu.Unlock()

	s.pump.Halt()
	s.outMu.Lock()
	s.backlog = nil
	s.outMu.Unlock()
	close(s.out)
}

// flush delivers collected events in order without blocking the caller.
// Events that do not fit in the channel wait in a backlog that is drained
// as the reader catches up.
func (s *State) flush(e *emitter) {
	if len(e.events) == 0 {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.closed {
		return
	}
	evs := e.events
	if len(s.backlog) == 0 {
	send:
		for len(evs) > 0 {
			select {
			case s.out <- evs[0]:
				evs = evs[1:]
			default:
				break send
			}
		}
	}
	if len(evs) == 0 {
		return
	}
	s.backlog = append(s.backlog, evs...)
	if !s.pumping {
		s.pumping = true
		s.log.Debugf("%s: event channel full, backlogging %d events", s.streamID.Short(), len(s.backlog))
		s.pump.Go(s.drainBacklog)
	}
}

func (s *State) drainBacklog() {
	for {
		s.outMu.Lock()
		if len(s.backlog) == 0 {
			s.pumping = false
			s.outMu.Unlock()
			return
		}
		ev := s.backlog[0]
		s.outMu.Unlock()

		select {
		case <-s.pump.HaltCh():
			return
		case s.out <- ev:
			s.outMu.Lock()
			s.backlog[0] = Event{}
			s.backlog = s.backlog[1:]
			s.outMu.Unlock()
		}
	}
}

func (s *State) String() string {
	return fmt.Sprintf("%s(%s)", s.kind, s.streamID.Short())
}

// copyTimeline must be called with the State's lock held.
func copyTimeline(tes []*TimelineEvent) []TimelineEvent {
	if len(tes) == 0 {
		return nil
	}
	out := make([]TimelineEvent, len(tes))
	for i, te := range tes {
		out[i] = *te
	}
	return out
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
