package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/metrics"
	"strand/internal/protocol/events"
	"strand/internal/retry"
	"strand/internal/stream"
	"strand/internal/worker"
)

const stateBuffer = 16

var (
	errBlip         = errors.New("syncer: restarting subscription")
	errRoundTimeout = errors.New("syncer: sync round timed out")
	errEndedEarly   = errors.New("syncer: subscription ended before it started")
	errClosed       = errors.New("syncer: subscription closed by server")
)

// Syncer drives the sync subscription for a set of tracked streams.
type Syncer struct {
	worker.Worker
	log *logging.Logger
	cfg Config

	transport domain.Transport
	router    *stream.Router

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tracked  map[domain.StreamID]*stream.State
	state    State
	syncID   string
	failures int
	err      error

	stateCh chan State
	blip    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New returns a stopped Syncer. Streams it tracks are attached to router so
// their events reach subscribers.
func New(cfg Config, log *logging.Logger, transport domain.Transport, router *stream.Router) *Syncer {
	cfg.applyDefaults()
	if log == nil {
		log = logging.MustGetLogger("syncer")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		log:       log,
		cfg:       cfg,
		transport: transport,
		router:    router,
		ctx:       ctx,
		cancel:    cancel,
		tracked:   make(map[domain.StreamID]*stream.State),
		stateCh:   make(chan State, stateBuffer),
		blip:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// AddStream tracks st and restarts the subscription to cover it.
func (s *Syncer) AddStream(st *stream.State) {
	s.mu.Lock()
	if _, ok := s.tracked[st.StreamID()]; ok {
		s.mu.Unlock()
		return
	}
	s.tracked[st.StreamID()] = st
	n := len(s.tracked)
	s.mu.Unlock()

	if s.router != nil {
		s.router.Attach(st)
	}
	metrics.TrackedStreams(n)
	s.log.Debugf("tracking %s", st)
	s.Blip()
}

// RemoveStream stops tracking id, detaches and closes its State and restarts
// the subscription without it.
func (s *Syncer) RemoveStream(id domain.StreamID) {
	s.mu.Lock()
	st, ok := s.tracked[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tracked, id)
	n := len(s.tracked)
	s.mu.Unlock()

	if s.router != nil {
		s.router.Detach(st)
	}
	st.Close()

	metrics.TrackedStreams(n)
	s.log.Debugf("stopped tracking %s", id.Short())
	s.Blip()
}

// Stream returns the tracked stream id.
func (s *Syncer) Stream(id domain.StreamID) (*stream.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tracked[id]
	return st, ok
}

// Blip restarts the subscription. A blip is not a failure.
func (s *Syncer) Blip() {
	select {
	case s.blip <- struct{}{}:
	default:
	}
}

// Start runs the sync loop. Calling Start more than once, or after Stop,
// does nothing.
func (s *Syncer) Start() {
	s.startOnce.Do(func() {
		if s.Halted() {
			close(s.done)
			return
		}
		s.Go(func() {
			<-s.HaltCh()
			s.cancel()
		})
		s.Go(s.run)
	})
}

// Stop cancels the subscription and waits for the loop to return.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		s.Halt()
		s.cancel()
		s.startOnce.Do(func() { close(s.done) })
		s.log.Debug("stopped")
	})
}

// Done is closed once the loop has returned, either after Stop or after
// too many consecutive failures.
func (s *Syncer) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the loop, if any.
func (s *Syncer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the loop's current state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StateChanged delivers each state change. Changes are dropped when the
// channel is full.
func (s *Syncer) StateChanged() <-chan State { return s.stateCh }

// SyncID returns the server's id for the current subscription.
func (s *Syncer) SyncID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncID
}

// Failures returns the number of consecutive failed rounds.
func (s *Syncer) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Syncer) setState(next State) error {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return nil
	}
	if !prev.CanTransition(next) {
		s.mu.Unlock()
		err := &ErrInvalidTransition{From: prev, To: next}
		s.log.Errorf("%v", err)
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.log.Debugf("state %s -> %s", prev, next)
	select {
	case s.stateCh <- next:
	default:
		s.log.Warningf("state channel full, dropped %s", next)
	}
	return nil
}

func (s *Syncer) run() {
	defer close(s.done)
	_ = s.setState(Starting)
	for {
		err := s.round()
		switch {
		case s.Halted():
			s.finish(nil)
			return
		case errors.Is(err, errBlip):
			s.log.Debug("blip")
			continue
		case errors.Is(err, errClosed):
			s.finish(nil)
			return
		case err == nil:
			continue
		}

		metrics.SyncRound(false)
		failures := s.fail(err)
		if failures > s.cfg.MaxRetries {
			s.log.Errorf("giving up after %d failed rounds: %v", failures, err)
			s.finish(err)
			return
		}
		_ = s.setState(Retrying)
		delay := retry.Delay(s.cfg.BaseDelay, s.cfg.MaxDelay, s.cfg.Jitter, failures-1)
		s.log.Warningf("sync round failed (%d/%d), retrying in %s: %v", failures, s.cfg.MaxRetries, delay, err)
		if !s.wait(delay) {
			s.finish(nil)
			return
		}
	}
}

// wait sleeps for d or until a blip. It returns false once halted.
func (s *Syncer) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.HaltCh():
		return false
	case <-s.blip:
		return true
	case <-t.C:
		return true
	}
}

// idle blocks until there is a stream to sync. It returns false once halted.
func (s *Syncer) idle() bool {
	for {
		s.mu.Lock()
		n := len(s.tracked)
		s.mu.Unlock()
		if n > 0 {
			return true
		}
		select {
		case <-s.HaltCh():
			return false
		case <-s.blip:
		}
	}
}

func (s *Syncer) fail(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.err = err
	return s.failures
}

func (s *Syncer) finish(err error) {
	s.mu.Lock()
	s.syncID = ""
	if err == nil {
		s.err = nil
	}
	s.mu.Unlock()
	_ = s.setState(Canceling)
	_ = s.setState(NotSyncing)
}

func (s *Syncer) cookies() []domain.SyncCookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SyncCookie, 0, len(s.tracked))
	for _, st := range s.tracked {
		out = append(out, st.SyncCookie())
	}
	return out
}

// round runs one subscription until it ends. A nil return means the server
// ended a healthy round and a new one should start right away.
func (s *Syncer) round() error {
	// Cookies read below already reflect any pending stream change.
	select {
	case <-s.blip:
	default:
	}
	if !s.idle() {
		return context.Canceled
	}

	ctx, cancel := context.WithCancelCause(s.ctx)
	defer cancel(nil)
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, s.cfg.RPCTimeout, errRoundTimeout)
	defer cancelTimeout()

	s.Go(func() {
		select {
		case <-ctx.Done():
		case <-s.blip:
			cancel(errBlip)
		}
	})

	cookies := s.cookies()
	s.log.Debugf("syncing %d streams", len(cookies))
	sub, err := s.transport.SyncStreams(ctx, cookies)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("sync streams: %w", err)
	}
	defer sub.Close()
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	started := false
	for {
		resp, err := sub.Recv()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return context.Cause(ctx)
			case errors.Is(err, io.EOF) && started:
				return nil
			case errors.Is(err, io.EOF):
				return errEndedEarly
			}
			return fmt.Errorf("sync recv: %w", err)
		}
		if resp.SyncID == "" || resp.Op == domain.SyncOpUnspecified {
			s.log.Errorf("dropping response without sync id or op")
			continue
		}
		metrics.SyncResponse(resp.Op.String())
		switch resp.Op {
		case domain.SyncOpNew:
			started = true
			s.onNew(resp.SyncID)
		case domain.SyncOpUpdate:
			s.onUpdate(resp)
		case domain.SyncOpClose:
			s.log.Infof("sync %s closed by server", resp.SyncID)
			return errClosed
		default:
			s.log.Errorf("unknown sync op %d", resp.Op)
		}
	}
}

func (s *Syncer) onNew(syncID string) {
	if err := s.setState(Syncing); err != nil {
		return
	}
	s.mu.Lock()
	s.syncID = syncID
	s.failures = 0
	s.err = nil
	s.mu.Unlock()
	metrics.SyncRound(true)
	s.log.Infof("syncing with id %s", syncID)
}

// onUpdate appends the events of one stream. An envelope that fails
// verification is dropped on its own. Problems with a single update are
// logged and do not fail the round.
func (s *Syncer) onUpdate(resp domain.SyncResponse) {
	s.mu.Lock()
	syncID := s.syncID
	s.mu.Unlock()
	if resp.SyncID != syncID {
		s.log.Errorf("sync id mismatch: have %q, got %q", syncID, resp.SyncID)
		return
	}
	id := resp.StreamID
	if id == "" {
		id = resp.NextCookie.StreamID
	}
	st, ok := s.Stream(id)
	if !ok {
		s.log.Warningf("update for untracked stream %s", id.Short())
		return
	}
	evs := make([]*events.ParsedEvent, 0, len(resp.Events))
	for i, env := range resp.Events {
		pe, err := events.VerifyEnvelope(env)
		if err != nil {
			metrics.EventVerified(false)
			s.log.Errorf("%s: rejecting event %d of update: %v", st, i, err)
			continue
		}
		metrics.EventVerified(true)
		evs = append(evs, pe)
	}
	if err := st.AppendEvents(evs); err != nil {
		s.log.Errorf("%s: append: %v", st, err)
		return
	}
	st.SetSyncCookie(resp.NextCookie)
	st.MarkUpToDate()
}
