package stream

import (
	"sync"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/worker"
)

// Router fans the event channels of attached States into subscriptions.
// A subscription either follows a fixed set of streams or, when created
// without stream ids, every attached stream.
type Router struct {
	worker.Worker
	log *logging.Logger

	mu      sync.Mutex
	streams map[domain.StreamID]*State
	subs    map[*Subscription]struct{}
}

// NewRouter returns an empty Router.
func NewRouter(log *logging.Logger) *Router {
	if log == nil {
		log = logging.MustGetLogger("router")
	}
	return &Router{
		log:     log,
		streams: make(map[domain.StreamID]*State),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Attach starts forwarding s's events. Attaching the same stream twice is a
// no-op.
func (r *Router) Attach(s *State) {
	r.mu.Lock()
	if _, ok := r.streams[s.StreamID()]; ok {
		r.mu.Unlock()
		return
	}
	r.streams[s.StreamID()] = s
	r.mu.Unlock()

	r.Go(func() {
		ch := s.Events()
		for {
			select {
			case <-r.HaltCh():
				return
			case ev, ok := <-ch:
				if !ok {
					r.mu.Lock()
					if r.streams[s.StreamID()] == s {
						delete(r.streams, s.StreamID())
					}
					r.mu.Unlock()
					return
				}
				if r.attached(s) {
					r.dispatch(ev)
				}
			}
		}
	})
}

// Detach stops routing s. Events it emits until it is closed are dropped.
func (r *Router) Detach(s *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams[s.StreamID()] == s {
		delete(r.streams, s.StreamID())
	}
}

// Stream returns the attached State for id.
func (r *Router) Stream(id domain.StreamID) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

func (r *Router) attached(s *State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[s.StreamID()] == s
}

// Streams returns every attached State.
func (r *Router) Streams() []*State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*State, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// Publish delivers ev to matching subscriptions as if a stream had emitted
// it.
func (r *Router) Publish(ev Event) { r.dispatch(ev) }

func (r *Router) dispatch(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs {
		if sub.matches(ev.StreamID) {
			sub.push(ev)
		}
	}
}

// Subscribe returns a subscription to the given streams, or to every stream
// when ids is empty. The subscription never blocks the Router. Close it to
// stop delivery.
func (r *Router) Subscribe(ids ...domain.StreamID) *Subscription {
	sub := &Subscription{
		r:    r,
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
	}
	if len(ids) > 0 {
		sub.filter = make(map[domain.StreamID]struct{}, len(ids))
		for _, id := range ids {
			sub.filter[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	sub.Go(sub.pump)
	return sub
}

// Halt stops forwarding and closes every subscription.
func (r *Router) Halt() {
	r.Worker.Halt()
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// Subscription is an unbounded queue of Events from a Router.
type Subscription struct {
	worker.Worker
	r      *Router
	filter map[domain.StreamID]struct{}

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	out   chan Event
	once  sync.Once
}

// C returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.out }

// Close removes the subscription from its Router and closes C. Undelivered
// events are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.r.mu.Lock()
		delete(s.r.subs, s)
		s.r.mu.Unlock()
		s.Halt()
	})
}

func (s *Subscription) matches(id domain.StreamID) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[id]
	return ok
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.HaltCh():
				return
			case <-s.wake:
				continue
			}
		}
		ev := s.queue[0]
		s.mu.Unlock()

		select {
		case <-s.HaltCh():
			return
		case s.out <- ev:
			s.mu.Lock()
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
		}
	}
}
