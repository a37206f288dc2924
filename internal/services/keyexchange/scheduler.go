package keyexchange

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/metrics"
	"strand/internal/stream"
	"strand/internal/worker"
)

const statusBuffer = 16

// Scheduler decrypts content and exchanges group session keys for one
// device. All queue state is owned by a single goroutine, so at most one
// item is in flight and no tick overlaps another.
type Scheduler struct {
	worker.Worker
	log *logging.Logger
	cfg Config

	router       *stream.Router
	device       domain.CryptoDevice
	client       domain.KeyExchangeClient
	entitlements domain.Entitlements
	cleartexts   domain.CleartextStore

	userAddress domain.Address
	deviceKey   domain.DeviceKey
	inboxID     domain.StreamID

	ctx    context.Context
	cancel context.CancelFunc

	status   atomic.Int32
	statusCh chan Status

	mu           sync.Mutex
	sub          *stream.Subscription
	highPriority map[domain.StreamID]struct{}
	wake         chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	q        queues
	failures map[domain.StreamID]map[domain.SessionID][]*contentItem

	now  func() time.Time
	rand func() float64
}

// New returns a stopped Scheduler for the device behind client and device.
// cleartexts may be nil, in which case decrypted content is not cached.
func New(
	cfg Config,
	log *logging.Logger,
	router *stream.Router,
	device domain.CryptoDevice,
	client domain.KeyExchangeClient,
	entitlements domain.Entitlements,
	cleartexts domain.CleartextStore,
) (*Scheduler, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logging.MustGetLogger("keyexchange")
	}
	inboxID, err := domain.UserStreamID(domain.KindInbox, client.UserAddress())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:          log,
		cfg:          cfg,
		router:       router,
		device:       device,
		client:       client,
		entitlements: entitlements,
		cleartexts:   cleartexts,
		userAddress:  client.UserAddress(),
		deviceKey:    device.DeviceKey(),
		inboxID:      inboxID,
		ctx:          ctx,
		cancel:       cancel,
		statusCh:     make(chan Status, statusBuffer),
		highPriority: make(map[domain.StreamID]struct{}),
		wake:         make(chan struct{}, 1),
		q:            newQueues(),
		failures:     make(map[domain.StreamID]map[domain.SessionID][]*contentItem),
		now:          time.Now,
		rand:         rand.Float64,
	}
	s.status.Store(int32(StatusInitializing))
	return s, nil
}

// Start subscribes to every stream on the router, queues the device key
// upload and inbox download, and starts the tick loop. Calling Start more
// than once, or after Stop, does nothing.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		if s.Halted() {
			return
		}
		sub := s.router.Subscribe()
		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()

		s.q.priority = append(s.q.priority,
			priorityTask{name: "uploadDeviceKeys", run: s.client.UploadDeviceKeys},
			priorityTask{name: "downloadInbox", run: s.client.DownloadInbox},
		)
		s.log.Debugf("starting for device %s", s.deviceKey)
		s.Go(func() { s.run(sub.C()) })
	})
}

// Stop unsubscribes from the router so nothing new is queued, then halts the
// loop and waits for the in-flight item to settle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		s.Halt()
		s.cancel()
		s.log.Debug("stopped")
	})
}

// Status returns what the scheduler is doing.
func (s *Scheduler) Status() Status { return Status(s.status.Load()) }

// StatusChanged delivers each status change. Changes are dropped when the
// channel is full.
func (s *Scheduler) StatusChanged() <-chan Status { return s.statusCh }

// SetHighPriorityStreams makes encrypted content of ids jump the queue.
func (s *Scheduler) SetHighPriorityStreams(ids ...domain.StreamID) {
	s.mu.Lock()
	s.highPriority = make(map[domain.StreamID]struct{}, len(ids))
	for _, id := range ids {
		s.highPriority[id] = struct{}{}
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) setStatus(st Status) {
	if old := Status(s.status.Swap(int32(st))); old == st {
		return
	}
	s.log.Infof("status changed %s", st)
	select {
	case s.statusCh <- st:
	default:
		s.log.Warningf("status channel full, dropped %s", st)
	}
}

func (s *Scheduler) run(events <-chan stream.Event) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var (
		armed  bool
		tickAt time.Time
	)
	for {
		now := s.now()
		if at, ok := s.nextTickAt(now); ok {
			if !armed || at.Before(tickAt) {
				timer.Reset(at.Sub(now))
				armed, tickAt = true, at
			}
		} else {
			if armed {
				timer.Stop()
				armed = false
			}
			s.setStatus(StatusIdle)
		}

		select {
		case <-s.HaltCh():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.onEvent(ev)
		case <-s.wake:
		case <-timer.C:
			armed = false
			s.tick()
		}
	}
}

func (s *Scheduler) onEvent(ev stream.Event) {
	switch ev.Kind {
	case stream.EventNewEncryptedContent:
		if ev.Content != nil {
			s.q.encryptedContent = append(s.q.encryptedContent, &contentItem{content: *ev.Content})
		}
	case stream.EventNewGroupSessions:
		if ev.StreamID == s.inboxID && ev.Sessions != nil {
			s.q.newGroupSessions = append(s.q.newGroupSessions, ev.Sessions)
		}
	case stream.EventNewKeySolicitation, stream.EventUpdatedKeySolicitation:
		if ev.Solicitation != nil {
			s.onKeySolicitation(ev.StreamID, *ev.Solicitation)
		}
	}
}

// onKeySolicitation replaces any queued solicitation from the same device
// for the same stream. An empty solicitation only clears.
func (s *Scheduler) onKeySolicitation(streamID domain.StreamID, sol stream.Solicitation) {
	if sol.DeviceKey == s.deviceKey {
		return
	}
	removed := s.q.keySolicitations.Filter(func(it *solicitationItem) bool {
		return it.streamID == streamID && it.DeviceKey == sol.DeviceKey
	})
	if sol.Empty() {
		if removed > 0 {
			s.log.Debugf("cleared key solicitation from %s on %s", sol.DeviceKey, streamID.Short())
		}
		return
	}
	delay := s.respondDelay(streamID, sol.UserAddress)
	s.q.keySolicitations.Enqueue(dueAt(s.now().Add(delay)), &solicitationItem{
		streamID:     streamID,
		Solicitation: sol,
	})
	s.log.Debugf("key solicitation from %s on %s, respond in %v", sol.DeviceKey, streamID.Short(), delay)
}

// respondDelay spreads answers out so that not every member replies to the
// same solicitation. Solicitations from our own user's devices wait half as
// long.
func (s *Scheduler) respondDelay(streamID domain.StreamID, from domain.Address) time.Duration {
	members := 0
	if st, ok := s.router.Stream(streamID); ok {
		members = len(st.Members().Joined())
	}
	maxWait := time.Duration(members) * s.cfg.RespondDelayPerMember
	maxWait = max(s.cfg.MinRespondDelay, min(s.cfg.MaxRespondDelay, maxWait))
	wait := time.Duration(float64(maxWait) * s.rand())
	if from == s.userAddress {
		wait /= 2
	}
	return wait
}

type task struct {
	queue  string
	status Status
	run    func(ctx context.Context) error
}

func (s *Scheduler) tick() {
	t, ok := s.next(s.now())
	if !ok {
		s.setStatus(StatusIdle)
		return
	}
	s.setStatus(t.status)
	metrics.KeyExchangeTask(t.queue)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := t.run(ctx); err != nil {
		s.log.Errorf("%s: %v", t.queue, err)
	}
}

// next removes and returns the item to process now, in queue priority order.
func (s *Scheduler) next(now time.Time) (task, bool) {
	if len(s.q.priority) > 0 {
		pt := s.q.priority[0]
		s.q.priority = s.q.priority[1:]
		return task{queue: pt.name, status: StatusUpdating, run: pt.run}, true
	}
	if len(s.q.newGroupSessions) > 0 && s.isUpToDate(s.inboxID) {
		d := s.q.newGroupSessions[0]
		s.q.newGroupSessions = s.q.newGroupSessions[1:]
		return task{
			queue:  "newGroupSessions",
			status: StatusProcessingNewGroupSessions,
			run:    func(ctx context.Context) error { return s.processNewGroupSession(ctx, d) },
		}, true
	}
	if item, ok := s.takeEncryptedContent(); ok {
		return task{
			queue:  "encryptedContent",
			status: StatusDecryptingEvents,
			run:    func(ctx context.Context) error { return s.processEncryptedContent(ctx, item) },
		}, true
	}
	if item, ok := dequeueDue(s.q.decryptionRetries, now, s.contentEligible); ok {
		return task{
			queue:  "decryptionRetries",
			status: StatusRetryingDecryption,
			run:    func(ctx context.Context) error { return s.processDecryptionRetry(ctx, item) },
		}, true
	}
	if id, ok := dequeueDue(s.q.missingKeys, now, s.isUpToDate); ok {
		return task{
			queue:  "missingKeys",
			status: StatusRequestingKeys,
			run:    func(ctx context.Context) error { return s.processMissingKeys(ctx, id) },
		}, true
	}
	if item, ok := dequeueDue(s.q.keySolicitations, now, s.solicitationEligible); ok {
		return task{
			queue:  "keySolicitations",
			status: StatusRespondingToKeyRequests,
			run:    func(ctx context.Context) error { return s.processKeySolicitation(ctx, item) },
		}, true
	}
	return task{}, false
}

// nextTickAt returns when the loop should tick next, or false when no queued
// item can run.
func (s *Scheduler) nextTickAt(now time.Time) (time.Time, bool) {
	soon := now.Add(s.cfg.TickDelay)
	switch {
	case len(s.q.priority) > 0:
		return soon, true
	case len(s.q.newGroupSessions) > 0 && s.isUpToDate(s.inboxID):
		return now, true
	case s.contentIndex() >= 0:
		return soon, true
	}

	var (
		earliest uint64
		found    bool
	)
	consider := func(p uint64, ok bool) {
		if ok && (!found || p < earliest) {
			earliest, found = p, true
		}
	}
	consider(nextDue(s.q.decryptionRetries, s.contentEligible))
	consider(nextDue(s.q.missingKeys, s.isUpToDate))
	consider(nextDue(s.q.keySolicitations, s.solicitationEligible))
	if !found {
		return time.Time{}, false
	}
	at := time.Unix(0, int64(earliest))
	if at.Before(soon) {
		at = soon
	}
	return at, true
}

// takeEncryptedContent removes the first eligible item, preferring high
// priority streams.
func (s *Scheduler) takeEncryptedContent() (*contentItem, bool) {
	i := s.contentIndex()
	if i < 0 {
		return nil, false
	}
	item := s.q.encryptedContent[i]
	s.q.encryptedContent = append(s.q.encryptedContent[:i], s.q.encryptedContent[i+1:]...)
	return item, true
}

func (s *Scheduler) contentIndex() int {
	s.mu.Lock()
	high := s.highPriority
	s.mu.Unlock()

	first := -1
	for i, item := range s.q.encryptedContent {
		if !s.contentEligible(item) {
			continue
		}
		if _, ok := high[item.streamID()]; ok {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

func (s *Scheduler) isUpToDate(id domain.StreamID) bool {
	st, ok := s.router.Stream(id)
	return ok && st.IsUpToDate()
}

func (s *Scheduler) contentEligible(item *contentItem) bool {
	return s.isUpToDate(item.streamID())
}

func (s *Scheduler) solicitationEligible(item *solicitationItem) bool {
	return s.isUpToDate(item.streamID)
}
