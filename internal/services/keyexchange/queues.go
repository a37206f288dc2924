package keyexchange

import (
	"context"
	"time"

	"strand/internal/domain"
	"strand/internal/queue"
	"strand/internal/stream"
)

// priorityTask runs before anything else.
type priorityTask struct {
	name string
	run  func(ctx context.Context) error
}

// contentItem is encrypted content waiting to be decrypted. attempts counts
// failed decryptions and survives requeues from the failure index.
type contentItem struct {
	content  domain.EncryptedContent
	attempts int
}

func (c *contentItem) streamID() domain.StreamID   { return c.content.StreamID }
func (c *contentItem) sessionID() domain.SessionID { return c.content.Data.SessionID }

// solicitationItem is another device's request for keys of one stream.
type solicitationItem struct {
	streamID domain.StreamID
	stream.Solicitation
}

// queues is owned by the scheduler goroutine. The timed queues are ordered
// by due time in unix nanoseconds.
type queues struct {
	priority         []priorityTask
	newGroupSessions []*stream.GroupSessionsDelivery
	encryptedContent []*contentItem

	decryptionRetries *queue.PriorityQueue[*contentItem]
	missingKeys       *queue.PriorityQueue[domain.StreamID]
	keySolicitations  *queue.PriorityQueue[*solicitationItem]
}

func newQueues() queues {
	return queues{
		decryptionRetries: queue.New[*contentItem](),
		missingKeys:       queue.New[domain.StreamID](),
		keySolicitations:  queue.New[*solicitationItem](),
	}
}

func (q *queues) empty() bool {
	return len(q.priority) == 0 &&
		len(q.newGroupSessions) == 0 &&
		len(q.encryptedContent) == 0 &&
		q.decryptionRetries.Len() == 0 &&
		q.missingKeys.Len() == 0 &&
		q.keySolicitations.Len() == 0
}

func dueAt(t time.Time) uint64 { return uint64(t.UnixNano()) }

// dequeueDue removes the earliest entry of q that is eligible and due by now.
func dequeueDue[T any](q *queue.PriorityQueue[T], now time.Time, eligible func(T) bool) (T, bool) {
	e := q.PeekMatch(eligible)
	if e == nil || e.Priority > dueAt(now) {
		var zero T
		return zero, false
	}
	q.Remove(e)
	return e.Value, true
}

// nextDue returns the due time of the earliest eligible entry of q.
func nextDue[T any](q *queue.PriorityQueue[T], eligible func(T) bool) (uint64, bool) {
	e := q.PeekMatch(eligible)
	if e == nil {
		return 0, false
	}
	return e.Priority, true
}
