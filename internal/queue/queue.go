// Package queue implements a min-heap priority queue.
package queue

import "container/heap"

// Entry is a queued value and its priority. Lower priorities pop first.
type Entry[T any] struct {
	Value    T
	Priority uint64
	seq      uint64
	idx      int
}

type entries[T any] []*Entry[T]

func (pq entries[T]) Len() int { return len(pq) }

// Equal priorities pop in insertion order.
func (pq entries[T]) Less(i, j int) bool { return pq.less(pq[i], pq[j]) }

func (entries[T]) less(a, b *Entry[T]) bool {
	if a.Priority == b.Priority {
		return a.seq < b.seq
	}
	return a.Priority < b.Priority
}

func (pq entries[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].idx = i
	pq[j].idx = j
}

func (pq *entries[T]) Push(x any) {
	e := x.(*Entry[T])
	e.idx = len(*pq)
	*pq = append(*pq, e)
}

func (pq *entries[T]) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	*pq = old[:n-1]
	return e
}

// PriorityQueue is a priority queue. It is not safe for concurrent use.
type PriorityQueue[T any] struct {
	heap entries[T]
	seq  uint64
}

// New returns an empty PriorityQueue.
func New[T any]() *PriorityQueue[T] {
	q := &PriorityQueue[T]{heap: make(entries[T], 0)}
	heap.Init(&q.heap)
	return q
}

// Enqueue inserts value with priority.
func (q *PriorityQueue[T]) Enqueue(priority uint64, value T) {
	q.seq++
	heap.Push(&q.heap, &Entry[T]{Value: value, Priority: priority, seq: q.seq})
}

// Peek returns the lowest priority entry without removing it, or nil.
// Callers must not change the Priority of the returned entry.
func (q *PriorityQueue[T]) Peek() *Entry[T] {
	if q.Len() == 0 {
		return nil
	}
	return q.heap[0]
}

// Pop removes and returns the lowest priority entry, or nil.
func (q *PriorityQueue[T]) Pop() *Entry[T] {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*Entry[T])
}

// Filter removes every entry whose value matches drop and returns how many
// were removed.
func (q *PriorityQueue[T]) Filter(drop func(T) bool) int {
	n := 0
	for i := 0; i < q.Len(); {
		if drop(q.heap[i].Value) {
			heap.Remove(&q.heap, i)
			n++
			continue
		}
		i++
	}
	return n
}

// Find returns the first entry whose value matches, or nil.
func (q *PriorityQueue[T]) Find(match func(T) bool) *Entry[T] {
	for _, e := range q.heap {
		if match(e.Value) {
			return e
		}
	}
	return nil
}

// PeekMatch returns the lowest priority entry whose value matches, or nil.
func (q *PriorityQueue[T]) PeekMatch(match func(T) bool) *Entry[T] {
	var best *Entry[T]
	for _, e := range q.heap {
		if match(e.Value) && (best == nil || q.heap.less(e, best)) {
			best = e
		}
	}
	return best
}

// Remove removes e, which must have been returned by this queue and not yet
// popped.
func (q *PriorityQueue[T]) Remove(e *Entry[T]) {
	if e.idx < 0 || e.idx >= q.Len() || q.heap[e.idx] != e {
		return
	}
	heap.Remove(&q.heap, e.idx)
}

// Len returns the number of queued entries.
func (q *PriorityQueue[T]) Len() int { return q.heap.Len() }
