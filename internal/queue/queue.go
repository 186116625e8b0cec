// Package queue holds the in-memory ordered task collections backing both
// worker kinds.
package queue

import (
	"sync"

	"github.com/fewk2/panbutler/internal/domain"
)

// Queue is an ordered, insertion-significant collection of tasks of one kind.
// Every read and mutation happens under the queue-local lock; neither the raw
// slice nor live task pointers are ever exposed to readers. Appends signal
// the wake channel so an idle worker picks new work up without waiting for
// its poll tick.
type Queue[T domain.QueueItem[T]] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

func New[T domain.QueueItem[T]]() *Queue[T] {
	return &Queue[T]{
		wake: make(chan struct{}, 1),
	}
}

// Wake returns a channel that receives a token whenever pending work may have
// appeared.
func (q *Queue[T]) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue[T]) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) Append(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.notify()
}

// ClaimPending finds the oldest pending task, transitions it to running and
// returns it with its position. The transition happens under the lock, so the
// claiming worker is the sole owner of the pending -> running edge.
func (q *Queue[T]) ClaimPending() (item T, index int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.items {
		if t.GetStatus() == domain.Pending {
			t.SetStatus(domain.Running)
			return t, i, true
		}
	}
	var zero T
	return zero, -1, false
}

// Do runs fn under the queue lock. Workers use it to mutate fields of a task
// they own without racing external queue-management calls.
func (q *Queue[T]) Do(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

// Snapshot returns deep copies of the current ordering. Callers read the
// copies without holding the queue lock; the live task stays with the worker
// that claimed it.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	for i, t := range q.items {
		out[i] = t.Clone()
	}
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Counts aggregates task statuses for the read-only status snapshot.
func (q *Queue[T]) Counts() domain.QueueCounts {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := domain.QueueCounts{Total: len(q.items)}
	for _, t := range q.items {
		switch t.GetStatus() {
		case domain.Pending:
			c.Pending++
		case domain.Running:
			c.Running++
		case domain.Completed:
			c.Completed++
		case domain.Failed:
			c.Failed++
		case domain.Skipped:
			c.Skipped++
		}
	}
	return c
}

// RemoveByID drops every task with the given persistent id.
func (q *Queue[T]) RemoveByID(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, t := range q.items {
		if t.GetID() != id {
			kept = append(kept, t)
		}
	}
	q.items = kept
}

// Reorder rewrites the queue to contain exactly the named ids in the given
// order. Ids not present in the queue are ignored; queued tasks omitted from
// the list are dropped. A task already claimed by the worker is unaffected
// beyond its queue membership.
func (q *Queue[T]) Reorder(orderedIDs []int64) {
	q.mu.Lock()
	byID := make(map[int64]T, len(q.items))
	for _, t := range q.items {
		if t.GetID() != 0 {
			byID[t.GetID()] = t
		}
	}
	next := make([]T, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		if t, ok := byID[id]; ok {
			next = append(next, t)
		}
	}
	q.items = next
	q.mu.Unlock()
	q.notify()
}

// Clear removes tasks matching status, or everything when status is empty,
// and returns the number removed.
func (q *Queue[T]) Clear(status domain.TaskStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if status == "" {
		n := len(q.items)
		q.items = nil
		return n
	}
	kept := q.items[:0]
	removed := 0
	for _, t := range q.items {
		if t.GetStatus() == status {
			removed++
		} else {
			kept = append(kept, t)
		}
	}
	q.items = kept
	return removed
}

// Find returns the first task for which match returns true.
func (q *Queue[T]) Find(match func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.items {
		if match(t) {
			return t, true
		}
	}
	var zero T
	return zero, false
}
