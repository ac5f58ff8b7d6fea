// Package queue hands work from other goroutines to the tick loop.
package queue

import (
	"sync"
)

// Queue is a FIFO safe for concurrent use. With a positive limit, items
// pushed onto a full queue are dropped and counted.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped int
}

// New creates an empty queue holding at most limit items. A limit of 0
// means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends items and returns how many were accepted.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(items)
	if q.limit > 0 {
		n = min(n, q.limit-len(q.items))
	}
	q.items = append(q.items, items[:n]...)
	q.dropped += len(items) - n
	return n
}

// Pop removes the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of items rejected because the queue was full.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain removes and returns all queued items in order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
