package pipeline

import (
	"sync"

	"github.com/kilianp07/fleetpulse/core/model"
)

// Queue is the pending-update buffer shared by producers and the flush loop.
type Queue struct {
	mu       sync.Mutex
	items    []model.LocationUpdate
	capacity int
	closed   bool
}

// NewQueue returns an empty queue preallocated for capacity updates.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{items: make([]model.LocationUpdate, 0, capacity), capacity: capacity}
}

// Push appends u. It never blocks on the consumer and returns ErrClosed once
// Close was called.
func (q *Queue) Push(u model.LocationUpdate) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, u)
	return nil
}

// Close rejects further pushes. Items already queued stay drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Drain swaps the pending slice for a fresh one and returns the old one in
// FIFO order.
func (q *Queue) Drain() []model.LocationUpdate {
	q.mu.Lock()
	out := q.items
	q.items = make([]model.LocationUpdate, 0, q.capacity)
	q.mu.Unlock()
	return out
}

// Len returns the number of pending updates.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
