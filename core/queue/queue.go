// Package queue provides the unbounded FIFO used between the serial
// goroutines and the panel's polling step.
package queue

import (
	"sync"
	"time"
)

// Queue is an unbounded, first-in first-out queue safe for concurrent
// producers and consumers. Push never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends an item to the tail of the queue.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head of the queue. ok is false when the queue
// is empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Drain removes and returns every queued item in FIFO order. It returns nil
// when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Wait pops the head of the queue, waiting up to timeout for an item to
// arrive. It returns early with ok=false when done is closed.
func (q *Queue[T]) Wait(timeout time.Duration, done <-chan struct{}) (item T, ok bool) {
	if item, ok = q.Pop(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return item, false
		case <-timer.C:
			return q.Pop()
		case <-q.notify:
			if item, ok = q.Pop(); ok {
				return item, true
			}
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
