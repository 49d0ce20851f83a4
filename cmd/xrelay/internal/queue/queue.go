// Package queue implements the unbounded FIFO that feeds pool workers.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Queue is a mutex-protected FIFO with a condition variable for blocking pops.
// Producers never block; consumers block while the queue is empty.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v at the tail and wakes one blocked consumer.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// Pop removes and returns the head, blocking while the queue is empty.
// After Close, Pop keeps returning queued items and then reports ok == false.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// re-check after every wake, Wait can return spuriously
	for q.len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.len() == 0 {
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 1024 && q.head*2 >= len(q.items) {
		// compact so the backing array does not grow forever under steady load
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

func (q *Queue[T]) len() int { return len(q.items) - q.head }

// Close stops accepting pushes and wakes every blocked consumer.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
