// Package bufxchange implements a bounded, typed producer/consumer queue
// used to hand data buffers from a fetch worker to the HTTP response loop
// that streams them to a client.
//
// Ordering is FIFO except for items returned through Untake, which land
// back at the head (LIFO relative to the head) so a consumer that only
// partially drained a buffer can push the remainder back for the next
// Take. Any number of producers and consumers may share one queue; a
// single mutex plus two condition variables (not-empty, not-full) guard
// it.
package bufxchange

import (
	"errors"
	"sync"
	"time"
)

// ErrTerminated is returned by Put/Take once the queue has been shut down.
var ErrTerminated = errors.New("bufxchange: queue terminated")

// ErrTimeout is returned by Take when no item became available before the
// deadline.
var ErrTimeout = errors.New("bufxchange: take timed out")

// Queue is a bounded FIFO of items of type T, plus a bounded free-list that
// producers can draw from to avoid allocating a fresh buffer per item.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items []T
	cap   int

	free    []T
	freeCap int

	terminated bool

	doneOnce sync.Once
	doneCh   chan struct{}
}

// New creates a queue bounded at capacity items, with a free-list bounded
// at freeCap items.
func New[T any](capacity, freeCap int) *Queue[T] {
	q := &Queue[T]{
		cap:     capacity,
		freeCap: freeCap,
		doneCh:  make(chan struct{}),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put appends an item, blocking while the queue is full. It returns
// ErrTerminated if the queue has been (or becomes, while blocked) shut
// down.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.cap && !q.terminated {
		q.notFull.Wait()
	}
	if q.terminated {
		return ErrTerminated
	}
	q.items = append(q.items, item)
	q.notEmpty.Broadcast()
	return nil
}

// Take blocks until an item is available, the timeout elapses, or the
// queue is terminated. A non-positive timeout blocks indefinitely.
func (q *Queue[T]) Take(timeout time.Duration) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for len(q.items) == 0 && !q.terminated {
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				var zero T
				return zero, ErrTimeout
			}
			timer := time.AfterFunc(remaining, func() {
				q.mu.Lock()
				q.notEmpty.Broadcast()
				q.mu.Unlock()
			})
			q.notEmpty.Wait()
			timer.Stop()
		} else {
			q.notEmpty.Wait()
		}
	}

	if len(q.items) == 0 {
		var zero T
		return zero, ErrTerminated
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Broadcast()
	return item, nil
}

// Untake pushes item back onto the head of the queue; the next Take call
// returns it before anything already waiting in line.
func (q *Queue[T]) Untake(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]T{item}, q.items...)
	q.notEmpty.Broadcast()
}

// Recycle hands item to the internal free-list for reuse by a producer.
// Excess items beyond freeCap are silently discarded.
func (q *Queue[T]) Recycle(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.free) >= q.freeCap {
		return
	}
	q.free = append(q.free, item)
}

// GetFree pulls one item from the free-list, if any is available.
func (q *Queue[T]) GetFree() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.free) == 0 {
		var zero T
		return zero, false
	}
	item := q.free[len(q.free)-1]
	q.free = q.free[:len(q.free)-1]
	return item, true
}

// MarkProducerDone signals that the producer side has fully stopped after
// observing termination. SetTerminateAndWait blocks until this is called.
// Safe to call more than once.
func (q *Queue[T]) MarkProducerDone() {
	q.doneOnce.Do(func() { close(q.doneCh) })
}

// SetTerminateAndWait marks the queue shut down, wakes every blocked
// Put/Take caller, then waits for the producer to acknowledge exit via
// MarkProducerDone. Idempotent: safe to call from multiple goroutines or
// more than once.
func (q *Queue[T]) SetTerminateAndWait() {
	q.mu.Lock()
	q.terminated = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
	<-q.doneCh
}

// Terminated reports whether the queue has been shut down.
func (q *Queue[T]) Terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminated
}
