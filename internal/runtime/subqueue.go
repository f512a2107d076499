package runtime

import (
	"sync"
)

// SubQueue is an unbounded FIFO drained by a single dispatcher goroutine into a
// buffered channel. Producers never block on a slow consumer; the consumer sees
// items strictly in enqueue order.
//
// A new queue starts paused so a subscriber's snapshot can be written with
// SendDirect before any queued live item is released.
type SubQueue[T any] struct {
	mu      sync.Mutex
	wake    *sync.Cond
	pending []T
	paused  bool
	closed  bool

	out chan T
}

// NewSubQueue returns a paused queue whose output channel holds outBuf items.
func NewSubQueue[T any](outBuf int) *SubQueue[T] {
	q := &SubQueue[T]{
		out:    make(chan T, outBuf),
		paused: true,
	}
	q.wake = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// Chan is closed once the queue is closed and the dispatcher has exited.
func (q *SubQueue[T]) Chan() <-chan T { return q.out }

// Enqueue appends v and reports false if the queue was already closed.
func (q *SubQueue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, v)
	q.wake.Signal()
	return true
}

// Len returns the number of items not yet handed to the output channel.
func (q *SubQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *SubQueue[T]) SetPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
	q.wake.Broadcast()
}

// SendDirect writes v straight to the output channel. Only valid while the
// queue is paused and the channel has room for it.
func (q *SubQueue[T]) SendDirect(v T) {
	q.out <- v
}

// Close discards pending items and closes the output channel once the
// dispatcher notices. Safe to call more than once.
func (q *SubQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
	q.wake.Broadcast()
}

// next blocks until an item may be dispatched. ok is false once closed.
func (q *SubQueue[T]) next() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && (q.paused || len(q.pending) == 0) {
		q.wake.Wait()
	}
	if q.closed {
		return v, false
	}
	v = q.pending[0]
	var zero T
	q.pending[0] = zero
	q.pending = q.pending[1:]
	return v, true
}

func (q *SubQueue[T]) dispatch() {
	defer close(q.out)
	for {
		v, ok := q.next()
		if !ok {
			return
		}
		q.out <- v
	}
}
