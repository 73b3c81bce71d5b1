// Package workqueue implements the bounded single-producer,
// multi-consumer ring buffer the accept loop feeds and the worker
// pool drains (§4.G). head and tail are monotonically increasing
// 64-bit counters; the live index into the backing array is always
// counter mod capacity, so neither counter ever needs to "wrap
// logically."
//
// Push is lock-free and single-producer only: only the accept loop
// may call it. Pop is lock-free and safe for any number of concurrent
// consumers, each claiming a slot with a compare-and-swap on head. A
// mutex+condvar pair exists solely so idle consumers can park instead
// of spinning; it is never on the push/pop hot path.
package workqueue

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// Queue is the bounded ring described in §4.G. The zero value is not
// usable; construct with New.
type Queue struct {
	buf      []net.Conn
	capacity uint64
	mask     uint64

	head atomic.Uint64 // next index to pop
	tail atomic.Uint64 // next index to push

	mu       sync.Mutex
	cond     *sync.Cond
	shutdown atomic.Bool
}

// New creates a Queue with the given capacity, which must be a power
// of two (so that index = counter & mask replaces the modulo).
func New(capacity int) *Queue {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("workqueue: capacity must be a power of two")
	}
	q := &Queue{
		buf:      make([]net.Conn, capacity),
		capacity: uint64(capacity),
		mask:     uint64(capacity - 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Len reports the queue's current occupancy. Racy by construction
// (concurrent producers/consumers may change it immediately after the
// read); useful for metrics and tests, not for control flow.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push enqueues conn. Single-producer only: calling Push from more
// than one goroutine concurrently is a misuse of the type. Returns
// false if the queue is full, leaving it unmodified.
func (q *Queue) Push(conn net.Conn) bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail-head == q.capacity {
		// Re-read in case a consumer has since made room.
		head = q.head.Load()
		if tail-head == q.capacity {
			return false
		}
	}

	q.buf[tail&q.mask] = conn
	q.tail.Store(tail + 1)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
	return true
}

// Pop claims and removes the oldest queued item. Safe for any number
// of concurrent consumers. Returns false if the queue was empty.
func (q *Queue) Pop() (net.Conn, bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		if tail == head {
			tail = q.tail.Load()
			if tail == head {
				return nil, false
			}
		}

		item := q.buf[head&q.mask]
		if q.head.CompareAndSwap(head, head+1) {
			return item, true
		}
		// Another consumer won the race for this slot; retry.
	}
}

// WaitNotEmpty blocks until the queue is non-empty, ctx is done, or
// Shutdown has been called, whichever happens first. It returns true
// only in the first case — callers should retry Pop only when it
// returns true.
func (q *Queue) WaitNotEmpty(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head.Load() == q.tail.Load() && !q.shutdown.Load() && ctx.Err() == nil {
		q.cond.Wait()
	}
	return q.head.Load() != q.tail.Load() && !q.shutdown.Load() && ctx.Err() == nil
}

// Shutdown wakes every parked consumer; WaitNotEmpty returns false to
// all of them from now on regardless of occupancy.
func (q *Queue) Shutdown() {
	q.shutdown.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Clear sets head to tail, logically emptying the queue without
// zeroing the backing array. Intended for teardown only.
func (q *Queue) Clear() {
	q.head.Store(q.tail.Load())
}
