// Package cbq implements an unbounded, multi-producer multi-consumer FIFO
// queue (component F) whose blocking Get honors a caller-supplied deadline.
//
// The handoff between Put and a blocked Get is guarded by a single
// non-reentrant mutex: whichever goroutine holds it is the only one ever
// pairing a buffered item against a waiting consumer or appending to the
// buffer, which is exactly the "single-flight critical section" the
// consuming side needs — no two goroutines ever race to hand the same item
// to two different waiters. An atomic counter mirrors the buffered length so
// Size never contends with that lock.
package cbq

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/relayq/relayq/item"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxWaiters bounds the number of concurrently blocked Get calls, so
// an unbounded flood of slow consumers can't spin up an unbounded number of
// live timers. Exceeding it makes Get return immediately as if its deadline
// had already elapsed.
const DefaultMaxWaiters = 100_000

const (
	waiterPending int32 = iota
	waiterFulfilled
	waiterCancelled
)

// waiter is a single-assignment cell: exactly one of a delivering Put and an
// expiring Get ever wins the CAS that decides its fate.
type waiter struct {
	state int32
	ch    chan item.Item
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan item.Item, 1)}
}

// Queue is a durable-agnostic in-memory FIFO; relayq's journaled queue pairs
// one of these per reader to hold items that are known-undelivered.
type Queue struct {
	name string

	mu      sync.Mutex
	items   *list.List // of item.Item
	waiters *list.List // of *waiter
	size    int32      // atomic, mirrors items.Len()

	waiterSem *semaphore.Weighted
}

// New returns an empty queue. maxWaiters bounds concurrently blocked Get
// calls; zero or negative selects DefaultMaxWaiters.
func New(name string, maxWaiters int64) *Queue {
	if maxWaiters <= 0 {
		maxWaiters = DefaultMaxWaiters
	}
	return &Queue{
		name:      name,
		items:     list.New(),
		waiters:   list.New(),
		waiterSem: semaphore.NewWeighted(maxWaiters),
	}
}

// Put enqueues it, waking the longest-waiting blocked Get if one exists.
// Put never blocks.
func (q *Queue) Put(it item.Item) {
	q.put(it, false)
}

// PutFront re-queues it ahead of everything already buffered, used to return
// an aborted open read to the front of the line, ahead of freshly put items.
func (q *Queue) PutFront(it item.Item) {
	q.put(it, true)
}

func (q *Queue) put(it item.Item, front bool) {
	for {
		q.mu.Lock()
		w := q.waiters.Front()
		if w == nil {
			if front {
				q.items.PushFront(it)
			} else {
				q.items.PushBack(it)
			}
			atomic.AddInt32(&q.size, 1)
			q.mu.Unlock()
			return
		}
		q.waiters.Remove(w)
		q.mu.Unlock()

		wt := w.Value.(*waiter)
		if atomic.CompareAndSwapInt32(&wt.state, waiterPending, waiterFulfilled) {
			wt.ch <- it
			return
		}
		// Lost the race to a Get that was simultaneously cancelling; that
		// waiter is no longer anyone's responsibility. Try the next one.
	}
}

// Poll returns a buffered item without blocking. The second return value is
// false if the queue is currently empty.
func (q *Queue) Poll() (item.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return item.Item{}, false
	}
	q.items.Remove(front)
	atomic.AddInt32(&q.size, -1)
	return front.Value.(item.Item), true
}

// Get blocks until an item is available or ctx is done, whichever comes
// first. A false return means ctx ended before an item arrived.
func (q *Queue) Get(ctx context.Context) (item.Item, bool) {
	if it, ok := q.Poll(); ok {
		return it, true
	}

	if !q.waiterSem.TryAcquire(1) {
		return item.Item{}, false
	}
	defer q.waiterSem.Release(1)

	w := newWaiter()
	q.mu.Lock()
	// Re-check under the lock: a Put may have landed between Poll's miss
	// and here.
	if front := q.items.Front(); front != nil {
		q.items.Remove(front)
		atomic.AddInt32(&q.size, -1)
		q.mu.Unlock()
		return front.Value.(item.Item), true
	}
	elem := q.waiters.PushBack(w)
	q.mu.Unlock()

	select {
	case it := <-w.ch:
		return it, true
	case <-ctx.Done():
		if atomic.CompareAndSwapInt32(&w.state, waiterPending, waiterCancelled) {
			q.mu.Lock()
			q.waiters.Remove(elem)
			q.mu.Unlock()
			return item.Item{}, false
		}
		// A Put already claimed this waiter and is sending (or has sent).
		return <-w.ch, true
	}
}

// GetDeadline is a convenience wrapper around Get for callers working in
// absolute deadlines rather than contexts.
func (q *Queue) GetDeadline(deadline time.Time) (item.Item, bool) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return q.Get(ctx)
}

// Size returns the number of buffered (undelivered) items.
func (q *Queue) Size() int {
	return int(atomic.LoadInt32(&q.size))
}

// ToDebug renders a human-readable one-line summary.
func (q *Queue) ToDebug() string {
	q.mu.Lock()
	waiting := q.waiters.Len()
	var oldest time.Time
	if front := q.items.Front(); front != nil {
		oldest = time.UnixMilli(front.Value.(item.Item).AddTimeMS)
	}
	q.mu.Unlock()

	size := q.Size()
	if size == 0 {
		return fmt.Sprintf("cbq[%s]: empty, %s blocked", q.name, humanize.Comma(int64(waiting)))
	}
	return fmt.Sprintf("cbq[%s]: %s buffered (oldest %s), %s blocked",
		q.name, humanize.Comma(int64(size)), humanize.Time(oldest), humanize.Comma(int64(waiting)))
}
