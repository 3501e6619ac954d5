package client

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull means the queue reached its capacity and the change was not
// accepted. The periodic reconciliation walk will pick the path up later.
var ErrQueueFull = errors.New("sync queue full")

// Queue is a bounded FIFO of pending changes with two guarantees: a path is
// dispatched to at most one worker at a time, and changes arriving for a
// path that is queued or in flight coalesce into a single trailing run.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	order    []string
	queued   map[string]Change
	inflight map[string]bool
	followup map[string]Change
	closed   bool
}

// NewQueue creates a queue holding at most capacity distinct paths.
func NewQueue(capacity int) *Queue {
	q := &Queue{
		capacity: capacity,
		queued:   make(map[string]Change),
		inflight: make(map[string]bool),
		followup: make(map[string]Change),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a change. A change for an already queued path replaces the
// queued one in place; a change for an in-flight path is remembered and
// re-queued when the worker finishes.
func (q *Queue) Push(ch Change) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.New("queue closed")
	}

	if q.inflight[ch.Path] {
		q.followup[ch.Path] = ch
		return nil
	}
	if _, ok := q.queued[ch.Path]; ok {
		q.queued[ch.Path] = ch
		return nil
	}
	if len(q.order) >= q.capacity {
		return ErrQueueFull
	}

	q.order = append(q.order, ch.Path)
	q.queued[ch.Path] = ch
	q.cond.Signal()
	return nil
}

// Pop blocks until a change is available and marks its path in flight. The
// caller must call Done for the path afterwards. Returns false when the
// context is cancelled or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (Change, bool) {
	// Wake the cond waiter on cancellation.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed || ctx.Err() != nil {
			return Change{}, false
		}
		if len(q.order) > 0 {
			path := q.order[0]
			q.order = q.order[1:]
			ch := q.queued[path]
			delete(q.queued, path)
			q.inflight[path] = true
			return ch, true
		}
		q.cond.Wait()
	}
}

// Done releases the in-flight mark for a path and re-queues any change that
// arrived while it was being synced.
func (q *Queue) Done(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, path)
	if ch, ok := q.followup[path]; ok {
		delete(q.followup, path)
		if len(q.order) < q.capacity {
			q.order = append(q.order, path)
			q.queued[path] = ch
			q.cond.Signal()
		}
	}
}

// Len returns the number of queued (not in-flight) paths.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close wakes all waiters; subsequent pushes fail.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
