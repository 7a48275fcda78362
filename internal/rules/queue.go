// internal/rules/queue.go
package rules

import (
	"context"
	"sync"

	"github.com/solatis/bidkeeper/internal/types"
)

// dispatchQueue is a bounded FIFO of pending events between producers and workers.
//
// The buffered channel carries ordering and blocking semantics. The RWMutex
// only guards closing: pushers hold the read lock while sending, so Close
// (write lock) cannot close the channel under an in-flight send. Close first
// closes closing, which releases pushers blocked on a full queue, so it never
// waits on workers to drain.
type dispatchQueue struct {
	mu      sync.RWMutex
	closed  bool
	events  chan *types.Event
	closing chan struct{}
	once    sync.Once
}

// newDispatchQueue creates an empty queue holding at most capacity events.
func newDispatchQueue(capacity int) *dispatchQueue {
	return &dispatchQueue{
		events:  make(chan *types.Event, capacity),
		closing: make(chan struct{}),
	}
}

// Push enqueues ev, blocking while the queue is full.
// Returns ctx.Err() if ctx ends first and ErrQueueClosed once closed.
func (q *dispatchQueue) Push(ctx context.Context, ev *types.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return types.ErrQueueClosed
	}

	select {
	case q.events <- ev:
		return nil
	case <-q.closing:
		return types.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues ev without blocking. Returns ErrQueueFull when no slot is free.
func (q *dispatchQueue) TryPush(ev *types.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return types.ErrQueueClosed
	}

	select {
	case q.events <- ev:
		return nil
	default:
		return types.ErrQueueFull
	}
}

// Pop removes the oldest event, blocking until one is available.
// Returns (nil, false) once the queue is closed and drained, or when abort is closed.
func (q *dispatchQueue) Pop(abort <-chan struct{}) (*types.Event, bool) {
	select {
	case <-abort:
		return nil, false
	default:
	}

	select {
	case ev, ok := <-q.events:
		return ev, ok
	case <-abort:
		return nil, false
	}
}

// Close stops accepting events. Already queued events remain poppable.
// Safe to call more than once.
func (q *dispatchQueue) Close() {
	q.once.Do(func() { close(q.closing) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.events)
}

// Len returns the number of queued events.
func (q *dispatchQueue) Len() int {
	return len(q.events)
}
