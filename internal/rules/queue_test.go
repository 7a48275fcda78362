// internal/rules/queue_test.go
package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/bidkeeper/internal/types"
)

func TestDispatchQueue_FIFO(t *testing.T) {
	q := newDispatchQueue(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, &types.Event{ID: types.EventID(i)}))
	}
	assert.Equal(t, 3, q.Len())

	never := make(chan struct{})
	for i := 0; i < 3; i++ {
		ev, ok := q.Pop(never)
		require.True(t, ok)
		assert.Equal(t, types.EventID(i), ev.ID)
	}
}

func TestDispatchQueue_TryPushFull(t *testing.T) {
	q := newDispatchQueue(2)

	require.NoError(t, q.TryPush(&types.Event{ID: 1}))
	require.NoError(t, q.TryPush(&types.Event{ID: 2}))

	err := q.TryPush(&types.Event{ID: 3})
	assert.ErrorIs(t, err, types.ErrQueueFull)
	assert.Equal(t, 2, q.Len(), "queue must not grow beyond capacity")
}

func TestDispatchQueue_PushBlocksWhenFull(t *testing.T) {
	q := newDispatchQueue(1)
	require.NoError(t, q.Push(context.Background(), &types.Event{ID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := q.Push(ctx, &types.Event{ID: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "push should have blocked")
	assert.Equal(t, 1, q.Len())
}

func TestDispatchQueue_PushUnblocksOnPop(t *testing.T) {
	q := newDispatchQueue(1)
	require.NoError(t, q.Push(context.Background(), &types.Event{ID: 1}))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(context.Background(), &types.Event{ID: 2})
	}()

	select {
	case err := <-pushed:
		t.Fatalf("push returned %v before a slot was freed", err)
	case <-time.After(20 * time.Millisecond):
	}

	ev, ok := q.Pop(make(chan struct{}))
	require.True(t, ok)
	assert.Equal(t, types.EventID(1), ev.ID)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after pop")
	}
}

func TestDispatchQueue_CloseDrains(t *testing.T) {
	q := newDispatchQueue(4)
	require.NoError(t, q.TryPush(&types.Event{ID: 1}))
	require.NoError(t, q.TryPush(&types.Event{ID: 2}))

	q.Close()
	q.Close() // idempotent

	assert.ErrorIs(t, q.TryPush(&types.Event{ID: 3}), types.ErrQueueClosed)
	assert.ErrorIs(t, q.Push(context.Background(), &types.Event{ID: 3}), types.ErrQueueClosed)

	never := make(chan struct{})
	ev, ok := q.Pop(never)
	require.True(t, ok)
	assert.Equal(t, types.EventID(1), ev.ID)
	ev, ok = q.Pop(never)
	require.True(t, ok)
	assert.Equal(t, types.EventID(2), ev.ID)

	_, ok = q.Pop(never)
	assert.False(t, ok, "closed and drained queue must report done")
}

func TestDispatchQueue_PopAbort(t *testing.T) {
	q := newDispatchQueue(1)
	abort := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = q.Pop(abort)
	}()

	close(abort)
	wg.Wait()
	assert.False(t, ok)
}

func TestDispatchQueue_CloseReleasesBlockedPush(t *testing.T) {
	q := newDispatchQueue(1)
	require.NoError(t, q.TryPush(&types.Event{ID: 1}))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(context.Background(), &types.Event{ID: 2})
	}()
	time.Sleep(10 * time.Millisecond)

	// Nobody drains: Close must still return and fail the blocked push.
	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pusher waiting on a full queue")
	}
	require.ErrorIs(t, <-pushed, types.ErrQueueClosed)

	never := make(chan struct{})
	ev, ok := q.Pop(never)
	require.True(t, ok)
	assert.Equal(t, types.EventID(1), ev.ID)
	_, ok = q.Pop(never)
	assert.False(t, ok)
}
