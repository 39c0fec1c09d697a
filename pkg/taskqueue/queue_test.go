package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blocker returns an operation that waits for release and then returns value.
func blocker(started chan<- struct{}, release <-chan struct{}, value any) Operation {
	return func(ctx context.Context) (any, error) {
		if started != nil {
			close(started)
		}
		<-release
		return value, nil
	}
}

func TestProcessor_BasicEnqueue(t *testing.T) {
	p := New("test")
	defer p.Destroy()

	result, err := p.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return "result", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestProcessor_OperationError(t *testing.T) {
	p := New("test")
	defer p.Destroy()

	expectedErr := errors.New("operation failed")
	result, err := p.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return nil, expectedErr
	})

	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)
}

func TestProcessor_FIFOOrder(t *testing.T) {
	p := New("ordered")
	defer p.Destroy()

	ctx := context.Background()
	var mu sync.Mutex
	var order []int
	var running int32
	var overlap atomic.Bool

	handles := make([]*Pending, 0, 20)
	for i := 0; i < 20; i++ {
		i := i
		handles = append(handles, p.Submit(ctx, func(ctx context.Context) (any, error) {
			if atomic.AddInt32(&running, 1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return i, nil
		}))
	}

	for i, h := range handles {
		v, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	mu.Lock()
	defer mu.Unlock()
	expected := make([]int, 20)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
	assert.False(t, overlap.Load(), "operations overlapped")
}

func TestProcessor_FailureIsolation(t *testing.T) {
	p := New("isolation")
	defer p.Destroy()

	ctx := context.Background()
	boom := errors.New("boom")

	first := p.Submit(ctx, func(ctx context.Context) (any, error) { return nil, boom })
	second := p.Submit(ctx, func(ctx context.Context) (any, error) { panic("kaboom") })
	third := p.Submit(ctx, func(ctx context.Context) (any, error) { return "still running", nil })

	_, err := first.Wait(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = second.Wait(ctx)
	assert.ErrorIs(t, err, ErrOperationPanicked)
	assert.Contains(t, err.Error(), "kaboom")

	v, err := third.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still running", v)
}

func TestProcessor_Destroy(t *testing.T) {
	p := New("destroy")
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	inflight := p.Submit(ctx, blocker(started, release, "finished"))
	<-started

	var ran atomic.Bool
	queued := []*Pending{
		p.Submit(ctx, func(ctx context.Context) (any, error) { ran.Store(true); return nil, nil }),
		p.Submit(ctx, func(ctx context.Context) (any, error) { ran.Store(true); return nil, nil }),
	}
	assert.Equal(t, 2, p.Pending())

	p.Destroy()
	p.Destroy()
	assert.True(t, p.IsDestroyed())
	assert.Equal(t, 0, p.Pending())

	for _, h := range queued {
		_, err := h.Wait(ctx)
		assert.ErrorIs(t, err, ErrQueueDestroyed)
	}

	_, err := p.Enqueue(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrQueueDestroyed)

	close(release)
	v, err := inflight.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "finished", v)
	assert.False(t, ran.Load())
}

func TestProcessor_Clear(t *testing.T) {
	p := New("clear")
	defer p.Destroy()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	inflight := p.Submit(ctx, blocker(started, release, "first"))
	<-started

	queued := p.Submit(ctx, func(ctx context.Context) (any, error) { return "never", nil })
	assert.True(t, p.IsProcessing())

	assert.Equal(t, 1, p.Clear())
	_, err := queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrQueueCleared)

	close(release)
	v, err := inflight.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = p.Enqueue(ctx, func(ctx context.Context) (any, error) { return "after clear", nil })
	require.NoError(t, err)
	assert.Equal(t, "after clear", v)
	assert.False(t, p.IsDestroyed())
}

func TestProcessor_IdleAfterDrain(t *testing.T) {
	p := New("idle")
	defer p.Destroy()

	_, err := p.Enqueue(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !p.IsProcessing() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Pending())
}

func TestProcessor_CancelledCallerSkipsOperation(t *testing.T) {
	p := New("cancel")
	defer p.Destroy()

	started := make(chan struct{})
	release := make(chan struct{})
	p.Submit(context.Background(), blocker(started, release, nil))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	h := p.Submit(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled operation never settled")
	}
	assert.False(t, ran.Load())
}
