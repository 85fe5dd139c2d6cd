package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesWork(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)

	p := New(2, 16, func(_ context.Context, n int) error {
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)

	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Dropped)
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	p := New(1, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, p.Submit(1), ErrNotStarted)
}

func TestPoolSubmitAfterStop(t *testing.T) {
	p := New(1, 1, func(context.Context, int) error { return nil })
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrStopped)
}

func TestPoolQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	block := make(chan struct{})
	p := New(1, 1, func(_ context.Context, _ int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	// First item occupies the worker, second fills the single queue slot.
	require.NoError(t, p.Submit(1))
	<-started
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)

	close(block)
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPoolCountsFailures(t *testing.T) {
	p := New(1, 4, func(_ context.Context, fail bool) error {
		if fail {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(true))
	require.NoError(t, p.Submit(false))
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPoolStopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := New(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))

	assert.ErrorIs(t, p.Stop(50*time.Millisecond), ErrStopTimeout)
}

func TestPoolSubmitDuringStop(t *testing.T) {
	p := New(2, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Submissions racing Stop either enqueue or return an
			// error; they must never send on the closed queue.
			for j := 0; j < 100; j++ {
				err := p.Submit(j)
				if errors.Is(err, ErrStopped) {
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, p.Stop(time.Second))
	wg.Wait()
}

func TestPoolDefaults(t *testing.T) {
	p := New(0, 0, func(context.Context, int) error { return nil })
	assert.Positive(t, p.Stats().Workers)
	assert.Positive(t, cap(p.queue))
}
