package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	l := New(1000, 2)

	_, err := l.Acquire(ctx)
	require.NoError(t, err)
	_, err = l.Acquire(ctx)
	require.NoError(t, err)

	// Third acquirer must block until a slot frees up.
	admitted := make(chan struct{})
	go func() {
		_, err := l.Acquire(ctx)
		assert.NoError(t, err)
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("third caller admitted past the concurrency bound")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("third caller never admitted after release")
	}
	l.Release()
	l.Release()
}

func TestThroughputWindow(t *testing.T) {
	ctx := context.Background()
	l := New(3, 10, WithWindow(200*time.Millisecond))

	start := time.Now()
	for i := 0; i < 6; i++ {
		_, err := l.Acquire(ctx)
		require.NoError(t, err)
		l.Release()
	}
	// 6 admissions at 3 per window need at least one full window of waiting.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	l := New(1000, 1)
	_, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}

	// The cancelled waiter must not leak its slot.
	l.Release()
	_, err = l.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()
}

func TestQueueSizeReportsWaiters(t *testing.T) {
	ctx := context.Background()
	l := New(1000, 1)

	queued, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)

	var started sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < 3; i++ {
		started.Add(1)
		go func() {
			started.Done()
			if _, err := l.Acquire(ctx); err == nil {
				admitted.Add(1)
				l.Release()
			}
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, l.QueueSize())

	l.Release()
	require.Eventually(t, func() bool { return admitted.Load() == 3 },
		2*time.Second, 10*time.Millisecond)
	assert.Zero(t, l.QueueSize())
}
