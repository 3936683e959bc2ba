package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingCloser counts closed handles
type countingCloser struct {
	closed atomic.Int32
}

func (c *countingCloser) close(int) error {
	c.closed.Add(1)
	return nil
}

func newTestPool(t *testing.T, minSize, maxSize int) (*Pool[int], *countingCloser) {
	closer := &countingCloser{}
	return NewPool[int](minSize, maxSize, closer.close, zaptest.NewLogger(t)), closer
}

func assertPoolInvariant(t *testing.T, s PoolStats) {
	t.Helper()
	assert.GreaterOrEqual(t, s.Size, 0)
	assert.LessOrEqual(t, s.Size, s.MaxSize)
	assert.LessOrEqual(t, s.Active, s.Size)
	assert.Equal(t, s.Size, s.Active+s.Available)
}

func TestPoolAddRespectsMaxSize(t *testing.T) {
	pool, _ := newTestPool(t, 1, 2)

	require.NoError(t, pool.Add(1))
	require.NoError(t, pool.Add(2))

	err := pool.Add(3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolMaxSize)
	assert.True(t, IsConnectionError(err))

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, int64(2), stats.Created)
	assertPoolInvariant(t, stats)
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, 1, 2)
	require.NoError(t, pool.Add(7))

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, lease.Conn())

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 0, stats.Available)
	assertPoolInvariant(t, stats)

	lease.Release()
	lease.Release()

	stats = pool.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Available)
	assertPoolInvariant(t, stats)
}

func TestPoolAcquireTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1)
	require.NoError(t, pool.Add(1))

	held, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = pool.Acquire(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Failed)
	assertPoolInvariant(t, stats)
}

func TestPoolAcquireContext(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1)
	require.NoError(t, pool.Add(1))
	held, err := pool.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release()

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := pool.Acquire(ctx, 0)
		assert.Equal(t, CodeAcquireCancelled, CodeOf(err))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := pool.Acquire(ctx, time.Minute)
		assert.ErrorIs(t, err, ErrPoolTimeout)
	})

	assertPoolInvariant(t, pool.Stats())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const maxSize = 3
	pool, _ := newTestPool(t, maxSize, maxSize)
	for i := 0; i < maxSize; i++ {
		require.NoError(t, pool.Add(i))
	}

	var inflight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(context.Background(), 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer lease.Release()

			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inflight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxSize))
	stats := pool.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, maxSize, stats.Available)
	assertPoolInvariant(t, stats)
}

func TestPoolWithReleasesOnError(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1)
	require.NoError(t, pool.Add(1))

	boom := errors.New("boom")
	err := pool.With(context.Background(), time.Second, func(context.Context, int) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Available)
}

func TestPoolAcquireGrowsWithFactory(t *testing.T) {
	var next atomic.Int32
	pool := NewPool[int](0, 2, nil, zaptest.NewLogger(t),
		WithFactory(func(context.Context) (int, error) {
			return int(next.Add(1)), nil
		}))

	first, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.Conn(), second.Conn())

	// At max size the third caller waits instead of growing
	_, err = pool.Acquire(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrPoolTimeout)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Created)
	assert.Equal(t, int32(2), next.Load())

	first.Release()
	second.Release()
	assertPoolInvariant(t, pool.Stats())
}

func TestLeaseDiscard(t *testing.T) {
	pool, closer := newTestPool(t, 1, 2)
	require.NoError(t, pool.Add(1))

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	lease.Discard()
	// Discard after discard, and release after discard, do nothing
	lease.Discard()
	lease.Release()

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), stats.Discarded)
	assert.Equal(t, int32(1), closer.closed.Load())
	assertPoolInvariant(t, stats)

	// The freed slot can be filled again
	require.NoError(t, pool.Grow(context.Background(), func(context.Context) (int, error) {
		return 2, nil
	}))
	lease, err = pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, lease.Conn())
	lease.Release()
}

func TestPoolValidatorDropsDeadHandles(t *testing.T) {
	var dead sync.Map
	closer := &countingCloser{}
	pool := NewPool[int](0, 2, closer.close, zaptest.NewLogger(t),
		WithValidator(func(conn int) bool {
			_, gone := dead.Load(conn)
			return !gone
		}))
	require.NoError(t, pool.Add(1))
	require.NoError(t, pool.Add(2))

	first, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	dead.Store(first.Conn(), true)
	first.Release()
	second.Release()

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, int64(1), stats.Discarded)
	assert.Equal(t, int32(1), closer.closed.Load())
	assertPoolInvariant(t, stats)

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.Conn(), lease.Conn())
	lease.Release()
}

func TestPoolGrowConcurrent(t *testing.T) {
	pool, _ := newTestPool(t, 0, 4)

	var next atomic.Int32
	factory := func(context.Context) (int, error) {
		time.Sleep(time.Millisecond)
		return int(next.Add(1)), nil
	}

	var wg sync.WaitGroup
	var full atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Grow(context.Background(), factory); err != nil {
				assert.ErrorIs(t, err, ErrPoolMaxSize)
				full.Add(1)
			}
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	assert.Equal(t, 4, stats.Size)
	assert.Equal(t, int64(4), stats.Created)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, int32(16), full.Load())
	assert.Equal(t, int32(4), next.Load())
	assertPoolInvariant(t, stats)
}

func TestPoolGrowFailure(t *testing.T) {
	pool, _ := newTestPool(t, 0, 2)

	boom := errors.New("refused")
	err := pool.Grow(context.Background(), func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPoolClose(t *testing.T) {
	pool, closer := newTestPool(t, 2, 2)
	require.NoError(t, pool.Add(1))
	require.NoError(t, pool.Add(2))

	held, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	assert.Equal(t, int32(1), closer.closed.Load())

	// Checked out handles are closed by whoever gives them back
	held.Release()
	assert.Equal(t, int32(2), closer.closed.Load())

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Size)
	assertPoolInvariant(t, stats)

	require.NoError(t, pool.Close())
	assert.Equal(t, int32(2), closer.closed.Load())

	_, err = pool.Acquire(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, pool.Add(3), ErrPoolClosed)

	_, ok := pool.TryAcquire()
	assert.False(t, ok)
}

func TestPoolCloseWakesWaiters(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1)
	require.NoError(t, pool.Add(1))
	held, err := pool.Acquire(context.Background(), 0)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pool.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Close")
	}
	held.Release()
}

func TestPoolCloseJoinsErrors(t *testing.T) {
	boom := errors.New("close failed")
	pool := NewPool[int](0, 2, func(int) error { return boom }, zaptest.NewLogger(t))
	require.NoError(t, pool.Add(1))
	require.NoError(t, pool.Add(2))

	err := pool.Close()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.Stats().Size)
}
