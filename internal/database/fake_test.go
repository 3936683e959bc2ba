package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
	// broken marks a handle the driver gave up on, e.g. after a timeout
	broken atomic.Bool
}

// fakeBackend records every hook call and lets tests script failures
type fakeBackend struct {
	mu sync.Mutex

	// failConnectAt fails the n-th connect, 1-based
	failConnectAt int
	// connectGate, when set, holds every connect until it is closed
	connectGate chan struct{}
	execFn        func(ctx context.Context, conn *fakeConn, query string) (*Result, error)
	beginErr      error
	commitErr     error
	rollbackErr   error

	connects  int
	execs     int
	begins    int
	commits   int
	rollbacks int
	closes    int

	inflight atomic.Int32
	peak     atomic.Int32
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) PingQuery() string { return "SELECT 1" }

func (b *fakeBackend) Connect(ctx context.Context, cfg ConnectionConfig) (*fakeConn, error) {
	if b.connectGate != nil {
		select {
		case <-b.connectGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.connects++
	if b.failConnectAt > 0 && b.connects == b.failConnectAt {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{id: b.connects}, nil
}

func (b *fakeBackend) Execute(ctx context.Context, conn *fakeConn, query string, params []any) (*Result, error) {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	b.mu.Lock()
	b.execs++
	fn := b.execFn
	b.mu.Unlock()

	if conn.closed.Load() || conn.broken.Load() {
		return nil, errors.New("conn closed")
	}
	if fn != nil {
		return fn(ctx, conn, query)
	}
	return &Result{Columns: []string{"n"}, Rows: [][]any{{1}}, RowCount: 1}, nil
}

func (b *fakeBackend) Begin(context.Context, *fakeConn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.begins++
	return b.beginErr
}

func (b *fakeBackend) Commit(context.Context, *fakeConn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commits++
	return b.commitErr
}

func (b *fakeBackend) Rollback(context.Context, *fakeConn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollbacks++
	return b.rollbackErr
}

func (b *fakeBackend) Close(conn *fakeConn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	conn.closed.Store(true)
	return nil
}

func (b *fakeBackend) Alive(conn *fakeConn) bool {
	return !conn.closed.Load() && !conn.broken.Load()
}

func (b *fakeBackend) counts() (connects, execs, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.execs, b.closes
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sleepRecorder records backoff delays without waiting
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConfig() ConnectionConfig {
	cfg := DefaultConnectionConfig()
	cfg.Host = "db.test"
	cfg.Port = 5432
	cfg.Database = "app"
	return cfg
}

func newTestClient(t *testing.T, b *fakeBackend, cfg ConnectionConfig, opts ...Option) *Client[*fakeConn] {
	t.Helper()

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := NewClient[*fakeConn](cfg, b, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}
