package database

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolStats is a point-in-time snapshot of a pool. It is meant for
// reporting only; acquire and release never consult it.
type PoolStats struct {
	Size      int   `json:"size"`
	Active    int   `json:"active"`
	Available int   `json:"available"`
	Pending   int   `json:"pending"`
	Created   int64 `json:"created"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
	MinSize   int   `json:"min_size"`
	MaxSize   int   `json:"max_size"`
}

// Pool is a bounded pool of opaque connection handles. It never looks
// inside a handle; it only closes handles and, when a validator is set,
// asks whether a returned handle is still usable.
type Pool[C any] struct {
	minSize int
	maxSize int
	closer  func(C) error
	alive   func(C) bool
	factory func(context.Context) (C, error)
	logger  *zap.Logger

	// idle has capacity maxSize so sends under mu never block
	idle chan C
	done chan struct{}

	mu        sync.Mutex
	size      int
	active    int
	available int
	pending   int
	created   int64
	failed    int64
	discarded int64
	closed    bool
}

// Lease is a handle checked out of a pool
type Lease[C any] struct {
	pool     *Pool[C]
	conn     C
	released bool
	mu       sync.Mutex
}

// PoolOption configures a Pool
type PoolOption[C any] func(*Pool[C])

// WithValidator makes release drop handles for which alive reports false
func WithValidator[C any](alive func(C) bool) PoolOption[C] {
	return func(p *Pool[C]) {
		p.alive = alive
	}
}

// WithFactory lets Acquire open a new handle when none is idle and the
// pool is below its max size
func WithFactory[C any](factory func(context.Context) (C, error)) PoolOption[C] {
	return func(p *Pool[C]) {
		p.factory = factory
	}
}

// NewPool creates an empty pool
func NewPool[C any](minSize, maxSize int, closer func(C) error, logger *zap.Logger, opts ...PoolOption[C]) *Pool[C] {
	if maxSize <= 0 {
		maxSize = 1
	}
	if minSize < 0 {
		minSize = 0
	}
	if minSize > maxSize {
		minSize = maxSize
	}
	if closer == nil {
		closer = func(C) error { return nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool[C]{
		minSize: minSize,
		maxSize: maxSize,
		closer:  closer,
		logger:  logger,
		idle:    make(chan C, maxSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add makes an externally created handle available
func (p *Pool[C]) Add(conn C) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return NewConnectionError(CodePoolClosed, "pool.add", "connection pool is closed", nil)
	}
	if p.size+p.pending >= p.maxSize {
		return NewConnectionError(CodePoolMaxSize, "pool.add", "connection pool is at max size", nil)
	}

	p.publishLocked(conn)
	return nil
}

// Grow creates one more handle with factory if there is room for it.
// The slot is reserved before factory runs, so concurrent growth can
// never overshoot the max size.
func (p *Pool[C]) Grow(ctx context.Context, factory func(context.Context) (C, error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return NewConnectionError(CodePoolClosed, "pool.grow", "connection pool is closed", nil)
	}
	if p.size+p.pending >= p.maxSize {
		p.mu.Unlock()
		return NewConnectionError(CodePoolMaxSize, "pool.grow", "connection pool is at max size", nil)
	}
	p.pending++
	p.mu.Unlock()

	conn, err := factory(ctx)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.failed++
		p.mu.Unlock()
		return err
	}
	if p.closed {
		p.mu.Unlock()
		p.closeConn(conn)
		return NewConnectionError(CodePoolClosed, "pool.grow", "connection pool is closed", nil)
	}
	p.publishLocked(conn)
	p.mu.Unlock()

	return nil
}

// publishLocked registers a new idle handle; p.mu must be held
func (p *Pool[C]) publishLocked(conn C) {
	p.size++
	p.available++
	p.created++
	p.idle <- conn
}

// Acquire checks out a handle, waiting at most timeout (no limit when
// timeout <= 0, other than ctx).
func (p *Pool[C]) Acquire(ctx context.Context, timeout time.Duration) (*Lease[C], error) {
	if p.isClosed() {
		p.recordFailure()
		return nil, NewConnectionError(CodePoolClosed, "pool.acquire", "connection pool is closed", nil)
	}

	// Fast path, so a free handle wins over an already expired ctx or timer
	select {
	case conn := <-p.idle:
		return p.checkout(conn)
	default:
	}

	if p.factory != nil {
		err := p.Grow(ctx, p.factory)
		if err != nil && !errors.Is(err, ErrPoolMaxSize) && !errors.Is(err, ErrPoolClosed) {
			p.logger.Warn("Failed to grow connection pool", zap.Error(err))
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case conn := <-p.idle:
		return p.checkout(conn)
	case <-p.done:
		p.recordFailure()
		return nil, NewConnectionError(CodePoolClosed, "pool.acquire", "connection pool is closed", nil)
	case <-expired:
		p.recordFailure()
		return nil, NewConnectionError(CodePoolTimeout, "pool.acquire",
			"timed out waiting for a connection after "+timeout.String(), nil)
	case <-ctx.Done():
		p.recordFailure()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewConnectionError(CodePoolTimeout, "pool.acquire",
				"context deadline exceeded waiting for a connection", ctx.Err())
		}
		return nil, NewConnectionError(CodeAcquireCancelled, "pool.acquire",
			"acquire cancelled", ctx.Err())
	}
}

// TryAcquire checks out an idle handle without waiting
func (p *Pool[C]) TryAcquire() (*Lease[C], bool) {
	if p.isClosed() {
		return nil, false
	}
	select {
	case conn := <-p.idle:
		lease, err := p.checkout(conn)
		return lease, err == nil
	default:
		return nil, false
	}
}

// With runs fn with a checked out handle and always gives it back
func (p *Pool[C]) With(ctx context.Context, timeout time.Duration, fn func(context.Context, C) error) error {
	lease, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer lease.Release()

	return fn(ctx, lease.Conn())
}

// checkout moves a handle taken off the idle channel to the active set
func (p *Pool[C]) checkout(conn C) (*Lease[C], error) {
	p.mu.Lock()
	p.available--
	if p.closed {
		p.size--
		p.failed++
		p.mu.Unlock()
		p.closeConn(conn)
		return nil, NewConnectionError(CodePoolClosed, "pool.acquire", "connection pool is closed", nil)
	}
	p.active++
	p.mu.Unlock()

	return &Lease[C]{pool: p, conn: conn}, nil
}

// release returns a handle. A handle the validator rejects is dropped,
// and after Close the handle is closed instead.
func (p *Pool[C]) release(conn C) {
	if p.alive != nil && !p.alive(conn) {
		p.discard(conn)
		return
	}

	p.mu.Lock()
	p.active--
	if p.closed {
		p.size--
		p.mu.Unlock()
		p.closeConn(conn)
		return
	}
	p.available++
	p.idle <- conn
	p.mu.Unlock()
}

// discard drops a checked out handle and frees its slot
func (p *Pool[C]) discard(conn C) {
	p.mu.Lock()
	p.active--
	p.size--
	p.discarded++
	p.mu.Unlock()

	p.logger.Debug("Discarding dead connection")
	p.closeConn(conn)
}

// Close marks the pool closed and closes every idle handle. Handles that
// are checked out are closed when they are released.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)

	var drained []C
drain:
	for {
		select {
		case conn := <-p.idle:
			drained = append(drained, conn)
		default:
			break drain
		}
	}
	p.size -= len(drained)
	p.available -= len(drained)
	active := p.active
	p.mu.Unlock()

	var errs []error
	for _, conn := range drained {
		if err := p.closer(conn); err != nil {
			errs = append(errs, err)
		}
	}

	p.logger.Debug("Connection pool closed",
		zap.Int("closed", len(drained)),
		zap.Int("still_active", active),
		zap.Int("close_errors", len(errs)))

	return errors.Join(errs...)
}

// Stats returns a snapshot of the pool counters
func (p *Pool[C]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Size:      p.size,
		Active:    p.active,
		Available: p.available,
		Pending:   p.pending,
		Created:   p.created,
		Failed:    p.failed,
		Discarded: p.discarded,
		MinSize:   p.minSize,
		MaxSize:   p.maxSize,
	}
}

// MinSize returns the configured minimum size
func (p *Pool[C]) MinSize() int {
	return p.minSize
}

// MaxSize returns the configured maximum size
func (p *Pool[C]) MaxSize() int {
	return p.maxSize
}

func (p *Pool[C]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[C]) recordFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

func (p *Pool[C]) closeConn(conn C) {
	if err := p.closer(conn); err != nil {
		p.logger.Warn("Failed to close connection", zap.Error(err))
	}
}

// Conn returns the leased handle
func (l *Lease[C]) Conn() C {
	return l.conn
}

// Release gives the handle back to its pool. Calling it more than once
// is a no-op.
func (l *Lease[C]) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	l.pool.release(l.conn)
}

// Discard closes the handle instead of returning it, freeing the slot
// for a new connection. It is a no-op after Release or Discard.
func (l *Lease[C]) Discard() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	l.pool.discard(l.conn)
}
