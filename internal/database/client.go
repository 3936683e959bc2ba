package database

import (
	"context"
	"sync"
	"time"

	"dbgate/internal/retry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Client
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExecOption tunes a single Execute call
type ExecOption func(*execOptions)

type execOptions struct {
	retry bool
}

// WithoutRetry limits Execute to exactly one attempt
func WithoutRetry() ExecOption {
	return func(o *execOptions) {
		o.retry = false
	}
}

// Client orchestrates a Backend: it owns the connection pool, retries
// failed statements, scopes transactions and keeps query metrics.
type Client[C any] struct {
	id      string
	cfg     ConnectionConfig
	backend Backend[C]
	opts    Options
	logger  *zap.Logger
	log     *queryLog

	// mu guards state, pool and initDone. It is never held while a
	// backend connects.
	mu    sync.Mutex
	state State
	pool  *Pool[C]

	// initDone is closed when the running Initialize finishes
	initDone chan struct{}
}

var _ Interface = (*Client[any])(nil)

// NewClient creates a client for backend. The pool is not created until
// Initialize or the first operation.
func NewClient[C any](cfg ConnectionConfig, backend Backend[C], opts ...Option) (*Client[C], error) {
	if backend == nil {
		return nil, NewError(KindConfig, CodeInvalidConfig, "backend is required", "new_client", nil)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	id := uuid.NewString()

	return &Client[C]{
		id:      id,
		cfg:     cfg,
		backend: backend,
		opts:    o,
		logger: o.Logger.With(
			zap.String("driver", backend.Name()),
			zap.String("client_id", id)),
		log: newQueryLog(MetricsWindow),
	}, nil
}

// Initialize builds the pool and opens MinPoolSize connections. It is a
// no-op on a ready client, and a call made while another is in progress
// waits for that one. Any connection failure aborts the whole call and
// leaves no pool behind.
func (c *Client[C]) Initialize(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch c.state {
		case StateReady:
			c.mu.Unlock()
			return nil
		case StateInitializing:
			done := c.initDone
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return NewConnectionError(CodePoolInitFailed, "initialize",
					"cancelled waiting for initialization", ctx.Err())
			}
		}

		prev := c.state
		done := make(chan struct{})
		c.state = StateInitializing
		c.initDone = done
		c.mu.Unlock()

		pool, err := c.openPool(ctx)

		c.mu.Lock()
		if err != nil {
			c.state = prev
		} else {
			c.pool = pool
			c.state = StateReady
		}
		c.initDone = nil
		close(done)
		c.mu.Unlock()

		if err != nil {
			return err
		}

		c.observePool(pool.Stats())
		c.logger.Info("Database client initialized",
			zap.String("address", c.cfg.Address()),
			zap.Int("min_pool_size", pool.MinSize()),
			zap.Int("max_pool_size", pool.MaxSize()))
		return nil
	}
}

// openPool creates a pool filled to its minimum size
func (c *Client[C]) openPool(ctx context.Context) (*Pool[C], error) {
	opts := []PoolOption[C]{WithFactory(c.connect)}
	if lc, ok := c.backend.(LivenessChecker[C]); ok {
		opts = append(opts, WithValidator(lc.Alive))
	}

	pool := NewPool[C](c.cfg.MinPoolSize, c.cfg.MaxPoolSize, c.backend.Close, c.logger, opts...)
	for i := 0; i < pool.MinSize(); i++ {
		conn, err := c.connect(ctx)
		if err == nil {
			err = pool.Add(conn)
			if err != nil {
				_ = c.backend.Close(conn)
			}
		}
		if err != nil {
			if closeErr := pool.Close(); closeErr != nil {
				c.logger.Warn("Failed to close partial pool", zap.Error(closeErr))
			}
			c.logger.Error("Failed to initialize connection pool",
				zap.Int("created", i),
				zap.Int("min_pool_size", pool.MinSize()),
				zap.Error(err))
			return nil, NewConnectionError(CodePoolInitFailed, "initialize",
				"failed to initialize connection pool", err)
		}
	}
	return pool, nil
}

// Close closes the pool, waiting for a running Initialize first. The
// client may be initialized again afterwards.
func (c *Client[C]) Close() error {
	c.mu.Lock()
	for c.state == StateInitializing {
		done := c.initDone
		c.mu.Unlock()
		<-done
		c.mu.Lock()
	}

	if c.state != StateReady {
		c.mu.Unlock()
		return nil
	}

	pool := c.pool
	c.pool = nil
	c.state = StateClosed
	c.mu.Unlock()

	err := pool.Close()
	c.observePool(pool.Stats())
	if err != nil {
		c.logger.Error("Errors while closing connection pool", zap.Error(err))
		return NewConnectionError(CodePoolClosed, "close", "failed to close connections", err)
	}

	c.logger.Info("Database client closed")
	return nil
}

// Execute runs query, retrying every failure up to MaxRetries attempts
// with exponential backoff. Pool acquisition failures are returned as is
// and never retried.
func (c *Client[C]) Execute(ctx context.Context, query string, params []any, opts ...ExecOption) (*Result, error) {
	eo := execOptions{retry: true}
	for _, opt := range opts {
		opt(&eo)
	}

	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	pool := c.currentPool()
	if pool == nil {
		return nil, NewConnectionError(CodePoolClosed, "execute", "client is closed", nil)
	}

	queryType := ClassifyQuery(query)
	ctx, span := c.opts.Tracer.Start(ctx, "database.Execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", c.backend.Name()),
			attribute.String("db.operation", string(queryType)),
		))
	defer span.End()

	attempts := c.cfg.MaxRetries
	if !eo.retry {
		attempts = 1
	}
	retrier := retry.New(&retry.Config{
		Enable:      true,
		MaxAttempts: attempts,
		Delay:       c.cfg.RetryDelay,
		Backoff:     c.cfg.RetryBackoff,
	},
		retry.WithSleep(c.opts.Sleep),
		retry.WithNotify(func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("Query attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", delay),
				zap.Error(err))
		}))

	start := c.opts.Now()
	var result *Result
	made, err := retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := c.executeOnce(ctx, pool, query, params)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	elapsed := c.opts.Now().Sub(start)
	span.SetAttributes(attribute.Int("db.attempts", made))

	if err != nil {
		c.record(newQueryMetrics(query, elapsed, 0, c.opts.Now(), err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if IsConnectionError(err) {
			return nil, err
		}
		c.logger.Error("Query failed",
			zap.String("query_type", string(queryType)),
			zap.Int("attempts", made),
			zap.Error(err))
		return nil, NewQueryError("execute", err)
	}

	result.ExecutionTime = elapsed
	result.QueryType = queryType
	c.record(newQueryMetrics(query, elapsed, result.RowCount, c.opts.Now(), nil))

	if elapsed > c.opts.SlowQueryTime {
		c.logger.Warn("Slow query detected",
			zap.String("query_type", string(queryType)),
			zap.Duration("duration", elapsed))
	}

	return result, nil
}

// executeOnce runs one attempt on a leased connection. Acquire failures
// are marked permanent so the retry loop gives up at once.
func (c *Client[C]) executeOnce(ctx context.Context, pool *Pool[C], query string, params []any) (*Result, error) {
	var (
		res      *Result
		acquired bool
	)
	err := pool.With(ctx, c.cfg.PoolTimeout, func(ctx context.Context, conn C) error {
		acquired = true

		qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()

		r, err := c.backend.Execute(qctx, conn, query, params)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if !acquired {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// connect opens one connection bounded by ConnectionTimeout
func (c *Client[C]) connect(ctx context.Context) (C, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	conn, err := c.backend.Connect(cctx, c.cfg)
	if err != nil {
		var zero C
		if IsConnectionError(err) {
			return zero, err
		}
		return zero, NewConnectionError(CodeConnectFailed, "connect", "failed to connect", err)
	}
	return conn, nil
}

// record stores one terminal outcome
func (c *Client[C]) record(m QueryMetrics) {
	c.log.record(m)
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveQuery(c.backend.Name(), m)
	}
}

func (c *Client[C]) observePool(stats PoolStats) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObservePool(c.backend.Name(), stats)
	}
}

func (c *Client[C]) currentPool() *Pool[C] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// Metrics returns the most recent query outcomes, oldest first
func (c *Client[C]) Metrics() []QueryMetrics {
	return c.log.snapshot()
}

// Counters returns the cumulative query counters
func (c *Client[C]) Counters() Counters {
	return c.log.counters()
}

// PoolStats returns a snapshot of the pool, zero when there is no pool
func (c *Client[C]) PoolStats() PoolStats {
	pool := c.currentPool()
	if pool == nil {
		return PoolStats{MinSize: c.cfg.MinPoolSize, MaxSize: c.cfg.MaxPoolSize}
	}
	return pool.Stats()
}

// State returns the lifecycle state
func (c *Client[C]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Driver returns the backend name
func (c *Client[C]) Driver() string {
	return c.backend.Name()
}

// ID returns the client instance id
func (c *Client[C]) ID() string {
	return c.id
}

// Config returns the client's copy of its configuration
func (c *Client[C]) Config() ConnectionConfig {
	return c.cfg
}
