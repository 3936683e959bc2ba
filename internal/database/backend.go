package database

import (
	"context"
	"time"
)

// Backend is the engine-specific capability a Client drives. C is the
// backend's own connection handle type; the client and its pool never
// look inside it.
type Backend[C any] interface {
	// Name returns the driver name used in logs and metrics
	Name() string

	// Connect opens one new connection handle
	Connect(ctx context.Context, cfg ConnectionConfig) (C, error)

	// Execute runs query on conn and returns columns, rows and row count
	Execute(ctx context.Context, conn C, query string, params []any) (*Result, error)

	// PingQuery returns a cheap liveness statement
	PingQuery() string

	// Transaction hooks

	Begin(ctx context.Context, conn C) error
	Commit(ctx context.Context, conn C) error
	Rollback(ctx context.Context, conn C) error

	// Close releases the resources behind conn
	Close(conn C) error
}

// LivenessChecker is implemented by backends whose handles can break on
// their own, e.g. a native connection the driver closes when a query is
// cancelled. The pool closes a returned handle for which Alive is false.
type LivenessChecker[C any] interface {
	Alive(conn C) bool
}

// NopTransactions provides no-op transaction hooks for backends with
// implicit transactions. Embed it in a Backend implementation.
type NopTransactions[C any] struct{}

func (NopTransactions[C]) Begin(context.Context, C) error    { return nil }
func (NopTransactions[C]) Commit(context.Context, C) error   { return nil }
func (NopTransactions[C]) Rollback(context.Context, C) error { return nil }

// Result is the outcome of an executed statement. Backends fill Columns,
// Rows and RowCount; the client adds the timing and query type.
type Result struct {
	Columns       []string      `json:"columns"`
	Rows          [][]any       `json:"rows"`
	RowCount      int64         `json:"rowcount"`
	ExecutionTime time.Duration `json:"execution_time"`
	QueryType     QueryType     `json:"query_type"`
}

// Executor runs statements; a transaction scope hands one to its block
type Executor interface {
	Execute(ctx context.Context, query string, params []any) (*Result, error)
}

// Interface is the driver-independent surface of a Client
type Interface interface {
	// Lifecycle

	Initialize(ctx context.Context) error
	Close() error
	State() State

	// Operations

	Execute(ctx context.Context, query string, params []any, opts ...ExecOption) (*Result, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Executor) error) error
	HealthCheck(ctx context.Context) *HealthCheckResult

	// Diagnostics

	Metrics() []QueryMetrics
	Counters() Counters
	PoolStats() PoolStats
	Driver() string
	ID() string
}
