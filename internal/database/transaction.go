package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// rollbackTimeout bounds a rollback issued after the caller's context
// may already be done
const rollbackTimeout = 10 * time.Second

// Tx is the connection held by a transaction scope
type Tx[C any] struct {
	id     string
	conn   C
	client *Client[C]
}

// ID returns the transaction id used in logs
func (tx *Tx[C]) ID() string {
	return tx.id
}

// Conn returns the raw connection handle
func (tx *Tx[C]) Conn() C {
	return tx.conn
}

// Execute runs query once on the transaction's connection
func (tx *Tx[C]) Execute(ctx context.Context, query string, params []any) (*Result, error) {
	c := tx.client
	start := c.opts.Now()

	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	res, err := c.backend.Execute(qctx, tx.conn, query, params)
	elapsed := c.opts.Now().Sub(start)
	if err != nil {
		c.record(newQueryMetrics(query, elapsed, 0, c.opts.Now(), err))
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}

	res.ExecutionTime = elapsed
	res.QueryType = ClassifyQuery(query)
	c.record(newQueryMetrics(query, elapsed, res.RowCount, c.opts.Now(), nil))
	return res, nil
}

// Transaction runs fn inside a transaction on a single connection.
// Commit is issued when fn returns nil; otherwise the transaction is
// rolled back and the failure is returned as a TRANSACTION_FAILED error.
// A failing rollback is logged and never replaces the original error.
func (c *Client[C]) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx[C]) error) (err error) {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	pool := c.currentPool()
	if pool == nil {
		return NewConnectionError(CodePoolClosed, "transaction", "client is closed", nil)
	}

	lease, err := pool.Acquire(ctx, c.cfg.PoolTimeout)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx := &Tx[C]{
		id:     uuid.NewString(),
		conn:   lease.Conn(),
		client: c,
	}
	logger := c.logger.With(zap.String("tx_id", tx.id))

	ctx, span := c.opts.Tracer.Start(ctx, "database.Transaction")
	span.SetAttributes(
		attribute.String("db.system", c.backend.Name()),
		attribute.String("db.transaction_id", tx.id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := c.backend.Begin(ctx, tx.conn); err != nil {
		logger.Error("Failed to begin transaction", zap.Error(err))
		return NewTransactionError("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			c.rollback(ctx, tx, logger)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		c.rollback(ctx, tx, logger)
		return NewTransactionError("transaction", err)
	}

	if err := c.backend.Commit(ctx, tx.conn); err != nil {
		logger.Error("Failed to commit transaction", zap.Error(err))
		return NewTransactionError("commit", err)
	}

	return nil
}

// WithTransaction is Transaction for callers holding an Interface
func (c *Client[C]) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Executor) error) error {
	return c.Transaction(ctx, func(ctx context.Context, tx *Tx[C]) error {
		return fn(ctx, tx)
	})
}

// rollback issues the backend rollback on a context detached from the
// caller, since the caller's context may be the reason for the failure
func (c *Client[C]) rollback(ctx context.Context, tx *Tx[C], logger *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := c.backend.Rollback(rctx, tx.conn); err != nil {
		logger.Warn("Transaction rollback failed",
			zap.Error(fmt.Errorf("rollback: %w", err)))
		return
	}
	logger.Debug("Transaction rolled back")
}
