package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommit(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, testConfig())

	var seen []int
	err := c.Transaction(context.Background(), func(ctx context.Context, tx *Tx[*fakeConn]) error {
		assert.NotEmpty(t, tx.ID())
		seen = append(seen, tx.Conn().id)
		if _, err := tx.Execute(ctx, "INSERT INTO t VALUES (1)", nil); err != nil {
			return err
		}
		_, err := tx.Execute(ctx, "UPDATE t SET a = 2", nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 1, b.begins)
	assert.Equal(t, 1, b.commits)
	assert.Equal(t, 0, b.rollbacks)
	assert.Len(t, seen, 1)

	metrics := c.Metrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, QueryTypeInsert, metrics[0].QueryType)
	assert.Equal(t, QueryTypeUpdate, metrics[1].QueryType)
	assert.Equal(t, 0, c.PoolStats().Active)
}

func TestTransactionRollbackOnError(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, testConfig())

	boom := errors.New("constraint violation")
	err := c.Transaction(context.Background(), func(ctx context.Context, tx *Tx[*fakeConn]) error {
		if _, err := tx.Execute(ctx, "INSERT INTO t VALUES (1)", nil); err != nil {
			return err
		}
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsTransactionError(err))

	assert.Equal(t, 1, b.begins)
	assert.Equal(t, 0, b.commits)
	assert.Equal(t, 1, b.rollbacks)
	assert.Equal(t, 0, c.PoolStats().Active)
}

func TestTransactionRollbackFailureDoesNotMaskCause(t *testing.T) {
	rollbackErr := errors.New("rollback: connection lost")
	b := &fakeBackend{rollbackErr: rollbackErr}
	c := newTestClient(t, b, testConfig())

	boom := errors.New("boom")
	err := c.Transaction(context.Background(), func(context.Context, *Tx[*fakeConn]) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, rollbackErr)
	assert.Equal(t, 1, b.rollbacks)
}

func TestTransactionRollbackOnPanic(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, testConfig())

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = c.Transaction(context.Background(), func(context.Context, *Tx[*fakeConn]) error {
			panic("kaboom")
		})
	})

	assert.Equal(t, 1, b.rollbacks)
	assert.Equal(t, 0, b.commits)
	assert.Equal(t, 0, c.PoolStats().Active)
}

func TestTransactionRollbackAfterCancel(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Transaction(ctx, func(ctx context.Context, _ *Tx[*fakeConn]) error {
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, b.rollbacks)
}

func TestTransactionBeginAndCommitFailures(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		beginErr := errors.New("cannot begin")
		b := &fakeBackend{beginErr: beginErr}
		c := newTestClient(t, b, testConfig())

		called := false
		err := c.Transaction(context.Background(), func(context.Context, *Tx[*fakeConn]) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrTransactionFailed)
		assert.ErrorIs(t, err, beginErr)
		assert.False(t, called)
		assert.Equal(t, 0, c.PoolStats().Active)
	})

	t.Run("commit", func(t *testing.T) {
		commitErr := errors.New("serialization failure")
		b := &fakeBackend{commitErr: commitErr}
		c := newTestClient(t, b, testConfig())

		err := c.Transaction(context.Background(), func(context.Context, *Tx[*fakeConn]) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrTransactionFailed)
		assert.ErrorIs(t, err, commitErr)
		assert.Equal(t, 1, b.commits)
		assert.Equal(t, 0, b.rollbacks)
	})
}

func TestTransactionExecuteIsNotRetried(t *testing.T) {
	boom := errors.New("deadlock detected")
	b := &fakeBackend{execFn: func(context.Context, *fakeConn, string) (*Result, error) {
		return nil, boom
	}}
	c := newTestClient(t, b, testConfig())

	err := c.WithTransaction(context.Background(), func(ctx context.Context, tx Executor) error {
		_, err := tx.Execute(ctx, "DELETE FROM t", nil)
		return err
	})

	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, boom)
	_, execs, _ := b.counts()
	assert.Equal(t, 1, execs)
	assert.Equal(t, int64(1), c.Counters().ErrorCount)
}
