package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"dbgate/internal/database"
	"dbgate/internal/utils"
)

// SQLConn is one database/sql connection. Each handle owns its *sql.DB,
// capped at a single connection, so the client pool is the only pool.
type SQLConn struct {
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
}

// DB returns the underlying *sql.DB
func (c *SQLConn) DB() *sql.DB {
	return c.db
}

// sqlRunner is implemented by both *sql.Conn and *sql.Tx
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *SQLConn) runner() sqlRunner {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// sqlBackend is the shared database/sql adapter behind mysql, oracle and sqlite
type sqlBackend struct {
	name       string
	driverName string
	ping       string
	dsn        func(cfg database.ConnectionConfig) (string, error)

	// openDB is sql.Open, replaced in tests
	openDB func(driverName, dsn string) (*sql.DB, error)
}

var (
	_ database.Backend[*SQLConn]         = (*sqlBackend)(nil)
	_ database.LivenessChecker[*SQLConn] = (*sqlBackend)(nil)
)

func (b *sqlBackend) Name() string {
	return b.name
}

func (b *sqlBackend) PingQuery() string {
	return b.ping
}

func (b *sqlBackend) Connect(ctx context.Context, cfg database.ConnectionConfig) (*SQLConn, error) {
	dsn, err := b.dsn(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s dsn: %w", b.name, err)
	}

	open := b.openDB
	if open == nil {
		open = sql.Open
	}
	db, err := open(b.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", utils.MaskDSN(dsn), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s at %s: %w", b.name, utils.MaskDSN(dsn), err)
	}

	return &SQLConn{db: db, conn: conn}, nil
}

func (b *sqlBackend) Execute(ctx context.Context, c *SQLConn, query string, params []any) (*database.Result, error) {
	if !returnsRows(query) {
		res, err := c.runner().ExecContext(ctx, query, params...)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			// Not every driver reports it; the statement itself succeeded
			affected = 0
		}
		return &database.Result{RowCount: affected}, nil
	}

	rows, err := c.runner().QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	return scanRows(rows)
}

func (b *sqlBackend) Begin(ctx context.Context, c *SQLConn) error {
	if c.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (b *sqlBackend) Commit(_ context.Context, c *SQLConn) error {
	if c.tx == nil {
		return errors.New("no transaction in progress")
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (b *sqlBackend) Rollback(_ context.Context, c *SQLConn) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	// database/sql already rolled back when the Begin context was cancelled
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Alive reports false once database/sql has closed the pinned connection,
// which it does after the driver returns driver.ErrBadConn
func (b *sqlBackend) Alive(c *SQLConn) bool {
	err := c.conn.Raw(func(dc any) error {
		if v, ok := dc.(driver.Validator); ok && !v.IsValid() {
			return driver.ErrBadConn
		}
		return nil
	})
	return err == nil
}

func (b *sqlBackend) Close(c *SQLConn) error {
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// scanRows reads every row; []byte values are returned as strings
func scanRows(rows *sql.Rows) (*database.Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &database.Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = int64(len(result.Rows))
	return result, nil
}

// rowKeywords are leading keywords of statements that produce a result set
var rowKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"PRAGMA":   true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"VALUES":   true,
	"TABLE":    true,
}

// returnsRows reports whether query should go through QueryContext
func returnsRows(query string) bool {
	fields := strings.Fields(strings.TrimLeft(query, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	if rowKeywords[strings.ToUpper(strings.TrimRight(fields[0], ";("))] {
		return true
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}
