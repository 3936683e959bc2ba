package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"dbgate/internal/database"
	"dbgate/internal/utils"
	"dbgate/internal/version"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresPort = 5432

// closeTimeout bounds the goodbye message sent when a handle is closed
const closeTimeout = 5 * time.Second

// PostgresConn is a native pgx connection with its open transaction
type PostgresConn struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

// Conn returns the underlying pgx connection
func (c *PostgresConn) Conn() *pgx.Conn {
	return c.conn
}

// pgxQuerier is implemented by both *pgx.Conn and pgx.Tx
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (c *PostgresConn) querier() pgxQuerier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

type postgresBackend struct{}

var _ database.LivenessChecker[*PostgresConn] = postgresBackend{}

// NewPostgres returns the PostgreSQL backend
func NewPostgres() database.Backend[*PostgresConn] {
	return postgresBackend{}
}

func (postgresBackend) Name() string {
	return DriverPostgres
}

func (postgresBackend) PingQuery() string {
	return "SELECT 1"
}

func (postgresBackend) Connect(ctx context.Context, cfg database.ConnectionConfig) (*PostgresConn, error) {
	dsn := postgresDSN(cfg)
	pc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn %s: %w", utils.MaskDSN(dsn), err)
	}

	tlsCfg, err := cfg.TLS.Build(cfg.Host)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		pc.TLSConfig = tlsCfg
		pc.Fallbacks = nil
	}

	conn, err := pgx.ConnectConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", utils.MaskDSN(dsn), err)
	}
	return &PostgresConn{conn: conn}, nil
}

func (postgresBackend) Execute(ctx context.Context, c *PostgresConn, query string, params []any) (*database.Result, error) {
	rows, err := c.querier().Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &database.Result{
		Columns: make([]string, len(fields)),
		Rows:    [][]any{},
	}
	for i, fd := range fields {
		result.Columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = rows.CommandTag().RowsAffected()
	if len(fields) > 0 {
		result.RowCount = int64(len(result.Rows))
	}
	return result, nil
}

func (postgresBackend) Begin(ctx context.Context, c *PostgresConn) error {
	if c.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (postgresBackend) Commit(ctx context.Context, c *PostgresConn) error {
	if c.tx == nil {
		return errors.New("no transaction in progress")
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

func (postgresBackend) Rollback(ctx context.Context, c *PostgresConn) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Alive reports false once pgx has closed the connection, which it does
// when a query is interrupted by its context
func (postgresBackend) Alive(c *PostgresConn) bool {
	return !c.conn.IsClosed()
}

func (postgresBackend) Close(c *PostgresConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

// postgresDSN builds a postgres:// URL understood by pgx.ParseConfig
func postgresDSN(cfg database.ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	q := url.Values{}
	q.Set("application_name", version.UserAgent())
	if cfg.ConnectionTimeout >= time.Second {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectionTimeout.Seconds())))
	}

	mode := "disable"
	if cfg.TLS.Enabled && cfg.TLS.Mode != "" {
		mode = cfg.TLS.Mode
	} else if cfg.TLS.Enabled {
		mode = "require"
	}
	q.Set("sslmode", mode)

	for k, v := range cfg.Extra {
		q.Set(k, v)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}
