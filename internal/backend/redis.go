package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"dbgate/internal/database"
	"dbgate/internal/version"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPort = 6379

// RedisConn is a sticky connection taken from a one-connection client, so
// MULTI/EXEC apply to the same socket
type RedisConn struct {
	client *redis.Client
	conn   *redis.Conn
	multi  bool
	broken bool
}

// check marks the connection broken on anything but a server reply error
func (c *RedisConn) check(err error) error {
	var reply redis.Error
	if err != nil && !errors.As(err, &reply) {
		c.broken = true
	}
	return err
}

// do sends a raw command on the sticky connection, as redis.Client.Do does
func (c *RedisConn) do(ctx context.Context, args ...any) *redis.Cmd {
	cmd := redis.NewCmd(ctx, args...)
	_ = c.conn.Process(ctx, cmd)
	return cmd
}

type redisBackend struct {
	clientName string
}

var _ database.LivenessChecker[*RedisConn] = redisBackend{}

// NewRedis returns the Redis backend. A query is a command line such as
// "HGETALL user:1"; params are appended as extra arguments. Database
// holds the logical database number.
func NewRedis() database.Backend[*RedisConn] {
	return redisBackend{clientName: version.UserAgent()}
}

func (redisBackend) Name() string {
	return DriverRedis
}

func (redisBackend) PingQuery() string {
	return "PING"
}

func (b redisBackend) Connect(ctx context.Context, cfg database.ConnectionConfig) (*RedisConn, error) {
	opts, err := redisOptions(cfg, b.clientName)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	conn := client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	return &RedisConn{client: client, conn: conn}, nil
}

func (redisBackend) Execute(ctx context.Context, c *RedisConn, query string, params []any) (*database.Result, error) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return nil, errors.New("empty redis command")
	}

	args := make([]any, 0, len(fields)+len(params))
	for _, f := range fields {
		args = append(args, f)
	}
	args = append(args, params...)

	val, err := c.do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return &database.Result{Columns: []string{"value"}, Rows: [][]any{}}, nil
	}
	if err != nil {
		return nil, c.check(err)
	}
	return redisResult(val), nil
}

func (redisBackend) Begin(ctx context.Context, c *RedisConn) error {
	if c.multi {
		return errors.New("transaction already in progress")
	}
	if err := c.check(c.do(ctx, "MULTI").Err()); err != nil {
		return err
	}
	c.multi = true
	return nil
}

func (redisBackend) Commit(ctx context.Context, c *RedisConn) error {
	if !c.multi {
		return errors.New("no transaction in progress")
	}
	c.multi = false
	return c.check(c.do(ctx, "EXEC").Err())
}

func (redisBackend) Rollback(ctx context.Context, c *RedisConn) error {
	if !c.multi {
		return nil
	}
	c.multi = false
	return c.check(c.do(ctx, "DISCARD").Err())
}

// Alive reports false after a network or timeout error, since a reply
// may still be pending on the socket
func (redisBackend) Alive(c *RedisConn) bool {
	return !c.broken
}

func (redisBackend) Close(c *RedisConn) error {
	return errors.Join(c.conn.Close(), c.client.Close())
}

// redisResult maps a reply onto rows: arrays give one row per element,
// maps one row per pair, scalars a single row
func redisResult(val any) *database.Result {
	result := &database.Result{Columns: []string{"value"}, Rows: [][]any{}}

	switch v := val.(type) {
	case []any:
		for _, item := range v {
			result.Rows = append(result.Rows, []any{item})
		}
	case map[any]any:
		result.Columns = []string{"key", "value"}
		keys := make([]string, 0, len(v))
		byKey := make(map[string]any, len(v))
		for k, item := range v {
			ks := fmt.Sprint(k)
			keys = append(keys, ks)
			byKey[ks] = item
		}
		sort.Strings(keys)
		for _, k := range keys {
			result.Rows = append(result.Rows, []any{k, byKey[k]})
		}
	default:
		result.Rows = append(result.Rows, []any{v})
	}

	result.RowCount = int64(len(result.Rows))
	return result
}

func redisOptions(cfg database.ConnectionConfig, clientName string) (*redis.Options, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultRedisPort
	}

	db := 0
	if cfg.Database != "" {
		n, err := strconv.Atoi(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("redis database must be a number: %w", err)
		}
		db = n
	}

	tlsCfg, err := cfg.TLS.Build(cfg.Host)
	if err != nil {
		return nil, err
	}

	return &redis.Options{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Username:    cfg.User,
		Password:    cfg.Password,
		DB:          db,
		ClientName:  clientName,
		DialTimeout: cfg.ConnectionTimeout,
		PoolSize:    1,
		MaxRetries:  -1,
		TLSConfig:   tlsCfg,
	}, nil
}
