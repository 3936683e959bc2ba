package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"dbgate/internal/database"
	"dbgate/internal/version"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultNeo4jPort = 7687

// Neo4jConn is a single-connection driver with one session
type Neo4jConn struct {
	driver  neo4j.DriverWithContext
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

type neo4jBackend struct{}

// NewNeo4j returns the Neo4j backend. The first query param, when it is
// a map[string]any, supplies the Cypher parameters.
func NewNeo4j() database.Backend[*Neo4jConn] {
	return neo4jBackend{}
}

func (neo4jBackend) Name() string {
	return DriverNeo4j
}

func (neo4jBackend) PingQuery() string {
	return "RETURN 1"
}

func (neo4jBackend) Connect(ctx context.Context, cfg database.ConnectionConfig) (*Neo4jConn, error) {
	driver, err := neo4j.NewDriverWithContext(neo4jURI(cfg),
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.UserAgent = version.UserAgent()
			c.MaxConnectionPoolSize = 1
			c.SocketConnectTimeout = cfg.ConnectionTimeout
		})
	if err != nil {
		return nil, fmt.Errorf("neo4j connect error: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("neo4j verify connectivity error: %w", err)
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	return &Neo4jConn{driver: driver, session: session}, nil
}

func (neo4jBackend) Execute(ctx context.Context, c *Neo4jConn, query string, params []any) (*database.Result, error) {
	var args map[string]any
	if len(params) > 0 {
		p, ok := params[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("neo4j parameters must be a map[string]any, got %T", params[0])
		}
		args = p
	}

	var (
		res neo4j.ResultWithContext
		err error
	)
	if c.tx != nil {
		res, err = c.tx.Run(ctx, query, args)
	} else {
		res, err = c.session.Run(ctx, query, args)
	}
	if err != nil {
		return nil, err
	}

	keys, err := res.Keys()
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return nil, err
	}

	result := &database.Result{Columns: keys, Rows: make([][]any, 0, len(records))}
	for _, rec := range records {
		result.Rows = append(result.Rows, rec.Values)
	}

	result.RowCount = int64(len(records))
	if len(records) == 0 && summary != nil {
		cnt := summary.Counters()
		result.RowCount = int64(cnt.NodesCreated() + cnt.NodesDeleted() +
			cnt.RelationshipsCreated() + cnt.RelationshipsDeleted() + cnt.PropertiesSet())
	}
	return result, nil
}

func (neo4jBackend) Begin(ctx context.Context, c *Neo4jConn) error {
	if c.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := c.session.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (neo4jBackend) Commit(ctx context.Context, c *Neo4jConn) error {
	if c.tx == nil {
		return errors.New("no transaction in progress")
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

func (neo4jBackend) Rollback(ctx context.Context, c *Neo4jConn) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback(ctx)
}

func (neo4jBackend) Close(c *Neo4jConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if c.tx != nil {
		if err := c.tx.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.session.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.driver.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// neo4jURI picks the URI scheme from the TLS settings, since the driver
// takes encryption from the scheme. Extra["scheme"] overrides it, e.g.
// "bolt" for a single instance.
func neo4jURI(cfg database.ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = defaultNeo4jPort
	}

	scheme := "neo4j"
	switch {
	case cfg.Extra["scheme"] != "":
		scheme = cfg.Extra["scheme"]
	case cfg.TLS.Enabled && (cfg.TLS.InsecureSkipVerify || cfg.TLS.Mode == "require"):
		scheme = "neo4j+ssc"
	case cfg.TLS.Enabled && cfg.TLS.Mode != "disable":
		scheme = "neo4j+s"
	}

	return scheme + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}
