package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"

	"dbgate/internal/database"
	"dbgate/internal/version"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultMongoPort = 27017

// MongoConn is a single-socket MongoDB client and its open session
type MongoConn struct {
	client   *mongo.Client
	database string
	session  mongo.Session
}

// Client returns the underlying mongo client
func (c *MongoConn) Client() *mongo.Client {
	return c.client
}

type mongoBackend struct{}

// NewMongo returns the MongoDB backend. A query is a database command
// in extended JSON, e.g. {"find": "users", "filter": {"age": {"$gt": 30}}}.
func NewMongo() database.Backend[*MongoConn] {
	return mongoBackend{}
}

func (mongoBackend) Name() string {
	return DriverMongo
}

func (mongoBackend) PingQuery() string {
	return `{"ping": 1}`
}

func (mongoBackend) Connect(ctx context.Context, cfg database.ConnectionConfig) (*MongoConn, error) {
	opts := options.Client().
		ApplyURI(mongoURI(cfg)).
		SetAppName(version.UserAgent()).
		SetMaxPoolSize(1).
		SetConnectTimeout(cfg.ConnectionTimeout).
		SetRetryReads(false).
		SetRetryWrites(false)

	tlsCfg, err := cfg.TLS.Build(cfg.Host)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := cfg.Database
	if db == "" {
		db = "admin"
	}
	return &MongoConn{client: client, database: db}, nil
}

func (mongoBackend) Execute(ctx context.Context, c *MongoConn, query string, params []any) (*database.Result, error) {
	if len(params) > 0 {
		return nil, errors.New("mongodb commands take no parameters, put values in the command document")
	}

	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(query), false, &cmd); err != nil {
		return nil, fmt.Errorf("invalid command document: %w", err)
	}

	if c.session != nil {
		ctx = mongo.NewSessionContext(ctx, c.session)
	}

	var reply bson.M
	if err := c.client.Database(c.database).RunCommand(ctx, cmd).Decode(&reply); err != nil {
		return nil, err
	}
	return mongoResult(reply), nil
}

func (mongoBackend) Begin(ctx context.Context, c *MongoConn) error {
	if c.session != nil {
		return errors.New("transaction already in progress")
	}
	sess, err := c.client.StartSession()
	if err != nil {
		return err
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return err
	}
	c.session = sess
	return nil
}

func (mongoBackend) Commit(ctx context.Context, c *MongoConn) error {
	if c.session == nil {
		return errors.New("no transaction in progress")
	}
	sess := c.session
	c.session = nil
	defer sess.EndSession(ctx)
	return sess.CommitTransaction(ctx)
}

func (mongoBackend) Rollback(ctx context.Context, c *MongoConn) error {
	if c.session == nil {
		return nil
	}
	sess := c.session
	c.session = nil
	defer sess.EndSession(ctx)
	return sess.AbortTransaction(ctx)
}

func (mongoBackend) Close(c *MongoConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if c.session != nil {
		c.session.EndSession(ctx)
		c.session = nil
	}
	return c.client.Disconnect(ctx)
}

// mongoResult flattens a command reply. Cursor replies become one row per
// document of the first batch; anything else is a single row.
func mongoResult(reply bson.M) *database.Result {
	docs := []bson.M{reply}
	if cursor, ok := asDocument(reply["cursor"]); ok {
		docs = docs[:0]
		if batch, ok := cursor["firstBatch"].(bson.A); ok {
			for _, item := range batch {
				if doc, ok := asDocument(item); ok {
					docs = append(docs, doc)
				}
			}
		}
	}

	result := &database.Result{Columns: documentKeys(docs), Rows: [][]any{}}
	for _, doc := range docs {
		row := make([]any, len(result.Columns))
		for i, col := range result.Columns {
			row[i] = doc[col]
		}
		result.Rows = append(result.Rows, row)
	}

	result.RowCount = int64(len(result.Rows))
	// Write commands report the number of matched or inserted documents
	if n, ok := toInt64(reply["n"]); ok && reply["cursor"] == nil {
		result.RowCount = n
	}
	return result
}

// documentKeys returns the union of keys, sorted, with _id first
func documentKeys(docs []bson.M) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, doc := range docs {
		for k := range doc {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "_id" || keys[j] == "_id" {
			return keys[i] == "_id"
		}
		return keys[i] < keys[j]
	})
	return keys
}

func asDocument(v any) (bson.M, bool) {
	switch doc := v.(type) {
	case bson.M:
		return doc, true
	case map[string]any:
		return doc, true
	case bson.D:
		m := make(bson.M, len(doc))
		for _, e := range doc {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// mongoURI builds a mongodb:// URI; Extra entries become URI options
func mongoURI(cfg database.ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = defaultMongoPort
	}

	q := url.Values{}
	for k, v := range cfg.Extra {
		q.Set(k, v)
	}

	u := url.URL{
		Scheme:   "mongodb",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/",
		RawQuery: q.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}
