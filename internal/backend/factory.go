package backend

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dbgate/internal/database"
)

// Supported drivers
const (
	DriverPostgres      = "postgres"
	DriverMySQL         = "mysql"
	DriverOracle        = "oracle"
	DriverSQLite        = "sqlite"
	DriverMongo         = "mongodb"
	DriverNeo4j         = "neo4j"
	DriverRedis         = "redis"
	DriverElasticsearch = "elasticsearch"
)

var ErrUnsupportedDriver = errors.New("unsupported driver")

// aliases maps accepted spellings onto driver names
var aliases = map[string]string{
	"postgresql": DriverPostgres,
	"pgx":        DriverPostgres,
	"sqlite3":    DriverSQLite,
	"mongo":      DriverMongo,
	"es":         DriverElasticsearch,
}

// constructors builds a client per driver. Each entry keeps the concrete
// handle type out of the caller's sight.
var constructors = map[string]func(database.ConnectionConfig, []database.Option) (database.Interface, error){
	DriverPostgres: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewPostgres(), opts)
	},
	DriverMySQL: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewMySQL(), opts)
	},
	DriverOracle: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewOracle(), opts)
	},
	DriverSQLite: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewSQLite(), opts)
	},
	DriverMongo: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewMongo(), opts)
	},
	DriverNeo4j: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewNeo4j(), opts)
	},
	DriverRedis: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewRedis(), opts)
	},
	DriverElasticsearch: func(cfg database.ConnectionConfig, opts []database.Option) (database.Interface, error) {
		return newClient(cfg, NewElasticsearch(), opts)
	},
}

// Normalize returns the canonical driver name for driver
func Normalize(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	if canonical, ok := aliases[d]; ok {
		return canonical
	}
	return d
}

// Drivers returns the supported driver names, sorted
func Drivers() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether driver, or one of its aliases, is known
func Supported(driver string) bool {
	_, ok := constructors[Normalize(driver)]
	return ok
}

// New creates an uninitialized client for driver
func New(driver string, cfg database.ConnectionConfig, opts ...database.Option) (database.Interface, error) {
	build, ok := constructors[Normalize(driver)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return build(cfg, opts)
}

// newClient returns a nil interface, not a typed nil pointer, on error
func newClient[C any](cfg database.ConnectionConfig, b database.Backend[C], opts []database.Option) (database.Interface, error) {
	client, err := database.NewClient(cfg, b, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}
