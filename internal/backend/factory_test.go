package backend

import (
	"testing"

	"dbgate/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"postgres":      DriverPostgres,
		"PostgreSQL":    DriverPostgres,
		" pgx ":         DriverPostgres,
		"sqlite3":       DriverSQLite,
		"mongo":         DriverMongo,
		"es":            DriverElasticsearch,
		"Redis":         DriverRedis,
		"cassandra":     "cassandra",
		"elasticsearch": DriverElasticsearch,
	}

	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestDrivers(t *testing.T) {
	assert.Equal(t, []string{
		DriverElasticsearch,
		DriverMongo,
		DriverMySQL,
		DriverNeo4j,
		DriverOracle,
		DriverPostgres,
		DriverRedis,
		DriverSQLite,
	}, Drivers())

	assert.True(t, Supported("postgresql"))
	assert.False(t, Supported("cassandra"))
}

func TestNew(t *testing.T) {
	for _, driver := range Drivers() {
		t.Run(driver, func(t *testing.T) {
			client, err := New(driver, database.DefaultConnectionConfig())
			require.NoError(t, err)
			assert.Equal(t, driver, client.Driver())
			assert.Equal(t, database.StateUninitialized, client.State())
			assert.NotEmpty(t, client.ID())
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New("cassandra", database.DefaultConnectionConfig())
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	cfg := database.DefaultConnectionConfig()
	cfg.MinPoolSize = 4
	cfg.MaxPoolSize = 2
	client, err := New(DriverRedis, cfg)
	assert.ErrorIs(t, err, database.ErrInvalidConfig)
	assert.Nil(t, client)
}
