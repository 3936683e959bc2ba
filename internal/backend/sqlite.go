package backend

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"dbgate/internal/database"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLite returns the SQLite backend. Database holds the file path;
// an empty path or ":memory:" gives every connection its own in-memory
// database.
func NewSQLite() database.Backend[*SQLConn] {
	return &sqlBackend{
		name:       DriverSQLite,
		driverName: "sqlite3",
		ping:       "SELECT 1",
		dsn:        sqliteDSN,
	}
}

// sqliteDSN builds a go-sqlite3 DSN, creating the parent directory of a
// file database
func sqliteDSN(cfg database.ConnectionConfig) (string, error) {
	path := cfg.Database
	memory := path == "" || path == ":memory:" || strings.Contains(path, "mode=memory")
	if path == "" {
		path = ":memory:"
	}

	if !memory {
		if err := ensureDBDir(path); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "1")
	if !memory {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	for k, v := range cfg.Extra {
		params.Set(k, v)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + params.Encode(), nil
}

// ensureDBDir ensures database directory exists
func ensureDBDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}
