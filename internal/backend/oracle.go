package backend

import (
	"dbgate/internal/database"

	go_ora "github.com/sijms/go-ora/v2"
)

const defaultOraclePort = 1521

// NewOracle returns the Oracle backend. Database holds the service name.
func NewOracle() database.Backend[*SQLConn] {
	return &sqlBackend{
		name:       DriverOracle,
		driverName: "oracle",
		ping:       "SELECT 1 FROM DUAL",
		dsn:        oracleDSN,
	}
}

// oracleDSN builds a go-ora connection URL
func oracleDSN(cfg database.ConnectionConfig) (string, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultOraclePort
	}

	options := make(map[string]string, len(cfg.Extra)+2)
	if cfg.TLS.Enabled && cfg.TLS.Mode != "disable" {
		options["SSL"] = "enable"
		if cfg.TLS.InsecureSkipVerify || cfg.TLS.Mode == "require" {
			options["SSL VERIFY"] = "false"
		}
	}
	for k, v := range cfg.Extra {
		options[k] = v
	}

	return go_ora.BuildUrl(cfg.Host, port, cfg.Database, cfg.User, cfg.Password, options), nil
}
