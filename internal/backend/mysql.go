package backend

import (
	"fmt"
	"net"
	"strconv"

	"dbgate/internal/database"

	"github.com/go-sql-driver/mysql"
)

const defaultMySQLPort = 3306

// NewMySQL returns the MySQL backend
func NewMySQL() database.Backend[*SQLConn] {
	return &sqlBackend{
		name:       DriverMySQL,
		driverName: "mysql",
		ping:       "SELECT 1",
		dsn:        mysqlDSN,
	}
}

// mysqlDSN builds a go-sql-driver DSN. TLS settings are registered with
// the driver under a name derived from the address.
func mysqlDSN(cfg database.ConnectionConfig) (string, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultMySQLPort
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.Timeout = cfg.ConnectionTimeout
	mc.ParseTime = true
	mc.InterpolateParams = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range cfg.Extra {
		mc.Params[k] = v
	}

	tlsCfg, err := cfg.TLS.Build(cfg.Host)
	if err != nil {
		return "", err
	}
	if tlsCfg != nil {
		name := fmt.Sprintf("dbgate-%s-%d", cfg.Host, port)
		if err := mysql.RegisterTLSConfig(name, tlsCfg); err != nil {
			return "", fmt.Errorf("failed to register tls config: %w", err)
		}
		mc.TLSConfig = name
	}

	return mc.FormatDSN(), nil
}
