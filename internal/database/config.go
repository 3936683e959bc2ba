package database

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"dbgate/internal/validator"
)

// ConnectionConfig describes one backend target. It is treated as an
// immutable value: clients keep their own copy.
type ConnectionConfig struct {
	Host     string `mapstructure:"host" json:"host" validate:"dbhost"`
	Port     int    `mapstructure:"port" json:"port" validate:"gte=0,lte=65535"`
	Database string `mapstructure:"database" json:"database"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"-"`

	// Pool sizing
	MinPoolSize int `mapstructure:"min_pool_size" json:"min_pool_size" validate:"gte=0"`
	MaxPoolSize int `mapstructure:"max_pool_size" json:"max_pool_size" validate:"min=1,gtefield=MinPoolSize"`

	// Timeouts
	PoolTimeout       time.Duration `mapstructure:"pool_timeout" json:"pool_timeout" validate:"gte=0"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" json:"connection_timeout" validate:"gte=0"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout" json:"query_timeout" validate:"gte=0"`

	// Retry policy
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries" validate:"min=1"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" json:"retry_delay" validate:"gte=0"`
	RetryBackoff float64       `mapstructure:"retry_backoff" json:"retry_backoff" validate:"gte=1"`

	TLS   TLSConfig         `mapstructure:"tls" json:"tls"`
	Extra map[string]string `mapstructure:"extra" json:"extra,omitempty"`
}

// TLSConfig represents the TLS settings of a backend connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled" json:"enabled"`
	Mode               string `mapstructure:"mode" json:"mode" validate:"tlsmode"` // disable, require, verify-ca, verify-full
	CAFile             string `mapstructure:"ca_file" json:"ca_file,omitempty"`
	CertFile           string `mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile            string `mapstructure:"key_file" json:"key_file,omitempty"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// DefaultConnectionConfig returns the default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Host:              "localhost",
		MinPoolSize:       1,
		MaxPoolSize:       10,
		PoolTimeout:       30 * time.Second,
		ConnectionTimeout: 10 * time.Second,
		QueryTimeout:      30 * time.Second,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		RetryBackoff:      2.0,
	}
}

// WithDefaults returns a copy with zero values replaced by defaults
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	def := DefaultConnectionConfig()

	if c.Host == "" {
		c.Host = def.Host
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = def.MaxPoolSize
	}
	if c.MinPoolSize < 0 {
		c.MinPoolSize = def.MinPoolSize
	}
	if c.PoolTimeout <= 0 {
		c.PoolTimeout = def.PoolTimeout
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = def.ConnectionTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}

	// Copy the map so the caller's value cannot be changed through ours
	if c.Extra != nil {
		extra := make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			extra[k] = v
		}
		c.Extra = extra
	}

	return c
}

// Validate validates connection configuration
func (c ConnectionConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewError(KindConfig, CodeInvalidConfig, "invalid connection config", "validate", err)
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		return NewError(KindConfig, CodeInvalidConfig, "invalid connection config", "validate",
			fmt.Errorf("tls key_file is required when cert_file is set"))
	}
	return nil
}

// Address returns host:port, or just the host when no port is set
func (c ConnectionConfig) Address() string {
	if c.Port == 0 {
		return c.Host
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a JSON representation without the password
func (c ConnectionConfig) String() string {
	data, _ := json.Marshal(c)
	return string(data)
}

// Build creates a *tls.Config, or nil when TLS is disabled
func (t TLSConfig) Build(serverName string) (*tls.Config, error) {
	if !t.Enabled || t.Mode == "disable" {
		return nil, nil
	}

	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify || t.Mode == "require",
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}

	// verify-ca trusts any host name the CA vouches for
	if t.Mode == "verify-ca" && !t.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChain(cfg.RootCAs)
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// verifyChain checks the server chain against roots, or the system pool
// when roots is nil, without matching the host name
func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server sent no certificate")
		}

		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			certs[i] = cert
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}
