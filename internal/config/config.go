package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dbgate/internal/backend"
	"dbgate/internal/database"
	"dbgate/internal/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DBGATE_LOG_LEVEL
const EnvPrefix = "DBGATE"

// Config represents the complete gateway configuration
type Config struct {
	Log       logger.Config             `mapstructure:"log"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Databases map[string]DatabaseConfig `mapstructure:"databases"`
}

// MetricsConfig represents the metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Address   string `mapstructure:"address"` // served in -serve mode
	Path      string `mapstructure:"path"`
}

// DatabaseConfig is one named backend target
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`

	database.ConnectionConfig `mapstructure:",squash"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults
	setDefaults(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Names returns the configured database names, sorted
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// setDefaults sets default values for configuration
func setDefaults(config *Config) {
	config.Log = *config.Log.SetDefaults()

	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "dbgate"
	}
	if config.Metrics.Address == "" {
		config.Metrics.Address = ":9090"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	for name, db := range config.Databases {
		db.Driver = backend.Normalize(db.Driver)
		db.ConnectionConfig = db.ConnectionConfig.WithDefaults()
		config.Databases[name] = db
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if err := config.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if len(config.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}

	for _, name := range config.Names() {
		db := config.Databases[name]
		if db.Driver == "" {
			return fmt.Errorf("database %s: driver is required", name)
		}
		if !backend.Supported(db.Driver) {
			return fmt.Errorf("database %s: %w: %s (supported: %s)", name,
				backend.ErrUnsupportedDriver, db.Driver, strings.Join(backend.Drivers(), ", "))
		}
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database %s: %w", name, err)
		}
	}

	return nil
}
