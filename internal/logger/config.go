package logger

import "fmt"

// Config represents logging configuration
type Config struct {
	File       string `mapstructure:"file" json:"file"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"` // days
	Compress   bool   `mapstructure:"compress" json:"compress"`
	Level      string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" json:"format"` // console output: console, json
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
		Level:      "info",
		Format:     "console",
	}
}

// SetDefaults returns a copy with empty fields filled from DefaultConfig
func (cfg *Config) SetDefaults() *Config {
	def := DefaultConfig()
	out := *cfg

	if out.MaxSize <= 0 {
		out.MaxSize = def.MaxSize
	}
	if out.MaxBackups <= 0 {
		out.MaxBackups = def.MaxBackups
	}
	if out.MaxAge <= 0 {
		out.MaxAge = def.MaxAge
	}
	if out.Level == "" {
		out.Level = def.Level
	}
	if out.Format == "" {
		out.Format = def.Format
	}
	return &out
}

// Validate validates logging configuration
func (cfg *Config) Validate() error {
	if cfg.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive")
	}
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	switch cfg.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	return nil
}
