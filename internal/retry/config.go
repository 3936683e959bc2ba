package retry

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Config defines the configuration for the retry mechanism.
type Config struct {
	Enable      bool          `mapstructure:"enable" json:"enable"`             // Enable retry
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"` // Total attempts, including the first
	Delay       time.Duration `mapstructure:"delay" json:"delay"`               // Wait before the second attempt
	Backoff     float64       `mapstructure:"backoff" json:"backoff"`           // Multiplier applied per further attempt
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *Config {
	return &Config{
		Enable:      true,
		MaxAttempts: 3,
		Delay:       time.Second,
		Backoff:     2.0,
	}
}

// Validate validates the retry configuration.
func (cfg *Config) Validate() error {
	if cfg == nil || !cfg.Enable {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("MaxAttempts must be greater than zero")
	}
	if cfg.Delay < 0 {
		return errors.New("delay cannot be negative")
	}
	if cfg.Backoff < 1 {
		return errors.New("backoff must be at least 1")
	}
	return nil
}

// BackoffFor returns the wait before attempt+1, i.e.
// delay * backoff^(attempt-1) for attempt >= 1.
func (cfg *Config) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(cfg.Delay) * math.Pow(cfg.Backoff, float64(attempt-1)))
}

// String returns a JSON string representation of the Config.
func (cfg *Config) String() string {
	data, _ := json.Marshal(cfg)
	return string(data)
}
