// Package config defines service configuration and how it is loaded.
//
// Conventions:
//   - Flat koanf keys so every field maps onto one PROFILER_ env var.
//   - New returns defaults; Load layers a YAML file and env on top.
//   - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`
	// Partitions is the number of per-student serialization lanes.
	Partitions int `koanf:"partitions"`
	// PartitionBuffer is how many events each lane holds.
	PartitionBuffer int `koanf:"partition_buffer"`
	// DedupeSize sets the size of the submission-id deduplication window.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreDriver is memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	// StoreDSN is the sqlite file path or postgres connection string.
	StoreDSN string `koanf:"store_dsn"`
	// StoreShards configures the memory store.
	StoreShards int `koanf:"store_shards"`
	// StoreMaxOpenConns caps SQL pool size. Ignored for sqlite.
	StoreMaxOpenConns int `koanf:"store_max_open_conns"`
	// StoreAutoMigrate applies migrations when the SQL store opens.
	StoreAutoMigrate bool `koanf:"store_auto_migrate"`

	// WeightsFile points at a YAML or JSON weight table. Empty selects the
	// built-in table.
	WeightsFile string `koanf:"weights_file"`

	// CognitiveWeight and AcademicWeight are the per-type aggregation weights.
	CognitiveWeight float64 `koanf:"cognitive_weight"`
	AcademicWeight  float64 `koanf:"academic_weight"`

	// Classifier thresholds.
	PrimaryThreshold   float64 `koanf:"primary_threshold"`
	SecondaryThreshold float64 `koanf:"secondary_threshold"`
	ClosenessMargin    float64 `koanf:"closeness_margin"`
	HighSpeedThreshold float64 `koanf:"high_speed_threshold"`

	// MaxAttempts bounds compare-and-commit retries per event.
	MaxAttempts int `koanf:"max_attempts"`
	// RetryBackoffMS is the base delay between attempts.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`

	// WebhookURL receives ClassificationUpdated events. Empty logs them.
	WebhookURL string `koanf:"webhook_url"`
	// WebhookAttempts bounds delivery attempts per update.
	WebhookAttempts int `koanf:"webhook_attempts"`
	// WebhookTimeoutMS is the per-request timeout.
	WebhookTimeoutMS int `koanf:"webhook_timeout_ms"`

	// NotifyOutboxSize bounds updates waiting for delivery.
	NotifyOutboxSize int `koanf:"notify_outbox_size"`

	// MaxFailuresLimit caps GET /failures?limit.
	MaxFailuresLimit int `koanf:"max_failures_limit"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		EventQueueSize:     10_000,
		Partitions:         runtime.NumCPU() * 2,
		PartitionBuffer:    64,
		DedupeSize:         50_000,
		StoreDriver:        DriverMemory,
		StoreShards:        16,
		StoreMaxOpenConns:  10,
		StoreAutoMigrate:   true,
		CognitiveWeight:    0.5,
		AcademicWeight:     0.5,
		PrimaryThreshold:   0.6,
		SecondaryThreshold: 0.4,
		ClosenessMargin:    0.15,
		HighSpeedThreshold: 0.6,
		MaxAttempts:        3,
		RetryBackoffMS:     5,
		WebhookAttempts:    3,
		WebhookTimeoutMS:   10_000,
		NotifyOutboxSize:   1024,
		MaxFailuresLimit:   100,
	}
}

// RetryBackoff returns RetryBackoffMS as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// WebhookTimeout returns WebhookTimeoutMS as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMS) * time.Millisecond
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.Partitions <= 0:
		return fmt.Errorf("%w: partitions must be positive", ErrInvalidConfig)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	case c.RetryBackoffMS < 0:
		return fmt.Errorf("%w: retry_backoff_ms must not be negative", ErrInvalidConfig)
	case c.CognitiveWeight <= 0 || c.AcademicWeight <= 0:
		return fmt.Errorf("%w: type weights must be positive", ErrInvalidConfig)
	case c.NotifyOutboxSize <= 0:
		return fmt.Errorf("%w: notify_outbox_size must be positive", ErrInvalidConfig)
	case c.MaxFailuresLimit <= 0:
		return fmt.Errorf("%w: max_failures_limit must be positive", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"primary_threshold":    c.PrimaryThreshold,
		"secondary_threshold":  c.SecondaryThreshold,
		"closeness_margin":     c.ClosenessMargin,
		"high_speed_threshold": c.HighSpeedThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidConfig, name)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("%w: store_dsn is required for %s", ErrInvalidConfig, c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	return nil
}
