// Package config defines process configuration and how it is loaded.
//
// Conventions:
//   - Defaults live in New; Load layers a YAML file and environment
//     variables on top.
//   - External errors are wrapped with this package's sentinels.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// DBDriver selects the ranking database: sqlite or postgres.
	DBDriver string `koanf:"db_driver" validate:"oneof=sqlite postgres"`

	// DBDSN is passed to the database driver as is.
	DBDSN string `koanf:"db_dsn" validate:"required"`

	// QueueSize bounds the pending mutations per partition.
	QueueSize int `koanf:"queue_size" validate:"min=1"`

	// WorkerIdleMS stops a partition worker after that long without work.
	WorkerIdleMS int `koanf:"worker_idle_ms" validate:"min=1"`

	// DedupeSize sets how many request ids are remembered.
	DedupeSize int `koanf:"dedupe_size" validate:"min=0"`

	// CacheTTLMS is how long a fetched list is served from cache; 0 disables it.
	CacheTTLMS int `koanf:"cache_ttl_ms" validate:"min=0"`

	// BreakerFailures opens the client circuit breaker after that many
	// consecutive failures; BreakerTimeoutMS is how long it stays open.
	BreakerFailures  int `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeoutMS int `koanf:"breaker_timeout_ms" validate:"min=1"`

	// HTTPTimeoutMS bounds every client request.
	HTTPTimeoutMS int `koanf:"http_timeout_ms" validate:"min=1"`

	// ReloadAfterDelete makes clients refetch a list after each delete.
	ReloadAfterDelete bool `koanf:"reload_after_delete"`
}

// New returns a Config holding the defaults. Context is accepted first to
// follow the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":9080",
		DBDriver:         "sqlite",
		DBDSN:            "file:reelrank.db?_pragma=busy_timeout(5000)",
		QueueSize:        64,
		WorkerIdleMS:     60_000,
		DedupeSize:       50_000,
		CacheTTLMS:       0,
		BreakerFailures:  5,
		BreakerTimeoutMS: 30_000,
		HTTPTimeoutMS:    5_000,
	}
}

// CacheTTL returns CacheTTLMS as a duration.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLMS) * time.Millisecond }

// BreakerTimeout returns BreakerTimeoutMS as a duration.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutMS) * time.Millisecond
}

// WorkerIdle returns WorkerIdleMS as a duration.
func (c *Config) WorkerIdle() time.Duration { return time.Duration(c.WorkerIdleMS) * time.Millisecond }

// HTTPTimeout returns HTTPTimeoutMS as a duration.
func (c *Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutMS) * time.Millisecond }
