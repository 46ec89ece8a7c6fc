// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

// Package config holds the daemon configuration and its layered loader.
//
// Configuration is resolved in three layers with clear precedence:
// built-in defaults, then an optional YAML file, then environment
// variables. See koanf.go for the loader and the environment variable
// table.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration for chronocached.
type Config struct {
	Memory       MemoryConfig       `koanf:"memory"`
	Structured   StructuredConfig   `koanf:"structured"`
	Blob         BlobConfig         `koanf:"blob"`
	Cache        CacheConfig        `koanf:"cache"`
	Invalidation InvalidationConfig `koanf:"invalidation"`
	Events       EventsConfig       `koanf:"events"`
	Refresh      RefreshConfig      `koanf:"refresh"`
	Metrics      MetricsConfig      `koanf:"metrics"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// MemoryConfig tunes the L1 in-process tier.
type MemoryConfig struct {
	MaxEntries      int           `koanf:"max_entries"`      // LRU capacity in entries
	MaxBytes        int64         `koanf:"max_bytes"`        // LRU capacity in payload bytes
	CleanupInterval time.Duration `koanf:"cleanup_interval"` // How often the janitor reaps expired entries
}

// StructuredConfig tunes the L2 embedded DuckDB tier.
type StructuredConfig struct {
	Path          string        `koanf:"path"`           // Database file path
	Threads       int           `koanf:"threads"`        // DuckDB parallelism, 0 = NumCPU
	MaxMemory     string        `koanf:"max_memory"`     // DuckDB memory ceiling, e.g. "512MB"
	SweepInterval time.Duration `koanf:"sweep_interval"` // Expired-row sweep cadence, 0 disables
}

// BlobConfig tunes the L3 BadgerDB tier.
type BlobConfig struct {
	Path             string        `koanf:"path"`                // BadgerDB directory
	InMemory         bool          `koanf:"in_memory"`           // Keep L3 in RAM (ephemeral deployments)
	SyncWrites       bool          `koanf:"sync_writes"`         // fsync every write
	Compression      string        `koanf:"compression"`         // snappy, zstd or none
	GCInterval       time.Duration `koanf:"gc_interval"`         // Value log GC cadence, 0 disables
	GCRatio          float64       `koanf:"gc_ratio"`            // Space-reclaim threshold for GC
	ValueLogFileSize int64         `koanf:"value_log_file_size"` // Per-file cap, 0 = BadgerDB default
}

// CacheConfig tunes the cross-tier orchestrator.
type CacheConfig struct {
	TTLDay                  time.Duration `koanf:"ttl_day"`                   // TTL for day-granularity aggregates
	TTLWeek                 time.Duration `koanf:"ttl_week"`                  // TTL for week-granularity aggregates
	TTLMonth                time.Duration `koanf:"ttl_month"`                 // TTL for month-granularity aggregates
	BlobCeilingBytes        int64         `koanf:"blob_ceiling_bytes"`        // Values above this stay L3-only
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"` // Consecutive L3 failures before the breaker opens
	BreakerOpenTimeout      time.Duration `koanf:"breaker_open_timeout"`      // How long the breaker stays open
	PrimeCount              int           `koanf:"prime_count"`               // Entries promoted from L2 to L1 at startup, 0 disables
}

// InvalidationConfig tunes the mutation-driven invalidation controller.
type InvalidationConfig struct {
	RetryInterval time.Duration `koanf:"retry_interval"` // How often the retry loop wakes
	RetryBackoff  time.Duration `koanf:"retry_backoff"`  // Base backoff between attempts on one entry
	MaxRetries    int           `koanf:"max_retries"`    // Attempts before a failed invalidation is abandoned
	MaxPending    int           `koanf:"max_pending"`    // Retry queue capacity
}

// EventsConfig tunes the in-process mutation event bus.
type EventsConfig struct {
	Enabled              bool          `koanf:"enabled"`                // Master toggle for the bus
	BufferSize           int64         `koanf:"buffer_size"`            // Per-subscriber channel buffer
	CloseTimeout         time.Duration `koanf:"close_timeout"`          // Router shutdown grace period
	RetryMaxRetries      int           `koanf:"retry_max_retries"`      // Handler retry middleware attempts
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"` // First retry delay
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`     // Retry delay cap
	RetryMultiplier      float64       `koanf:"retry_multiplier"`       // Retry delay growth factor
}

// RefreshConfig tunes the refresh-ahead scheduler.
type RefreshConfig struct {
	Enabled        bool          `koanf:"enabled"`          // Master toggle for refresh-ahead
	Interval       time.Duration `koanf:"interval"`         // Pass cadence
	LowWater       time.Duration `koanf:"low_water"`        // Remaining-TTL window that marks a candidate
	ScanLimit      int           `koanf:"scan_limit"`       // Candidates pulled per pass
	MinAccessRate  int64         `koanf:"min_access_rate"`  // Rolling-window accesses required to warm
	MaxConcurrent  int           `koanf:"max_concurrent"`   // Concurrent warm computations
	WarmsPerSecond float64       `koanf:"warms_per_second"` // Warm start rate limit
	WarmTimeout    time.Duration `koanf:"warm_timeout"`     // Per-warm computation timeout
}

// MetricsConfig tunes the in-process activity collector.
type MetricsConfig struct {
	Window     time.Duration `koanf:"window"`      // Access-frequency rolling window
	Buckets    int           `koanf:"buckets"`     // Ring buckets subdividing the window
	MaxClasses int           `koanf:"max_classes"` // Tracked key classes (metric+granularity)
}

// ServerConfig tunes the diagnostics HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"` // Read/write timeout
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig tunes structured log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error, fatal, panic
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"` // Include caller file:line
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			MaxEntries:      10000,
			MaxBytes:        64 << 20, // 64MB
			CleanupInterval: time.Minute,
		},
		Structured: StructuredConfig{
			Path:          "/data/chronocache.duckdb",
			Threads:       0, // 0 = use runtime.NumCPU()
			MaxMemory:     "512MB",
			SweepInterval: 5 * time.Minute,
		},
		Blob: BlobConfig{
			Path:             "/data/chronocache-blob",
			InMemory:         false,
			SyncWrites:       false,
			Compression:      "snappy",
			GCInterval:       10 * time.Minute,
			GCRatio:          0.5,
			ValueLogFileSize: 0, // 0 = BadgerDB default
		},
		Cache: CacheConfig{
			TTLDay:                  30 * time.Minute,
			TTLWeek:                 2 * time.Hour,
			TTLMonth:                6 * time.Hour,
			BlobCeilingBytes:        256 << 10, // 256KB
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
			PrimeCount:              128,
		},
		Invalidation: InvalidationConfig{
			RetryInterval: 5 * time.Second,
			RetryBackoff:  500 * time.Millisecond,
			MaxRetries:    8,
			MaxPending:    4096,
		},
		Events: EventsConfig{
			Enabled:              true,
			BufferSize:           64,
			CloseTimeout:         30 * time.Second,
			RetryMaxRetries:      3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			RetryMultiplier:      2.0,
		},
		Refresh: RefreshConfig{
			Enabled:        true,
			Interval:       time.Minute,
			LowWater:       5 * time.Minute,
			ScanLimit:      256,
			MinAccessRate:  3,
			MaxConcurrent:  4,
			WarmsPerSecond: 8,
			WarmTimeout:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			Window:     15 * time.Minute,
			Buckets:    15,
			MaxClasses: 4096,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3600,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
