// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package config

import (
	"fmt"
)

// Validate checks the configuration for semantic errors that the type
// system cannot catch. Error messages name the environment variable
// that controls the offending setting.
func (c *Config) Validate() error {
	if err := c.validateMemory(); err != nil {
		return err
	}
	if err := c.validateStructured(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateInvalidation(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateRefresh(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateMemory() error {
	if c.Memory.MaxEntries <= 0 {
		return fmt.Errorf("MEMORY_MAX_ENTRIES must be positive, got %d", c.Memory.MaxEntries)
	}
	if c.Memory.MaxBytes <= 0 {
		return fmt.Errorf("MEMORY_MAX_BYTES must be positive, got %d", c.Memory.MaxBytes)
	}
	if c.Memory.CleanupInterval <= 0 {
		return fmt.Errorf("MEMORY_CLEANUP_INTERVAL must be positive, got %s", c.Memory.CleanupInterval)
	}
	return nil
}

func (c *Config) validateStructured() error {
	if c.Structured.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Structured.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative, got %d", c.Structured.Threads)
	}
	return nil
}

func (c *Config) validateBlob() error {
	if c.Blob.Path == "" && !c.Blob.InMemory {
		return fmt.Errorf("BADGER_PATH is required when BADGER_IN_MEMORY=false")
	}
	switch c.Blob.Compression {
	case "", "none", "snappy", "zstd":
	default:
		return fmt.Errorf("BADGER_COMPRESSION must be one of none, snappy, zstd, got %q", c.Blob.Compression)
	}
	if c.Blob.GCInterval > 0 && (c.Blob.GCRatio <= 0 || c.Blob.GCRatio > 1) {
		return fmt.Errorf("BADGER_GC_RATIO must be in (0, 1] when BADGER_GC_INTERVAL is set, got %g", c.Blob.GCRatio)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTLDay <= 0 {
		return fmt.Errorf("CACHE_TTL_DAY must be positive, got %s", c.Cache.TTLDay)
	}
	if c.Cache.TTLWeek <= 0 {
		return fmt.Errorf("CACHE_TTL_WEEK must be positive, got %s", c.Cache.TTLWeek)
	}
	if c.Cache.TTLMonth <= 0 {
		return fmt.Errorf("CACHE_TTL_MONTH must be positive, got %s", c.Cache.TTLMonth)
	}
	if c.Cache.BlobCeilingBytes <= 0 {
		return fmt.Errorf("CACHE_BLOB_CEILING must be positive, got %d", c.Cache.BlobCeilingBytes)
	}
	if c.Cache.BreakerFailureThreshold < 1 {
		return fmt.Errorf("CACHE_BREAKER_FAILURES must be at least 1, got %d", c.Cache.BreakerFailureThreshold)
	}
	if c.Cache.BreakerOpenTimeout <= 0 {
		return fmt.Errorf("CACHE_BREAKER_OPEN_TIMEOUT must be positive, got %s", c.Cache.BreakerOpenTimeout)
	}
	if c.Cache.PrimeCount < 0 {
		return fmt.Errorf("CACHE_PRIME_COUNT must not be negative, got %d", c.Cache.PrimeCount)
	}
	return nil
}

func (c *Config) validateInvalidation() error {
	if c.Invalidation.RetryInterval <= 0 {
		return fmt.Errorf("INVALIDATION_RETRY_INTERVAL must be positive, got %s", c.Invalidation.RetryInterval)
	}
	if c.Invalidation.RetryBackoff <= 0 {
		return fmt.Errorf("INVALIDATION_RETRY_BACKOFF must be positive, got %s", c.Invalidation.RetryBackoff)
	}
	if c.Invalidation.MaxRetries < 1 {
		return fmt.Errorf("INVALIDATION_MAX_RETRIES must be at least 1, got %d", c.Invalidation.MaxRetries)
	}
	if c.Invalidation.MaxPending < 1 {
		return fmt.Errorf("INVALIDATION_MAX_PENDING must be at least 1, got %d", c.Invalidation.MaxPending)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("EVENTS_BUFFER_SIZE must be at least 1 when EVENTS_ENABLED=true, got %d", c.Events.BufferSize)
	}
	if c.Events.CloseTimeout <= 0 {
		return fmt.Errorf("EVENTS_CLOSE_TIMEOUT must be positive, got %s", c.Events.CloseTimeout)
	}
	if c.Events.RetryMultiplier < 1 {
		return fmt.Errorf("EVENTS_RETRY_MULTIPLIER must be at least 1, got %g", c.Events.RetryMultiplier)
	}
	return nil
}

func (c *Config) validateRefresh() error {
	if !c.Refresh.Enabled {
		return nil
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive when REFRESH_ENABLED=true, got %s", c.Refresh.Interval)
	}
	if c.Refresh.LowWater <= 0 {
		return fmt.Errorf("REFRESH_LOW_WATER must be positive, got %s", c.Refresh.LowWater)
	}
	if c.Refresh.ScanLimit < 1 {
		return fmt.Errorf("REFRESH_SCAN_LIMIT must be at least 1, got %d", c.Refresh.ScanLimit)
	}
	if c.Refresh.MinAccessRate < 0 {
		return fmt.Errorf("REFRESH_MIN_ACCESS_RATE must not be negative, got %d", c.Refresh.MinAccessRate)
	}
	if c.Refresh.MaxConcurrent < 1 {
		return fmt.Errorf("REFRESH_MAX_CONCURRENT must be at least 1, got %d", c.Refresh.MaxConcurrent)
	}
	if c.Refresh.WarmsPerSecond <= 0 {
		return fmt.Errorf("REFRESH_WARMS_PER_SECOND must be positive, got %g", c.Refresh.WarmsPerSecond)
	}
	if c.Refresh.WarmTimeout <= 0 {
		return fmt.Errorf("REFRESH_WARM_TIMEOUT must be positive, got %s", c.Refresh.WarmTimeout)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Window <= 0 {
		return fmt.Errorf("METRICS_WINDOW must be positive, got %s", c.Metrics.Window)
	}
	if c.Metrics.Buckets < 1 {
		return fmt.Errorf("METRICS_BUCKETS must be at least 1, got %d", c.Metrics.Buckets)
	}
	if c.Metrics.MaxClasses < 1 {
		return fmt.Errorf("METRICS_MAX_CLASSES must be at least 1, got %d", c.Metrics.MaxClasses)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
