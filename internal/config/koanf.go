// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chronocache/config.yaml",
	"/etc/chronocache/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load resolves configuration using koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults. The resolved config is validated
// before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// Names are mapped through envTransformFunc:
	// DUCKDB_PATH -> structured.path
	// CACHE_TTL_DAY -> cache.ttl_day
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, checking the CONFIG_PATH
// environment variable first and then the default paths. Returns the
// first file that exists, or the empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unmapped variables return the empty string and are skipped,
// which keeps unrelated environment noise out of the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// L1 memory tier
		"memory_max_entries":      "memory.max_entries",
		"memory_max_bytes":        "memory.max_bytes",
		"memory_cleanup_interval": "memory.cleanup_interval",

		// L2 structured tier (DuckDB)
		"duckdb_path":           "structured.path",
		"duckdb_threads":        "structured.threads",
		"duckdb_max_memory":     "structured.max_memory",
		"duckdb_sweep_interval": "structured.sweep_interval",

		// L3 blob tier (BadgerDB)
		"badger_path":                "blob.path",
		"badger_in_memory":           "blob.in_memory",
		"badger_sync_writes":         "blob.sync_writes",
		"badger_compression":         "blob.compression",
		"badger_gc_interval":         "blob.gc_interval",
		"badger_gc_ratio":            "blob.gc_ratio",
		"badger_value_log_file_size": "blob.value_log_file_size",

		// Orchestrator
		"cache_ttl_day":              "cache.ttl_day",
		"cache_ttl_week":             "cache.ttl_week",
		"cache_ttl_month":            "cache.ttl_month",
		"cache_blob_ceiling":         "cache.blob_ceiling_bytes",
		"cache_breaker_failures":     "cache.breaker_failure_threshold",
		"cache_breaker_open_timeout": "cache.breaker_open_timeout",
		"cache_prime_count":          "cache.prime_count",

		// Invalidation controller
		"invalidation_retry_interval": "invalidation.retry_interval",
		"invalidation_retry_backoff":  "invalidation.retry_backoff",
		"invalidation_max_retries":    "invalidation.max_retries",
		"invalidation_max_pending":    "invalidation.max_pending",

		// Mutation event bus
		"events_enabled":                "events.enabled",
		"events_buffer_size":            "events.buffer_size",
		"events_close_timeout":          "events.close_timeout",
		"events_retry_max_retries":      "events.retry_max_retries",
		"events_retry_initial_interval": "events.retry_initial_interval",
		"events_retry_max_interval":     "events.retry_max_interval",
		"events_retry_multiplier":       "events.retry_multiplier",

		// Refresh scheduler
		"refresh_enabled":          "refresh.enabled",
		"refresh_interval":         "refresh.interval",
		"refresh_low_water":        "refresh.low_water",
		"refresh_scan_limit":       "refresh.scan_limit",
		"refresh_min_access_rate":  "refresh.min_access_rate",
		"refresh_max_concurrent":   "refresh.max_concurrent",
		"refresh_warms_per_second": "refresh.warms_per_second",
		"refresh_warm_timeout":     "refresh.warm_timeout",

		// Metrics collector
		"metrics_window":      "metrics.window",
		"metrics_buckets":     "metrics.buckets",
		"metrics_max_classes": "metrics.max_classes",

		// HTTP server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables do not
	// pollute the config.
	return ""
}
