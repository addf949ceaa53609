// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ordervault/config.yaml",
	"/etc/ordervault/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults. They are applied first,
// then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8380,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/ordervault.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Marketplace: MarketplaceConfig{
			APIBaseURL:     "https://api.allegro.pl",
			AuthBaseURL:    "https://allegro.pl",
			ClientID:       "",
			ClientSecret:   "",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		RateLimit: RateLimitConfig{
			General:        60,
			Orders:         100,
			OrderDetail:    1000,
			Events:         60,
			Auth:           10,
			AcquireTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			SessionPath:      "/data/sessions",
			MaxPollAttempts:  30,
			FallbackInterval: 5 * time.Second,
			SlowDownStep:     5 * time.Second,
			TokenLeadTime:    5 * time.Minute,
			SweepInterval:    time.Minute,
		},
		Sync: SyncConfig{
			Workers:       4,
			PollInterval:  30 * time.Second,
			EventPageSize: 1000,
			OrderPageSize: 100,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
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

// findConfigFile returns the first existing config file, or empty.
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

// envTransformFunc maps environment variable names to config paths.
// Unknown variables are dropped so unrelated process environment does
// not leak into the configuration.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - MARKETPLACE_CLIENT_ID -> marketplace.client_id
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Marketplace mappings
		"marketplace_api_base_url":     "marketplace.api_base_url",
		"marketplace_auth_base_url":    "marketplace.auth_base_url",
		"marketplace_client_id":        "marketplace.client_id",
		"marketplace_client_secret":    "marketplace.client_secret",
		"marketplace_timeout":          "marketplace.timeout",
		"marketplace_max_retries":      "marketplace.max_retries",
		"marketplace_retry_base_delay": "marketplace.retry_base_delay",

		// Rate limit mappings
		"rate_limit_general":         "rate_limit.general",
		"rate_limit_orders":          "rate_limit.orders",
		"rate_limit_order_detail":    "rate_limit.order_detail",
		"rate_limit_events":          "rate_limit.events",
		"rate_limit_auth":            "rate_limit.auth",
		"rate_limit_acquire_timeout": "rate_limit.acquire_timeout",

		// Auth mappings
		"auth_session_path":      "auth.session_path",
		"auth_max_poll_attempts": "auth.max_poll_attempts",
		"auth_fallback_interval": "auth.fallback_interval",
		"auth_slow_down_step":    "auth.slow_down_step",
		"auth_token_lead_time":   "auth.token_lead_time",
		"auth_sweep_interval":    "auth.sweep_interval",

		// Sync mappings
		"sync_workers":         "sync.workers",
		"sync_poll_interval":   "sync.poll_interval",
		"sync_event_page_size": "sync.event_page_size",
		"sync_order_page_size": "sync.order_page_size",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",
		"api_rate_limit_reqs":   "api.rate_limit_reqs",
		"api_rate_limit_window": "api.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
