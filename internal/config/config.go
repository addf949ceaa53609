// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

// Package config loads and validates the application configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in ascending precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Marketplace MarketplaceConfig `koanf:"marketplace"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Auth        AuthConfig        `koanf:"auth"`
	Sync        SyncConfig        `koanf:"sync"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds the DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// MarketplaceConfig holds the marketplace API connection settings.
type MarketplaceConfig struct {
	APIBaseURL     string        `koanf:"api_base_url"`
	AuthBaseURL    string        `koanf:"auth_base_url"`
	ClientID       string        `koanf:"client_id"`
	ClientSecret   string        `koanf:"client_secret"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// RateLimitConfig holds per-class marketplace request quotas, in
// requests per minute.
type RateLimitConfig struct {
	General        int           `koanf:"general"`
	Orders         int           `koanf:"orders"`
	OrderDetail    int           `koanf:"order_detail"`
	Events         int           `koanf:"events"`
	Auth           int           `koanf:"auth"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
}

// AuthConfig holds device authorization and token lifecycle settings.
type AuthConfig struct {
	SessionPath      string        `koanf:"session_path"`
	MaxPollAttempts  int           `koanf:"max_poll_attempts"`
	FallbackInterval time.Duration `koanf:"fallback_interval"`
	SlowDownStep     time.Duration `koanf:"slow_down_step"`
	TokenLeadTime    time.Duration `koanf:"token_lead_time"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
}

// SyncConfig holds scheduler and ingestion settings.
type SyncConfig struct {
	Workers       int           `koanf:"workers"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	EventPageSize int           `koanf:"event_page_size"`
	OrderPageSize int           `koanf:"order_page_size"`
}

// APIConfig holds the REST API settings.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that cannot work at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	if err := validateBaseURL("marketplace.api_base_url", c.Marketplace.APIBaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("marketplace.auth_base_url", c.Marketplace.AuthBaseURL); err != nil {
		return err
	}
	if c.Marketplace.ClientID == "" {
		return fmt.Errorf("marketplace.client_id is required")
	}
	if c.Marketplace.ClientSecret == "" {
		return fmt.Errorf("marketplace.client_secret is required")
	}
	if c.Marketplace.MaxRetries < 0 {
		return fmt.Errorf("marketplace.max_retries must not be negative, got %d", c.Marketplace.MaxRetries)
	}

	for name, quota := range map[string]int{
		"rate_limit.general":      c.RateLimit.General,
		"rate_limit.orders":       c.RateLimit.Orders,
		"rate_limit.order_detail": c.RateLimit.OrderDetail,
		"rate_limit.events":       c.RateLimit.Events,
		"rate_limit.auth":         c.RateLimit.Auth,
	} {
		if quota <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, quota)
		}
	}

	if c.Auth.SessionPath == "" {
		return fmt.Errorf("auth.session_path must not be empty")
	}
	if c.Auth.MaxPollAttempts <= 0 {
		return fmt.Errorf("auth.max_poll_attempts must be positive, got %d", c.Auth.MaxPollAttempts)
	}

	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Sync.PollInterval < time.Second {
		return fmt.Errorf("sync.poll_interval must be at least 1s, got %v", c.Sync.PollInterval)
	}

	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size %d is below api.default_page_size %d",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}

func validateBaseURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", name, raw)
	}
	return nil
}
