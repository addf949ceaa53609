// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// withCredentials sets the secrets every valid configuration needs.
func withCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("MARKETPLACE_CLIENT_ID", "client-id")
	t.Setenv("MARKETPLACE_CLIENT_SECRET", "client-secret")
}

func TestLoadDefaults(t *testing.T) {
	withCredentials(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8380 {
		t.Errorf("server.port = %d, want 8380", cfg.Server.Port)
	}
	if cfg.RateLimit.OrderDetail != 1000 {
		t.Errorf("rate_limit.order_detail = %d, want 1000", cfg.RateLimit.OrderDetail)
	}
	if cfg.Auth.MaxPollAttempts != 30 {
		t.Errorf("auth.max_poll_attempts = %d, want 30", cfg.Auth.MaxPollAttempts)
	}
	if cfg.Marketplace.Timeout != 30*time.Second {
		t.Errorf("marketplace.timeout = %v, want 30s", cfg.Marketplace.Timeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	withCredentials(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DUCKDB_PATH", "/tmp/orders.duckdb")
	t.Setenv("SYNC_WORKERS", "8")
	t.Setenv("RATE_LIMIT_EVENTS", "120")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/orders.duckdb" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Sync.Workers != 8 {
		t.Errorf("sync.workers = %d, want 8", cfg.Sync.Workers)
	}
	if cfg.RateLimit.Events != 120 {
		t.Errorf("rate_limit.events = %d, want 120", cfg.RateLimit.Events)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfigFileLayeredUnderEnv(t *testing.T) {
	withCredentials(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9100
sync:
  workers: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	// Env still beats the file.
	t.Setenv("SYNC_WORKERS", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("server.port = %d, want 9100 from file", cfg.Server.Port)
	}
	if cfg.Sync.Workers != 6 {
		t.Errorf("sync.workers = %d, want 6 from env", cfg.Sync.Workers)
	}
}

func TestUnknownEnvVarsAreIgnored(t *testing.T) {
	withCredentials(t)
	t.Setenv("PATH_MAX_SOMETHING", "not-a-config-value")

	if _, err := Load(); err != nil {
		t.Fatalf("unrelated environment broke loading: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "missing client id",
			mutate:  func(c *Config) { c.Marketplace.ClientID = "" },
			wantErr: "client_id",
		},
		{
			name:    "missing client secret",
			mutate:  func(c *Config) { c.Marketplace.ClientSecret = "" },
			wantErr: "client_secret",
		},
		{
			name:    "bad api base url",
			mutate:  func(c *Config) { c.Marketplace.APIBaseURL = "ftp://example.com" },
			wantErr: "api_base_url",
		},
		{
			name:    "zero rate limit quota",
			mutate:  func(c *Config) { c.RateLimit.Events = 0 },
			wantErr: "rate_limit.events",
		},
		{
			name:    "zero poll attempts",
			mutate:  func(c *Config) { c.Auth.MaxPollAttempts = 0 },
			wantErr: "max_poll_attempts",
		},
		{
			name:    "page size inversion",
			mutate:  func(c *Config) { c.API.MaxPageSize = 5; c.API.DefaultPageSize = 20 },
			wantErr: "max_page_size",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Marketplace.ClientID = "id"
			cfg.Marketplace.ClientSecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := defaultConfig()
	cfg.Marketplace.ClientID = "id"
	cfg.Marketplace.ClientSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
