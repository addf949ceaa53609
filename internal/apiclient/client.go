// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/*
client.go - Marketplace API client

One client instance serves all tenants. Every outbound request passes
through the per-class rate limiter and the shared circuit breaker, then
a classified retry loop:

  - network errors and 5xx responses retry with exponential backoff
    (base delay doubling, bounded attempts)
  - 429 penalizes the endpoint class with the server's Retry-After and
    retries once without consuming the backoff budget
  - 401 on a tenant request forces a token refresh and retries once
  - remaining 4xx responses fail immediately as permanent

Tenant-scoped calls obtain their bearer token from the bound
TokenProvider on every attempt.
*/

package apiclient

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/ordervault/internal/ratelimit"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
	maxRetryDelay         = 16 * time.Second
)

// TokenProvider supplies tenant access tokens. Implemented by the token
// manager; bound after construction because the manager refreshes
// through this client's auth endpoints.
type TokenProvider interface {
	// EnsureValid returns an access token usable right now.
	EnsureValid(ctx context.Context, tenantID string) (string, error)

	// ForceRefresh discards the current access token and obtains a new
	// one. Called after the API rejects a token with 401.
	ForceRefresh(ctx context.Context, tenantID string) (string, error)
}

// Config holds marketplace client configuration.
type Config struct {
	// APIBaseURL is the base URL of the order API.
	APIBaseURL string `koanf:"api_base_url"`

	// AuthBaseURL is the base URL of the OAuth endpoints.
	AuthBaseURL string `koanf:"auth_base_url"`

	// ClientID and ClientSecret authenticate the application itself at
	// the OAuth endpoints.
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// Timeout bounds a single HTTP exchange. Default: 30s
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the number of retries after the first attempt for
	// transient failures. Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBaseDelay is the first backoff delay; it doubles per retry
	// up to 16s. Default: 1s
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// Client is a rate-limited, circuit-broken marketplace API client.
type Client struct {
	apiBaseURL     string
	authBaseURL    string
	clientID       string
	clientSecret   string
	httpClient     *http.Client
	limiter        *ratelimit.Limiter
	breaker        *breaker
	tokens         TokenProvider
	maxRetries     int
	retryBaseDelay time.Duration
}

// New creates a marketplace client. Bind a TokenProvider before issuing
// tenant-scoped requests.
func New(cfg Config, limiter *ratelimit.Limiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	return &Client{
		apiBaseURL:     cfg.APIBaseURL,
		authBaseURL:    cfg.AuthBaseURL,
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		limiter:        limiter,
		breaker:        newBreaker(),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// BindTokenProvider attaches the token source for tenant-scoped calls.
// Must be called before the first tenant request; not safe to call
// concurrently with requests.
func (c *Client) BindTokenProvider(tp TokenProvider) {
	c.tokens = tp
}
