// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/ratelimit"
)

// requestConfig describes one API request for the retry loop.
type requestConfig struct {
	method string
	path   string
	query  url.Values
	class  ratelimit.Class

	// tenantID selects the bearer token. Empty means the request is
	// unauthenticated (auth endpoints use basic auth instead).
	tenantID string
}

// apiResponse is one drained HTTP exchange.
type apiResponse struct {
	status     int
	body       []byte
	retryAfter string
}

// do runs the classified retry loop and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, rc requestConfig, out any) error {
	var (
		lastErr   error
		refreshed bool
		penalized bool
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		var token string
		if rc.tenantID != "" {
			var err error
			token, err = c.tokens.EnsureValid(ctx, rc.tenantID)
			if err != nil {
				return fmt.Errorf("ensure token for tenant %s: %w", rc.tenantID, err)
			}
		}

		if err := c.limiter.Acquire(ctx, rc.class); err != nil {
			return err
		}

		resp, err := c.send(ctx, rc, token)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			metrics.ClientRetriesTotal.WithLabelValues("network").Inc()
			lastErr = fmt.Errorf("%w: %s %s: %v", ErrTransientNetwork, rc.method, rc.path, err)
			continue
		}

		metrics.ClientRequestsTotal.WithLabelValues(string(rc.class), strconv.Itoa(resp.status)).Inc()

		switch {
		case resp.status >= 200 && resp.status < 300:
			if out == nil || len(resp.body) == 0 {
				return nil
			}
			if err := json.Unmarshal(resp.body, out); err != nil {
				return fmt.Errorf("decode %s %s response: %w", rc.method, rc.path, err)
			}
			return nil

		case resp.status == http.StatusTooManyRequests:
			c.limiter.Penalize(rc.class, parseRetryAfter(resp.retryAfter))
			lastErr = statusError(ErrRateLimited, resp.status, trimBody(resp.body))
			// The first 429 gets a free retry after the penalty; the
			// server told us exactly when capacity returns.
			if !penalized {
				penalized = true
				attempt--
			}
			metrics.ClientRetriesTotal.WithLabelValues("rate_limited").Inc()
			continue

		case resp.status == http.StatusUnauthorized && rc.tenantID != "" && !refreshed:
			refreshed = true
			if _, err := c.tokens.ForceRefresh(ctx, rc.tenantID); err != nil {
				return fmt.Errorf("refresh after 401: %w", err)
			}
			metrics.ClientRetriesTotal.WithLabelValues("unauthorized").Inc()
			attempt--
			continue

		case resp.status == http.StatusUnauthorized:
			return statusError(ErrAuthExpired, resp.status, trimBody(resp.body))

		case resp.status >= 500:
			metrics.ClientRetriesTotal.WithLabelValues("server_error").Inc()
			lastErr = statusError(ErrTransientNetwork, resp.status, trimBody(resp.body))
			continue

		default:
			return statusError(ErrPermanentAPI, resp.status, trimBody(resp.body))
		}
	}

	logging.Warn().
		Str("method", rc.method).
		Str("path", rc.path).
		Int("attempts", c.maxRetries+1).
		Err(lastErr).
		Msg("Marketplace request exhausted retries")
	return lastErr
}

// send performs one HTTP exchange under the circuit breaker.
func (c *Client) send(ctx context.Context, rc requestConfig, token string) (*apiResponse, error) {
	u := c.apiBaseURL + rc.path
	if len(rc.query) > 0 {
		u += "?" + rc.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	c.observeQuota(rc.class, resp.Header)

	return &apiResponse{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

// observeQuota feeds the server-reported remaining quota to the limiter.
func (c *Client) observeQuota(class ratelimit.Class, h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	c.limiter.ObserveRemaining(class, n)
}

// backoff sleeps out the exponential delay before a retry.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// readBody drains a response body with a sanity cap.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func trimBody(body []byte) string {
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	return string(bytes.TrimSpace(body))
}

// parseRetryAfter interprets a Retry-After header value as seconds.
// Missing or malformed values fall back to one second.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}
