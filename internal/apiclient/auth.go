// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/*
auth.go - OAuth device flow and token endpoints

These endpoints authenticate with the application's client credentials,
not a tenant token, and their 400 responses carry OAuth error codes that
the device flow must see individually (authorization_pending, slow_down,
access_denied, expired_token). They therefore bypass the generic 4xx
classification of the request loop.
*/

package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/ratelimit"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// InitiateDeviceAuth starts a device authorization and returns the codes
// the user needs to approve access.
func (c *Client) InitiateDeviceAuth(ctx context.Context) (*DeviceAuthResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)

	var resp DeviceAuthResponse
	if err := c.doAuthForm(ctx, "/auth/oauth/device", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PollDeviceAuth asks the token endpoint whether the user has approved
// the device. Returns ErrAuthPending, ErrAuthSlowDown, ErrAuthDenied or
// ErrAuthCodeExpired while the grant is not available.
func (c *Client) PollDeviceAuth(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	metrics.DeviceAuthPollsTotal.Inc()

	form := url.Values{}
	form.Set("grant_type", deviceGrantType)
	form.Set("device_code", deviceCode)

	var resp TokenResponse
	if err := c.doAuthForm(ctx, "/auth/oauth/token", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshToken exchanges a refresh token for a new token pair. A
// rejected refresh token surfaces as ErrPermanentAPI.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	var resp TokenResponse
	if err := c.doAuthForm(ctx, "/auth/oauth/token", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doAuthForm posts a form to an OAuth endpoint with transient retries.
// OAuth 400s are mapped to their sentinel and never retried.
func (c *Client) doAuthForm(ctx context.Context, path string, form url.Values, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		if err := c.limiter.Acquire(ctx, ratelimit.ClassAuth); err != nil {
			return err
		}

		resp, err := c.sendAuthForm(ctx, path, form)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			metrics.ClientRetriesTotal.WithLabelValues("network").Inc()
			lastErr = fmt.Errorf("%w: POST %s: %v", ErrTransientNetwork, path, err)
			continue
		}

		switch {
		case resp.status >= 200 && resp.status < 300:
			if err := json.Unmarshal(resp.body, out); err != nil {
				return fmt.Errorf("decode token response: %w", err)
			}
			return nil

		case resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized:
			return mapOAuthError(resp.status, resp.body)

		case resp.status == http.StatusTooManyRequests:
			c.limiter.Penalize(ratelimit.ClassAuth, parseRetryAfter(resp.retryAfter))
			lastErr = statusError(ErrRateLimited, resp.status, trimBody(resp.body))
			continue

		case resp.status >= 500:
			lastErr = statusError(ErrTransientNetwork, resp.status, trimBody(resp.body))
			continue

		default:
			return statusError(ErrPermanentAPI, resp.status, trimBody(resp.body))
		}
	}

	return lastErr
}

// sendAuthForm performs one form POST with client credentials.
func (c *Client) sendAuthForm(ctx context.Context, path string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

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

	return &apiResponse{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

// mapOAuthError converts an OAuth error body into the matching sentinel.
func mapOAuthError(status int, body []byte) error {
	var oe oauthError
	if err := json.Unmarshal(body, &oe); err != nil {
		return statusError(ErrPermanentAPI, status, trimBody(body))
	}

	switch oe.Code {
	case "authorization_pending":
		return ErrAuthPending
	case "slow_down":
		return ErrAuthSlowDown
	case "access_denied":
		return ErrAuthDenied
	case "expired_token":
		return ErrAuthCodeExpired
	default:
		return fmt.Errorf("%w: oauth error %q: %s", ErrPermanentAPI, oe.Code, oe.Description)
	}
}
