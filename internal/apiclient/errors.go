// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package apiclient

import (
	"errors"
	"fmt"
)

// Failure classes for marketplace API calls. Callers classify with
// errors.Is; the wrapped error carries the request detail.
var (
	// ErrTransientNetwork covers connection failures, timeouts and 5xx
	// responses. Retryable.
	ErrTransientNetwork = errors.New("marketplace: transient error")

	// ErrRateLimited is returned when the retry budget was consumed by
	// 429 responses.
	ErrRateLimited = errors.New("marketplace: rate limited")

	// ErrAuthExpired is returned when a request was rejected with 401
	// and no refreshed token could fix it.
	ErrAuthExpired = errors.New("marketplace: authorization expired")

	// ErrPermanentAPI covers 4xx responses that retrying cannot fix.
	ErrPermanentAPI = errors.New("marketplace: permanent API error")
)

// Device authorization grant outcomes, mapped from the OAuth error codes
// the token endpoint returns with HTTP 400.
var (
	// ErrAuthPending means the user has not yet approved the device.
	ErrAuthPending = errors.New("marketplace: authorization pending")

	// ErrAuthSlowDown means polling is too frequent; back off.
	ErrAuthSlowDown = errors.New("marketplace: slow down")

	// ErrAuthDenied means the user rejected the authorization.
	ErrAuthDenied = errors.New("marketplace: authorization denied")

	// ErrAuthCodeExpired means the device code lapsed before approval.
	ErrAuthCodeExpired = errors.New("marketplace: device code expired")
)

// APIError carries the HTTP detail of a failed marketplace response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace: status %d: %s", e.StatusCode, e.Body)
}

// statusError wraps an HTTP failure with its class sentinel.
func statusError(sentinel error, statusCode int, body string) error {
	return fmt.Errorf("%w: %v", sentinel, &APIError{StatusCode: statusCode, Body: body})
}
