// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package apiclient

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/metrics"
)

// breaker wraps the shared circuit breaker around HTTP exchanges.
// Only transport-level failures count against the breaker; an HTTP
// response of any status is a success from its point of view.
type breaker struct {
	cb *gobreaker.CircuitBreaker[*http.Response]
}

func newBreaker() *breaker {
	settings := gobreaker.Settings{
		Name:        "marketplace-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip at a 60% failure rate once enough requests exist to
			// make the ratio meaningful.
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &breaker{cb: gobreaker.NewCircuitBreaker[*http.Response](settings)}
}

// Execute runs fn under the breaker. Returns gobreaker.ErrOpenState
// without calling fn while the breaker is open.
func (b *breaker) Execute(fn func() (*http.Response, error)) (*http.Response, error) {
	return b.cb.Execute(fn)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
