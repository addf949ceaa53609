// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

// Package metrics provides Prometheus instrumentation for:
//   - Sync job throughput and duration
//   - Marketplace API client behavior (retries, circuit breaker)
//   - Per-class rate limiter pressure
//   - Token refresh and device authorization outcomes
//   - Management API latency
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Job Metrics
	SyncJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_jobs_total",
			Help: "Total number of finished sync jobs by terminal status",
		},
		[]string{"status"},
	)

	SyncJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_job_duration_seconds",
			Help:    "Wall-clock duration of sync jobs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	SyncEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_processed_total",
			Help: "Total number of order events applied during ingestion",
		},
	)

	SyncEventsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_skipped_total",
			Help: "Total number of order events skipped as already ingested",
		},
	)

	SyncOrdersUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_orders_upserted_total",
			Help: "Total number of orders written, labeled added or updated",
		},
		[]string{"outcome"},
	)

	// Marketplace Client Metrics
	ClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_requests_total",
			Help: "Total marketplace API requests by endpoint class and status code",
		},
		[]string{"class", "status_code"},
	)

	ClientRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_request_retries_total",
			Help: "Total marketplace request retries by reason",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
	)

	// Rate Limiter Metrics
	RateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate limit token",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"class"},
	)

	RateLimitTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_timeouts_total",
			Help: "Total rate limit acquisitions abandoned at deadline",
		},
		[]string{"class"},
	)

	RateLimitPenalties = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_penalties_total",
			Help: "Total server-mandated rate limit penalties (429 responses)",
		},
		[]string{"class"},
	)

	RateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratelimit_server_remaining",
			Help: "Last server-reported remaining quota per endpoint class",
		},
		[]string{"class"},
	)

	// Token Lifecycle Metrics
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Total token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Device Authorization Metrics
	DeviceAuthSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_auth_sessions_total",
			Help: "Total device authorization sessions reaching a terminal state",
		},
		[]string{"state"},
	)

	DeviceAuthPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "device_auth_polls_total",
			Help: "Total device authorization token polls",
		},
	)

	// Management API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of management API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Management API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)
)

// RecordAPIRequest records one management API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records one database query with its outcome.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordJobFinished records a sync job reaching a terminal status.
func RecordJobFinished(status string, duration time.Duration) {
	SyncJobsTotal.WithLabelValues(status).Inc()
	SyncJobDuration.Observe(duration.Seconds())
}
