// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/*
limiter.go - Per-endpoint-class rate limiting for the marketplace API

The marketplace enforces separate quotas per endpoint class. Each class
gets its own token bucket; callers acquire a token before every outbound
request. A 429 response carries a server-mandated delay, which overrides
the local bucket via Penalize until the delay elapses.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/ordervault/internal/metrics"
)

// Class identifies a marketplace endpoint class with its own quota.
type Class string

// Endpoint classes and their default quotas (requests per minute).
const (
	ClassGeneral     Class = "general"
	ClassOrders      Class = "orders"
	ClassOrderDetail Class = "order-detail"
	ClassEvents      Class = "events"
	ClassAuth        Class = "auth"
)

// ErrAcquireTimeout is returned when a token could not be acquired
// before the context deadline.
var ErrAcquireTimeout = errors.New("ratelimit: acquire timed out")

// Config holds per-class quotas in requests per minute.
type Config struct {
	General     int `koanf:"general"`
	Orders      int `koanf:"orders"`
	OrderDetail int `koanf:"order_detail"`
	Events      int `koanf:"events"`
	Auth        int `koanf:"auth"`

	// AcquireTimeout bounds how long Acquire may block. Zero means the
	// caller's context deadline is the only bound.
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
}

// DefaultConfig returns the documented marketplace quotas.
func DefaultConfig() Config {
	return Config{
		General:        60,
		Orders:         100,
		OrderDetail:    1000,
		Events:         60,
		Auth:           10,
		AcquireTimeout: 30 * time.Second,
	}
}

// Limiter hands out request tokens per endpoint class.
type Limiter struct {
	mu             sync.Mutex
	buckets        map[Class]*rate.Limiter
	blockedUntil   map[Class]time.Time
	acquireTimeout time.Duration
}

// New creates a limiter with one bucket per class. Burst equals the
// per-minute quota so a quiet minute's allowance can be spent at once.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.General <= 0 {
		cfg.General = def.General
	}
	if cfg.Orders <= 0 {
		cfg.Orders = def.Orders
	}
	if cfg.OrderDetail <= 0 {
		cfg.OrderDetail = def.OrderDetail
	}
	if cfg.Events <= 0 {
		cfg.Events = def.Events
	}
	if cfg.Auth <= 0 {
		cfg.Auth = def.Auth
	}

	perMinute := func(n int) *rate.Limiter {
		return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
	}

	return &Limiter{
		buckets: map[Class]*rate.Limiter{
			ClassGeneral:     perMinute(cfg.General),
			ClassOrders:      perMinute(cfg.Orders),
			ClassOrderDetail: perMinute(cfg.OrderDetail),
			ClassEvents:      perMinute(cfg.Events),
			ClassAuth:        perMinute(cfg.Auth),
		},
		blockedUntil:   make(map[Class]time.Time),
		acquireTimeout: cfg.AcquireTimeout,
	}
}

// Acquire blocks until a token for the class is available, the context
// is done, or the acquire timeout elapses. Unknown classes fall back to
// the general bucket.
func (l *Limiter) Acquire(ctx context.Context, class Class) error {
	if l.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.acquireTimeout)
		defer cancel()
	}

	if err := l.waitPenalty(ctx, class); err != nil {
		return err
	}

	start := time.Now()
	if err := l.bucket(class).Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Wait fails fast with its own error when the deadline cannot
		// be met, so any non-cancel failure here is a timeout.
		metrics.RateLimitTimeouts.WithLabelValues(string(class)).Inc()
		return fmt.Errorf("%w: class %s", ErrAcquireTimeout, class)
	}
	metrics.RateLimitWaitSeconds.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())

	return nil
}

// Penalize blocks the class for d, regardless of local token
// availability. Used when the server answers 429: its view of the quota
// wins over ours.
func (l *Limiter) Penalize(class Class, d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.blockedUntil[class]) {
		l.blockedUntil[class] = until
	}
	l.mu.Unlock()

	metrics.RateLimitPenalties.WithLabelValues(string(class)).Inc()
}

// ObserveRemaining records the server-reported remaining quota for the
// class. A reported zero blocks the class briefly so the next request
// does not immediately trip a 429.
func (l *Limiter) ObserveRemaining(class Class, remaining int) {
	metrics.RateLimitRemaining.WithLabelValues(string(class)).Set(float64(remaining))
	if remaining == 0 {
		l.Penalize(class, time.Second)
	}
}

func (l *Limiter) bucket(class Class) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[class]; ok {
		return b
	}
	return l.buckets[ClassGeneral]
}

// waitPenalty sleeps out any active 429 penalty for the class.
func (l *Limiter) waitPenalty(ctx context.Context, class Class) error {
	l.mu.Lock()
	until := l.blockedUntil[class]
	l.mu.Unlock()

	d := time.Until(until)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: class %s blocked by server penalty", ErrAcquireTimeout, class)
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
