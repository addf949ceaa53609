// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireWithinQuota(t *testing.T) {
	l := New(DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx, ClassEvents); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
}

func TestAcquireTimeoutWhenExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	l := New(cfg)

	if err := l.Acquire(context.Background(), ClassAuth); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// Bucket is empty and refills at 1/min, so this cannot succeed
	// before the acquire timeout.
	err := l.Acquire(context.Background(), ClassAuth)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}

func TestAcquireRespectsContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth = 1
	cfg.AcquireTimeout = 0
	l := New(cfg)

	if err := l.Acquire(context.Background(), ClassAuth); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx, ClassAuth)
	if err == nil {
		t.Fatal("expected error after context cancel")
	}
	// Cancellation is the caller's decision, not a quota timeout.
	if errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("cancel must not classify as acquire timeout, got %v", err)
	}
}

func TestPenalizeBlocksClass(t *testing.T) {
	l := New(DefaultConfig())
	l.Penalize(ClassEvents, 60*time.Millisecond)

	start := time.Now()
	if err := l.Acquire(context.Background(), ClassEvents); err != nil {
		t.Fatalf("acquire after penalty failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("acquire returned after %v, expected to honor the penalty", elapsed)
	}
}

func TestPenaltyIsPerClass(t *testing.T) {
	l := New(DefaultConfig())
	l.Penalize(ClassOrders, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Other classes must be unaffected by the orders penalty.
	if err := l.Acquire(ctx, ClassEvents); err != nil {
		t.Fatalf("events acquire blocked by orders penalty: %v", err)
	}
}

func TestUnknownClassFallsBackToGeneral(t *testing.T) {
	l := New(DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Acquire(ctx, Class("bogus")); err != nil {
		t.Fatalf("acquire on unknown class failed: %v", err)
	}
}
