// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/ordervault/internal/logging"
)

// blockingService runs until its context ends.
type blockingService struct {
	name    string
	started atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return s.name }

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	data := &blockingService{name: "data-svc"}
	syncSvc := &blockingService{name: "sync-svc"}
	apiSvc := &blockingService{name: "api-svc"}
	tree.AddDataService(data)
	tree.AddSyncService(syncSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data.started.Load() > 0 && syncSvc.started.Load() > 0 && apiSvc.started.Load() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if data.started.Load() == 0 || syncSvc.started.Load() == 0 || apiSvc.started.Load() == 0 {
		t.Fatal("not all services started")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected terminal error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond

	tree := NewTree(logging.NewSlogLogger(), cfg)

	var runs atomic.Int32
	crasher := &funcService{name: "crasher", fn: func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient crash")
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	tree.AddSyncService(crasher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runs.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatal("crashed service was not restarted")
	}

	cancel()
	<-errCh
}

type funcService struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *funcService) Serve(ctx context.Context) error { return s.fn(ctx) }
func (s *funcService) String() string                  { return s.name }
