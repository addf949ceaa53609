// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package token

import (
	"context"
	"time"

	"github.com/tomtom215/ordervault/internal/logging"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Minute

// Sweeper periodically refreshes credentials entering the lead window,
// so scheduled syncs find fresh tokens waiting. Runs as a suture
// service.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper. interval <= 0 uses DefaultSweepInterval.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{manager: manager, interval: interval}
}

// Serve runs the sweep loop until the context is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Token refresh sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Token refresh sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.manager.RefreshExpiring(ctx); err != nil {
				logging.Error().Err(err).Msg("Token refresh sweep failed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *Sweeper) String() string {
	return "token-sweeper"
}
