// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package deviceauth

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/ordervault/internal/logging"
)

// DefaultGCInterval is how often value log garbage collection runs.
const DefaultGCInterval = 10 * time.Minute

// gcDiscardRatio is the rewrite threshold passed to BadgerDB. A file is
// rewritten when at least this fraction of its space can be reclaimed.
const gcDiscardRatio = 0.5

// StoreGC runs periodic BadgerDB value log garbage collection for the
// session store as a suture service.
type StoreGC struct {
	db       *badger.DB
	interval time.Duration
}

// NewStoreGC creates the GC service. A non-positive interval falls back
// to DefaultGCInterval.
func NewStoreGC(db *badger.DB, interval time.Duration) *StoreGC {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &StoreGC{db: db, interval: interval}
}

// Serve runs garbage collection until the context is canceled.
func (g *StoreGC) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", g.interval).
		Msg("Session store GC started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Session store GC stopped")
			return ctx.Err()
		case <-ticker.C:
			g.collect()
		}
	}
}

// collect reclaims value log space. RunValueLogGC rewrites at most one
// file per call, so it is repeated until nothing more can be reclaimed.
func (g *StoreGC) collect() {
	start := time.Now()
	rewritten := 0

	for {
		err := g.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			logging.Warn().Err(err).Msg("Session store GC failed")
			return
		}
		rewritten++
	}

	if rewritten > 0 {
		logging.Debug().
			Int("files_rewritten", rewritten).
			Dur("duration", time.Since(start)).
			Msg("Session store GC pass complete")
	}
}

// String names the service in supervisor logs.
func (g *StoreGC) String() string {
	return "session-store-gc"
}
