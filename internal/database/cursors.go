// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

// Cursor returns the tenant's event stream position or ErrNotFound when
// the tenant has never synced.
func (db *DB) Cursor(ctx context.Context, tenantID string) (*models.SyncCursor, error) {
	start := time.Now()
	cursor, err := db.cursor(ctx, tenantID)
	metrics.RecordDBQuery("get", "sync_cursors", time.Since(start), err)
	return cursor, err
}

func (db *DB) cursor(ctx context.Context, tenantID string) (*models.SyncCursor, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT tenant_id, event_id, occurred_at, updated_at FROM sync_cursors WHERE tenant_id = ?`,
		tenantID)

	var cursor models.SyncCursor
	err := row.Scan(&cursor.TenantID, &cursor.EventID, &cursor.OccurredAt, &cursor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cursor for tenant %s", ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan cursor: %w", err)
	}
	return &cursor, nil
}

// AdvanceCursor moves the cursor forward. Moves that would go backward
// in occurrence time are ignored, keeping advancement monotonic even if
// batches race or replay.
func (db *DB) AdvanceCursor(ctx context.Context, tenantID, eventID string, occurredAt time.Time) error {
	start := time.Now()
	err := db.advanceCursor(ctx, tenantID, eventID, occurredAt)
	metrics.RecordDBQuery("advance", "sync_cursors", time.Since(start), err)
	return err
}

func (db *DB) advanceCursor(ctx context.Context, tenantID, eventID string, occurredAt time.Time) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_cursors (tenant_id, event_id, occurred_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			event_id = excluded.event_id,
			occurred_at = excluded.occurred_at,
			updated_at = excluded.updated_at
		 WHERE excluded.occurred_at >= sync_cursors.occurred_at`,
		tenantID, eventID, occurredAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}
