// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

// InsertOrderEvent records an event, ignoring exact replays. The unique
// key (external_order_id, occurred_at, event_type) makes re-ingesting an
// event window idempotent. Returns true when the row was new.
func (db *DB) InsertOrderEvent(ctx context.Context, event *models.OrderEvent) (bool, error) {
	start := time.Now()
	inserted, err := db.insertOrderEvent(ctx, event)
	metrics.RecordDBQuery("insert", "order_events", time.Since(start), err)
	return inserted, err
}

func (db *DB) insertOrderEvent(ctx context.Context, event *models.OrderEvent) (bool, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO order_events (id, tenant_id, external_order_id, event_type, occurred_at, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_order_id, occurred_at, event_type) DO NOTHING`,
		event.ID, event.TenantID, event.ExternalOrderID, event.EventType,
		event.OccurredAt.UTC(), string(event.Payload), event.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert order event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListOrderEvents returns the recorded events for one order, oldest
// first.
func (db *DB) ListOrderEvents(ctx context.Context, externalOrderID string) ([]*models.OrderEvent, error) {
	start := time.Now()
	events, err := db.listOrderEvents(ctx, externalOrderID)
	metrics.RecordDBQuery("list", "order_events", time.Since(start), err)
	return events, err
}

func (db *DB) listOrderEvents(ctx context.Context, externalOrderID string) ([]*models.OrderEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, tenant_id, external_order_id, event_type, occurred_at, event_data, created_at
		 FROM order_events WHERE external_order_id = ?
		 ORDER BY occurred_at`, externalOrderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var events []*models.OrderEvent
	for rows.Next() {
		var (
			event   models.OrderEvent
			payload string
		)
		if err := rows.Scan(&event.ID, &event.TenantID, &event.ExternalOrderID,
			&event.EventType, &event.OccurredAt, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, &event)
	}
	return events, rows.Err()
}
