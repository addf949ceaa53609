// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package database

import "fmt"

// schemaStatements creates all tables. Statements are idempotent so
// startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id VARCHAR PRIMARY KEY,
		tenant_id VARCHAR NOT NULL,
		access_token VARCHAR NOT NULL,
		refresh_token VARCHAR NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR PRIMARY KEY,
		tenant_id VARCHAR NOT NULL,
		external_id VARCHAR NOT NULL,
		status VARCHAR,
		order_data VARCHAR NOT NULL,
		ordered_at TIMESTAMP,
		is_deleted BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, external_id)
	)`,

	`CREATE TABLE IF NOT EXISTS order_events (
		id VARCHAR PRIMARY KEY,
		tenant_id VARCHAR NOT NULL,
		external_order_id VARCHAR NOT NULL,
		event_type VARCHAR NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		event_data VARCHAR,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (external_order_id, occurred_at, event_type)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_jobs (
		id VARCHAR PRIMARY KEY,
		tenant_id VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		full_resync BOOLEAN NOT NULL DEFAULT false,
		window_from TIMESTAMP,
		window_to TIMESTAMP,
		cursor_at_start VARCHAR,
		processed INTEGER NOT NULL DEFAULT 0,
		added INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		error_detail VARCHAR,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_schedules (
		tenant_id VARCHAR PRIMARY KEY,
		interval_seconds BIGINT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_run_at TIMESTAMP,
		last_success_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sync_cursors (
		tenant_id VARCHAR PRIMARY KEY,
		event_id VARCHAR NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_orders_tenant ON orders (tenant_id, ordered_at)`,
	`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events (external_order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_tenant ON sync_jobs (tenant_id, status)`,
}

// initialize creates the schema.
func (db *DB) initialize() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
