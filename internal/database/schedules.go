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

// UpsertSchedule creates or replaces the tenant's periodic sync
// schedule and enables it.
func (db *DB) UpsertSchedule(ctx context.Context, tenantID string, interval time.Duration) error {
	start := time.Now()
	err := db.upsertSchedule(ctx, tenantID, interval)
	metrics.RecordDBQuery("upsert", "sync_schedules", time.Since(start), err)
	return err
}

func (db *DB) upsertSchedule(ctx context.Context, tenantID string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("upsert schedule for %s: interval must be positive", tenantID)
	}

	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_schedules (tenant_id, interval_seconds, enabled, created_at, updated_at)
		 VALUES (?, ?, true, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			interval_seconds = excluded.interval_seconds,
			enabled = true,
			updated_at = excluded.updated_at`,
		tenantID, int64(interval.Seconds()), now, now)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// SetScheduleEnabled flips the schedule on or off. Disabling keeps the
// row and its run history.
func (db *DB) SetScheduleEnabled(ctx context.Context, tenantID string, enabled bool) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE sync_schedules SET enabled = ?, updated_at = ? WHERE tenant_id = ?`,
		enabled, time.Now().UTC(), tenantID)
	metrics.RecordDBQuery("toggle", "sync_schedules", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("toggle schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: schedule for tenant %s", ErrNotFound, tenantID)
	}
	return nil
}

// GetSchedule returns the tenant's schedule or ErrNotFound.
func (db *DB) GetSchedule(ctx context.Context, tenantID string) (*models.SyncSchedule, error) {
	row := db.conn.QueryRowContext(ctx, selectSchedule+` WHERE tenant_id = ?`, tenantID)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule for tenant %s", ErrNotFound, tenantID)
	}
	return sched, err
}

// DueSchedules returns enabled schedules whose next run time has
// arrived.
func (db *DB) DueSchedules(ctx context.Context, now time.Time) ([]*models.SyncSchedule, error) {
	start := time.Now()
	scheds, err := db.dueSchedules(ctx, now)
	metrics.RecordDBQuery("due", "sync_schedules", time.Since(start), err)
	return scheds, err
}

func (db *DB) dueSchedules(ctx context.Context, now time.Time) ([]*models.SyncSchedule, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectSchedule+` WHERE enabled AND (last_run_at IS NULL OR last_run_at + INTERVAL (interval_seconds) SECOND <= ?)`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*models.SyncSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, sched)
	}
	return scheds, rows.Err()
}

// MarkScheduleRun records a run attempt, and a success when the run
// completed.
func (db *DB) MarkScheduleRun(ctx context.Context, tenantID string, at time.Time, success bool) error {
	start := time.Now()
	var err error
	if success {
		_, err = db.conn.ExecContext(ctx,
			`UPDATE sync_schedules SET last_run_at = ?, last_success_at = ?, updated_at = ? WHERE tenant_id = ?`,
			at.UTC(), at.UTC(), time.Now().UTC(), tenantID)
	} else {
		_, err = db.conn.ExecContext(ctx,
			`UPDATE sync_schedules SET last_run_at = ?, updated_at = ? WHERE tenant_id = ?`,
			at.UTC(), time.Now().UTC(), tenantID)
	}
	metrics.RecordDBQuery("mark_run", "sync_schedules", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	return nil
}

const selectSchedule = `SELECT tenant_id, interval_seconds, enabled, last_run_at, last_success_at, created_at, updated_at
	FROM sync_schedules`

func scanSchedule(s scanner) (*models.SyncSchedule, error) {
	var (
		sched       models.SyncSchedule
		intervalSec int64
		lastRun     sql.NullTime
		lastSuccess sql.NullTime
	)
	err := s.Scan(&sched.TenantID, &intervalSec, &sched.Enabled,
		&lastRun, &lastSuccess, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sched.Interval = time.Duration(intervalSec) * time.Second
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if lastSuccess.Valid {
		sched.LastSuccessAt = &lastSuccess.Time
	}
	return &sched, nil
}
