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

// CreateJob inserts a RUNNING job, enforcing at most one RUNNING job
// per tenant. Returns ErrRunningJobExists when the tenant already has
// one; the conflicting trigger is rejected, never queued.
func (db *DB) CreateJob(ctx context.Context, job *models.SyncJob) error {
	start := time.Now()
	err := db.createJob(ctx, job)
	metrics.RecordDBQuery("create", "sync_jobs", time.Since(start), err)
	return err
}

func (db *DB) createJob(ctx context.Context, job *models.SyncJob) error {
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	job.Status = models.JobRunning

	// Insert-if-no-running in a single statement so two concurrent
	// triggers cannot both pass a separate existence check.
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, tenant_id, status, full_resync, window_from, window_to, cursor_at_start, started_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM sync_jobs WHERE tenant_id = ? AND status = ?
		 )`,
		job.ID, job.TenantID, job.Status, job.FullResync,
		nullTime(job.WindowFrom), nullTime(job.WindowTo), job.CursorAtStart, job.StartedAt.UTC(),
		job.TenantID, models.JobRunning)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: tenant %s", ErrRunningJobExists, job.TenantID)
	}
	return nil
}

// GetJob returns one job by ID or ErrNotFound.
func (db *DB) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	start := time.Now()
	job, err := db.getJob(ctx, jobID)
	metrics.RecordDBQuery("get", "sync_jobs", time.Since(start), err)
	return job, err
}

func (db *DB) getJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	row := db.conn.QueryRowContext(ctx, selectJob+` WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return job, err
}

// RunningJob returns the tenant's RUNNING job or ErrNotFound.
func (db *DB) RunningJob(ctx context.Context, tenantID string) (*models.SyncJob, error) {
	row := db.conn.QueryRowContext(ctx,
		selectJob+` WHERE tenant_id = ? AND status = ?`, tenantID, models.JobRunning)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: running job for tenant %s", ErrNotFound, tenantID)
	}
	return job, err
}

// UpdateJobProgress records batch counters on a RUNNING job.
func (db *DB) UpdateJobProgress(ctx context.Context, jobID string, processed, added, updated int) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sync_jobs SET processed = ?, added = ?, updated = ?
		 WHERE id = ? AND status = ?`,
		processed, added, updated, jobID, models.JobRunning)
	metrics.RecordDBQuery("progress", "sync_jobs", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// FinishJob moves a RUNNING job to a terminal status exactly once.
// Finishing an already terminal job returns ErrNotFound.
func (db *DB) FinishJob(ctx context.Context, jobID string, status models.JobStatus, processed, added, updated int, errorDetail string) error {
	start := time.Now()
	err := db.finishJob(ctx, jobID, status, processed, added, updated, errorDetail)
	metrics.RecordDBQuery("finish", "sync_jobs", time.Since(start), err)
	return err
}

func (db *DB) finishJob(ctx context.Context, jobID string, status models.JobStatus, processed, added, updated int, errorDetail string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish job %s: %q is not a terminal status", jobID, status)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, processed = ?, added = ?, updated = ?, error_detail = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		status, processed, added, updated, errorDetail, time.Now().UTC(),
		jobID, models.JobRunning)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: running job %s", ErrNotFound, jobID)
	}
	return nil
}

// ListJobs returns the tenant's jobs, newest first.
func (db *DB) ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.SyncJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		selectJob+` WHERE tenant_id = ? ORDER BY started_at DESC LIMIT ?`, tenantID, limit)
	metrics.RecordDBQuery("list", "sync_jobs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStats aggregates the tenant's job history by terminal status.
func (db *DB) JobStats(ctx context.Context, tenantID string) (map[models.JobStatus]int, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_jobs WHERE tenant_id = ? GROUP BY status`, tenantID)
	metrics.RecordDBQuery("stats", "sync_jobs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.JobStatus]int)
	for rows.Next() {
		var (
			status models.JobStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const selectJob = `SELECT id, tenant_id, status, full_resync, window_from, window_to, cursor_at_start,
	processed, added, updated, error_detail, started_at, finished_at FROM sync_jobs`

func scanJob(s scanner) (*models.SyncJob, error) {
	var (
		job         models.SyncJob
		windowFrom  sql.NullTime
		windowTo    sql.NullTime
		cursor      sql.NullString
		errorDetail sql.NullString
		finishedAt  sql.NullTime
	)
	err := s.Scan(&job.ID, &job.TenantID, &job.Status, &job.FullResync,
		&windowFrom, &windowTo, &cursor,
		&job.Processed, &job.Added, &job.Updated, &errorDetail,
		&job.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if windowFrom.Valid {
		job.WindowFrom = &windowFrom.Time
	}
	if windowTo.Valid {
		job.WindowTo = &windowTo.Time
	}
	job.CursorAtStart = cursor.String
	job.ErrorDetail = errorDetail.String
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
