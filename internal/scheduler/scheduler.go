// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/* scheduler.go - Sync Job Scheduler
 *
 * Accepts manual and periodic sync triggers, enforces at most one
 * running job per tenant, and executes accepted jobs on a bounded
 * worker pool. Exclusivity lives in the database insert, so a
 * conflicting trigger is rejected with ErrSyncAlreadyRunning rather
 * than queued behind the running job.
 *
 * Runs as a suture service. Cancelling the service context cancels all
 * in-flight jobs, which the engine records as CANCELLED.
 */

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/ordervault/internal/database"
	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/models"
)

// ErrSyncAlreadyRunning is returned when the tenant already has a
// running job.
var ErrSyncAlreadyRunning = errors.New("sync already running")

// ErrJobNotRunning is returned when cancelling a job this scheduler is
// not executing.
var ErrJobNotRunning = errors.New("job is not running")

// DefaultWorkers bounds concurrent sync jobs across tenants.
const DefaultWorkers = 4

// Engine runs one job to a terminal state.
type Engine interface {
	Run(ctx context.Context, job *models.SyncJob) error
}

// Store is the persistence surface the scheduler needs.
type Store interface {
	CreateJob(ctx context.Context, job *models.SyncJob) error
	FinishJob(ctx context.Context, jobID string, status models.JobStatus, processed, added, updated int, errorDetail string) error
	Cursor(ctx context.Context, tenantID string) (*models.SyncCursor, error)
	UpsertSchedule(ctx context.Context, tenantID string, interval time.Duration) error
	SetScheduleEnabled(ctx context.Context, tenantID string, enabled bool) error
}

// TriggerOptions shape a manual trigger.
type TriggerOptions struct {
	FullResync bool
	WindowFrom *time.Time
	WindowTo   *time.Time
}

// jobHandle tracks one accepted job so it can be cancelled whether it
// is still queued or already executing.
type jobHandle struct {
	cancelled bool
	cancel    context.CancelFunc
}

// Scheduler owns the worker pool and the job handles.
type Scheduler struct {
	store   Store
	engine  Engine
	workers int

	jobs chan *models.SyncJob

	mu      sync.Mutex
	handles map[string]*jobHandle
}

// New creates a scheduler. workers <= 0 uses DefaultWorkers.
func New(store Store, engine Engine, workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{
		store:   store,
		engine:  engine,
		workers: workers,
		jobs:    make(chan *models.SyncJob, workers*16),
		handles: make(map[string]*jobHandle),
	}
}

// Trigger creates and enqueues a sync job for the tenant. Returns
// ErrSyncAlreadyRunning when the tenant already has a running job.
func (s *Scheduler) Trigger(ctx context.Context, tenantID string, opts TriggerOptions) (*models.SyncJob, error) {
	job := &models.SyncJob{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		FullResync: opts.FullResync,
		WindowFrom: opts.WindowFrom,
		WindowTo:   opts.WindowTo,
		StartedAt:  time.Now().UTC(),
	}

	if cursor, err := s.store.Cursor(ctx, tenantID); err == nil {
		job.CursorAtStart = cursor.EventID
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, database.ErrRunningJobExists) {
			return nil, fmt.Errorf("%w: tenant %s", ErrSyncAlreadyRunning, tenantID)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.mu.Lock()
	s.handles[job.ID] = &jobHandle{}
	s.mu.Unlock()

	select {
	case s.jobs <- job:
	default:
		// The queue only fills if far more tenants trigger than the
		// pool can drain. Fail the job instead of blocking the caller.
		s.dropHandle(job.ID)
		if err := s.store.FinishJob(ctx, job.ID, models.JobFailed, 0, 0, 0, "scheduler queue full"); err != nil {
			logging.Error().Err(err).Str("job_id", job.ID).Msg("Failed to fail overflowed job")
		}
		return nil, fmt.Errorf("trigger sync for %s: scheduler queue full", tenantID)
	}

	logging.Info().
		Str("job_id", job.ID).
		Str("tenant_id", tenantID).
		Bool("full_resync", job.FullResync).
		Msg("Sync job accepted")
	return job, nil
}

// Cancel requests cancellation of an accepted job. Queued jobs finish
// as CANCELLED before doing any work; executing jobs stop at the next
// batch boundary.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrJobNotRunning, jobID)
	}
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
	}
	logging.Info().Str("job_id", jobID).Msg("Sync job cancellation requested")
	return nil
}

// EnableSchedule creates or updates the tenant's periodic sync.
func (s *Scheduler) EnableSchedule(ctx context.Context, tenantID string, interval time.Duration) error {
	return s.store.UpsertSchedule(ctx, tenantID, interval)
}

// DisableSchedule turns the tenant's periodic sync off, keeping its
// history.
func (s *Scheduler) DisableSchedule(ctx context.Context, tenantID string) error {
	return s.store.SetScheduleEnabled(ctx, tenantID, false)
}

// Serve runs the worker pool until the context is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Int("workers", s.workers).Msg("Sync scheduler started")

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logging.Info().Msg("Sync scheduler stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string {
	return "sync-scheduler"
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *models.SyncJob) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.dropHandle(job.ID)

	s.mu.Lock()
	h := s.handles[job.ID]
	if h != nil {
		h.cancel = cancel
		if h.cancelled {
			// Cancelled while queued. The engine sees a dead context
			// and records CANCELLED without touching the marketplace.
			cancel()
		}
	}
	s.mu.Unlock()

	if err := s.engine.Run(jobCtx, job); err != nil {
		logging.Warn().Err(err).
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Msg("Sync job did not complete")
	}
}

func (s *Scheduler) dropHandle(jobID string) {
	s.mu.Lock()
	delete(s.handles, jobID)
	s.mu.Unlock()
}
