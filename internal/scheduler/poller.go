// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/models"
)

// DefaultPollInterval is how often due schedules are scanned.
const DefaultPollInterval = 30 * time.Second

// JobTrigger starts sync jobs. Satisfied by *Scheduler.
type JobTrigger interface {
	Trigger(ctx context.Context, tenantID string, opts TriggerOptions) (*models.SyncJob, error)
}

// ScheduleStore reads and marks periodic schedules.
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]*models.SyncSchedule, error)
	MarkScheduleRun(ctx context.Context, tenantID string, at time.Time, success bool) error
}

// Poller scans for due schedules and triggers incremental syncs for
// them. Runs as a suture service.
type Poller struct {
	trigger  JobTrigger
	store    ScheduleStore
	interval time.Duration
}

// NewPoller creates a poller. interval <= 0 uses DefaultPollInterval.
func NewPoller(trigger JobTrigger, store ScheduleStore, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{trigger: trigger, store: store, interval: interval}
}

// Serve runs the scan loop until the context is canceled.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", p.interval).Msg("Schedule poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Schedule poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (p *Poller) String() string {
	return "schedule-poller"
}

// scan triggers one incremental sync per due schedule. A tenant whose
// previous job is still running is left for the next scan.
func (p *Poller) scan(ctx context.Context) {
	now := time.Now().UTC()
	due, err := p.store.DueSchedules(ctx, now)
	if err != nil {
		logging.Error().Err(err).Msg("Due schedule scan failed")
		return
	}

	for _, sched := range due {
		job, err := p.trigger.Trigger(ctx, sched.TenantID, TriggerOptions{})
		switch {
		case errors.Is(err, ErrSyncAlreadyRunning):
			logging.Debug().Str("tenant_id", sched.TenantID).Msg("Scheduled sync deferred, job still running")
			continue
		case err != nil:
			logging.Error().Err(err).Str("tenant_id", sched.TenantID).Msg("Scheduled sync trigger failed")
			if markErr := p.store.MarkScheduleRun(ctx, sched.TenantID, now, false); markErr != nil {
				logging.Error().Err(markErr).Str("tenant_id", sched.TenantID).Msg("Failed to mark schedule run")
			}
			continue
		}

		logging.Info().
			Str("tenant_id", sched.TenantID).
			Str("job_id", job.ID).
			Msg("Scheduled sync triggered")
		if err := p.store.MarkScheduleRun(ctx, sched.TenantID, now, true); err != nil {
			logging.Error().Err(err).Str("tenant_id", sched.TenantID).Msg("Failed to mark schedule run")
		}
	}
}
