// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package models

import "time"

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

// Sync job states. RUNNING is the only non-terminal state. A job reaches
// exactly one terminal state, exactly once.
const (
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transition.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// SyncJob is one backup run for a tenant. At most one RUNNING job may
// exist per tenant at any time.
type SyncJob struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Status        JobStatus  `json:"status"`
	FullResync    bool       `json:"full_resync"`
	WindowFrom    *time.Time `json:"window_from,omitempty"`
	WindowTo      *time.Time `json:"window_to,omitempty"`
	CursorAtStart string     `json:"cursor_at_start,omitempty"`
	Processed     int        `json:"processed"`
	Added         int        `json:"added"`
	Updated       int        `json:"updated"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// SyncSchedule enables periodic syncs for a tenant.
type SyncSchedule struct {
	TenantID      string        `json:"tenant_id"`
	Interval      time.Duration `json:"interval"`
	Enabled       bool          `json:"enabled"`
	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time    `json:"last_success_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Due reports whether a run should be enqueued at now.
func (s *SyncSchedule) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastRunAt == nil {
		return true
	}
	return !now.Before(s.LastRunAt.Add(s.Interval))
}

// SyncCursor marks the ingestion position in the tenant's event stream.
// EventID is the marketplace event identifier to resume after; OccurredAt
// is kept so advancement can be checked for monotonicity.
type SyncCursor struct {
	TenantID   string    `json:"tenant_id"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
