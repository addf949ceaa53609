// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/* engine.go - Event Ingestion Engine
 *
 * Drives one sync job from start to terminal state. Incremental jobs
 * walk the marketplace event stream from the tenant's cursor, record
 * every event, and pull full order bodies for tracked event types.
 * Full resync and date-windowed jobs page the order listing instead
 * and leave the cursor untouched.
 *
 * Failure model: any marketplace or storage error aborts the job as
 * FAILED with the cursor frozen at the last fully ingested batch, so
 * the next run replays from a known-good position. Replays are
 * harmless because event inserts and order upserts are idempotent.
 */

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ordervault/internal/apiclient"
	"github.com/tomtom215/ordervault/internal/database"
	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

// Client is the slice of the marketplace client the engine consumes.
type Client interface {
	ListEvents(ctx context.Context, tenantID, fromEventID string, limit int) ([]apiclient.OrderEventRecord, error)
	EventStatistics(ctx context.Context, tenantID string) (*apiclient.EventStats, error)
	ListOrders(ctx context.Context, tenantID string, offset, limit int, from, to *time.Time) (*apiclient.OrderPage, error)
	GetOrderDetail(ctx context.Context, tenantID, orderID string) (json.RawMessage, error)
}

// Store is the persistence surface the engine writes through.
type Store interface {
	Cursor(ctx context.Context, tenantID string) (*models.SyncCursor, error)
	AdvanceCursor(ctx context.Context, tenantID, eventID string, occurredAt time.Time) error
	InsertOrderEvent(ctx context.Context, event *models.OrderEvent) (bool, error)
	UpsertOrder(ctx context.Context, order *models.Order) (bool, error)
	UpdateJobProgress(ctx context.Context, jobID string, processed, added, updated int) error
	FinishJob(ctx context.Context, jobID string, status models.JobStatus, processed, added, updated int, errorDetail string) error
}

// Config tunes the engine.
type Config struct {
	// EventPageSize is the event batch size. Defaults to the
	// marketplace maximum.
	EventPageSize int
	// OrderPageSize is the order listing batch size for full resyncs.
	// Defaults to the marketplace maximum.
	OrderPageSize int
}

// Engine ingests marketplace events and orders for sync jobs.
type Engine struct {
	client  Client
	store   Store
	cfg     Config
	tracked map[string]bool
}

// New creates an engine.
func New(client Client, store Store, cfg Config) *Engine {
	if cfg.EventPageSize <= 0 || cfg.EventPageSize > apiclient.MaxEventPageSize {
		cfg.EventPageSize = apiclient.MaxEventPageSize
	}
	if cfg.OrderPageSize <= 0 || cfg.OrderPageSize > apiclient.MaxOrderPageSize {
		cfg.OrderPageSize = apiclient.MaxOrderPageSize
	}

	tracked := make(map[string]bool)
	for _, t := range models.TrackedEventTypes() {
		tracked[t] = true
	}
	return &Engine{client: client, store: store, cfg: cfg, tracked: tracked}
}

// counters accumulate across batches so progress survives a mid-job
// abort.
type counters struct {
	processed int
	added     int
	updated   int
}

// Run executes the job to a terminal state and records that state
// exactly once. Cancelling ctx between batches ends the job as
// CANCELLED; any other failure ends it as FAILED.
func (e *Engine) Run(ctx context.Context, job *models.SyncJob) error {
	log := logging.With().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Bool("full_resync", job.FullResync).
		Logger()
	log.Info().Msg("Sync job started")

	var (
		c   counters
		err error
	)
	// A caller-supplied date window always syncs through the order
	// listing; the event cursor cannot cover an arbitrary historical
	// range.
	if job.FullResync || job.WindowFrom != nil || job.WindowTo != nil {
		err = e.runOrderListing(ctx, job, &c)
	} else {
		err = e.runIncremental(ctx, job, &c)
	}

	status := models.JobCompleted
	detail := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = models.JobCancelled
	default:
		status = models.JobFailed
		detail = err.Error()
	}

	// Finishing runs on a fresh context so a cancelled job still gets
	// its terminal row.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if finishErr := e.store.FinishJob(finishCtx, job.ID, status, c.processed, c.added, c.updated, detail); finishErr != nil {
		log.Error().Err(finishErr).Msg("Failed to record job completion")
		if err == nil {
			err = finishErr
		}
	}

	metrics.RecordJobFinished(string(status), time.Since(job.StartedAt))
	log.Info().
		Str("status", string(status)).
		Int("processed", c.processed).
		Int("added", c.added).
		Int("updated", c.updated).
		Err(err).
		Msg("Sync job finished")
	return err
}

// runIncremental walks the event stream from the tenant's cursor. The
// cursor advances only after a batch has been ingested completely.
func (e *Engine) runIncremental(ctx context.Context, job *models.SyncJob, c *counters) error {
	cursor, err := e.store.Cursor(ctx, job.TenantID)
	if errors.Is(err, database.ErrNotFound) {
		return e.bootstrapCursor(ctx, job.TenantID)
	}
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	from := cursor.EventID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err := e.client.ListEvents(ctx, job.TenantID, from, e.cfg.EventPageSize)
		if err != nil {
			return fmt.Errorf("list events after %s: %w", from, err)
		}
		if len(events) == 0 {
			return nil
		}

		for i := range events {
			if err := e.ingestEvent(ctx, job.TenantID, &events[i], c); err != nil {
				return err
			}
		}

		last := events[len(events)-1]
		if err := e.store.AdvanceCursor(ctx, job.TenantID, last.ID, last.OccurredAt); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		if err := e.store.UpdateJobProgress(ctx, job.ID, c.processed, c.added, c.updated); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		from = last.ID
		if len(events) < e.cfg.EventPageSize {
			return nil
		}
	}
}

// bootstrapCursor seeds a first-time tenant at the current end of the
// event stream. Historical orders come from a full resync, not from
// replaying the retained event window.
func (e *Engine) bootstrapCursor(ctx context.Context, tenantID string) error {
	stats, err := e.client.EventStatistics(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("event statistics: %w", err)
	}
	if stats.LatestEvent.ID == "" {
		logging.Info().Str("tenant_id", tenantID).Msg("Event stream empty, cursor not seeded")
		return nil
	}

	if err := e.store.AdvanceCursor(ctx, tenantID, stats.LatestEvent.ID, stats.LatestEvent.OccurredAt); err != nil {
		return fmt.Errorf("seed cursor: %w", err)
	}
	logging.Info().
		Str("tenant_id", tenantID).
		Str("event_id", stats.LatestEvent.ID).
		Msg("Cursor seeded at stream end")
	return nil
}

// ingestEvent records one event and, for tracked types, refreshes the
// order it belongs to. Replayed events are skipped without an order
// fetch and without touching the processed count, so re-running a
// window leaves the job counters unchanged.
func (e *Engine) ingestEvent(ctx context.Context, tenantID string, rec *apiclient.OrderEventRecord, c *counters) error {
	orderID := rec.ExternalOrderID()
	if orderID == "" {
		logging.Warn().
			Str("tenant_id", tenantID).
			Str("event_id", rec.ID).
			Str("event_type", rec.Type).
			Msg("Event carries no order reference, skipped")
		metrics.SyncEventsSkipped.Inc()
		return nil
	}

	inserted, err := e.store.InsertOrderEvent(ctx, &models.OrderEvent{
		TenantID:        tenantID,
		ExternalOrderID: orderID,
		EventType:       rec.Type,
		OccurredAt:      rec.OccurredAt,
		Payload:         rec.Raw,
	})
	if err != nil {
		return fmt.Errorf("insert event %s: %w", rec.ID, err)
	}
	if !inserted {
		metrics.SyncEventsSkipped.Inc()
		return nil
	}
	c.processed++
	metrics.SyncEventsProcessed.Inc()

	if !e.tracked[rec.Type] {
		return nil
	}
	return e.refreshOrder(ctx, tenantID, orderID, c)
}

// refreshOrder fetches the full order body and upserts it.
func (e *Engine) refreshOrder(ctx context.Context, tenantID, orderID string, c *counters) error {
	detail, err := e.client.GetOrderDetail(ctx, tenantID, orderID)
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	var summary apiclient.OrderSummary
	if err := json.Unmarshal(detail, &summary); err != nil {
		return fmt.Errorf("decode order %s: %w", orderID, err)
	}

	inserted, err := e.store.UpsertOrder(ctx, &models.Order{
		TenantID:   tenantID,
		ExternalID: orderID,
		Status:     summary.Status,
		Payload:    detail,
		OrderedAt:  summary.OrderedAt(),
	})
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", orderID, err)
	}
	if inserted {
		c.added++
	} else {
		c.updated++
	}
	return nil
}

// runOrderListing pages the order listing, bounded by the job's date
// window when one is set, and upserts every order. The listing already
// returns complete order bodies, so no per-order detail fetch is
// needed. The event cursor is left untouched.
func (e *Engine) runOrderListing(ctx context.Context, job *models.SyncJob, c *counters) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.client.ListOrders(ctx, job.TenantID, offset, e.cfg.OrderPageSize, job.WindowFrom, job.WindowTo)
		if err != nil {
			return fmt.Errorf("list orders at offset %d: %w", offset, err)
		}
		if len(page.Orders) == 0 {
			return nil
		}

		for i := range page.Orders {
			o := &page.Orders[i]
			c.processed++

			inserted, err := e.store.UpsertOrder(ctx, &models.Order{
				TenantID:   job.TenantID,
				ExternalID: o.ID,
				Status:     o.Status,
				Payload:    o.Raw,
				OrderedAt:  o.OrderedAt(),
			})
			if err != nil {
				return fmt.Errorf("upsert order %s: %w", o.ID, err)
			}
			if inserted {
				c.added++
			} else {
				c.updated++
			}
		}

		if err := e.store.UpdateJobProgress(ctx, job.ID, c.processed, c.added, c.updated); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		offset += len(page.Orders)
		if offset >= page.TotalCount {
			return nil
		}
	}
}
