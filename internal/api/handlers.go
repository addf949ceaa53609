// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

// Package api provides the HTTP surface for managing tenant
// authorization, sync jobs, schedules, and backed-up orders.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/ordervault/internal/database"
	"github.com/tomtom215/ordervault/internal/deviceauth"
	"github.com/tomtom215/ordervault/internal/models"
	"github.com/tomtom215/ordervault/internal/scheduler"
)

// SyncScheduler is the scheduler surface the API drives.
type SyncScheduler interface {
	Trigger(ctx context.Context, tenantID string, opts scheduler.TriggerOptions) (*models.SyncJob, error)
	Cancel(jobID string) error
	EnableSchedule(ctx context.Context, tenantID string, interval time.Duration) error
	DisableSchedule(ctx context.Context, tenantID string) error
}

// AuthFlow is the device authorization surface the API drives.
type AuthFlow interface {
	Start(ctx context.Context, tenantID string) (*models.DeviceAuthSession, error)
	Status(ctx context.Context, sessionID string) (*models.DeviceAuthSession, error)
}

// Store is the read surface the API serves from.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*models.SyncJob, error)
	ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.SyncJob, error)
	JobStats(ctx context.Context, tenantID string) (map[models.JobStatus]int, error)
	GetSchedule(ctx context.Context, tenantID string) (*models.SyncSchedule, error)
	ListOrders(ctx context.Context, tenantID string, offset, limit int) ([]*models.Order, error)
	GetOrder(ctx context.Context, tenantID, externalID string) (*models.Order, error)
	MarkOrderDeleted(ctx context.Context, tenantID, externalID string) error
	ListOrderEvents(ctx context.Context, externalOrderID string) ([]*models.OrderEvent, error)
	Ping() error
}

// Handler bundles the API dependencies.
type Handler struct {
	scheduler SyncScheduler
	flow      AuthFlow
	store     Store

	defaultPageSize int
	maxPageSize     int
}

// NewHandler creates the API handler set.
func NewHandler(sched SyncScheduler, flow AuthFlow, store Store, defaultPageSize, maxPageSize int) *Handler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	if maxPageSize < defaultPageSize {
		maxPageSize = defaultPageSize
	}
	return &Handler{
		scheduler:       sched,
		flow:            flow,
		store:           store,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// authStartRequest starts a device authorization.
type authStartRequest struct {
	TenantID string `json:"tenant_id" validate:"required,tenantid"`
}

// AuthStart handles POST /api/v1/auth/start.
func (h *Handler) AuthStart(w http.ResponseWriter, r *http.Request) {
	var req authStartRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	session, err := h.flow.Start(r.Context(), req.TenantID)
	switch {
	case errors.Is(err, deviceauth.ErrAuthorizationInProgress):
		respondError(w, http.StatusConflict, "CONFLICT", "An authorization is already pending for this tenant", nil)
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "AUTH_ERROR", "Failed to start device authorization", err)
		return
	}
	respondSuccess(w, http.StatusCreated, session)
}

// AuthStatus handles GET /api/v1/auth/sessions/{sessionID}.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.flow.Status(r.Context(), sessionID)
	switch {
	case errors.Is(err, deviceauth.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Authorization session not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load authorization session", err)
		return
	}
	respondSuccess(w, http.StatusOK, session)
}

// syncTriggerRequest starts a sync job.
type syncTriggerRequest struct {
	TenantID   string `json:"tenant_id" validate:"required,tenantid"`
	FullResync bool   `json:"full_resync"`
	WindowFrom string `json:"window_from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	WindowTo   string `json:"window_to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// SyncTrigger handles POST /api/v1/sync/trigger.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req syncTriggerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	opts := scheduler.TriggerOptions{FullResync: req.FullResync}
	if req.WindowFrom != "" {
		t, _ := time.Parse(time.RFC3339, req.WindowFrom)
		opts.WindowFrom = &t
	}
	if req.WindowTo != "" {
		t, _ := time.Parse(time.RFC3339, req.WindowTo)
		opts.WindowTo = &t
	}

	job, err := h.scheduler.Trigger(r.Context(), req.TenantID, opts)
	switch {
	case errors.Is(err, scheduler.ErrSyncAlreadyRunning):
		respondError(w, http.StatusConflict, "CONFLICT", "A sync is already running for this tenant", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to trigger sync", err)
		return
	}
	respondSuccess(w, http.StatusAccepted, job)
}

// SyncJobGet handles GET /api/v1/sync/jobs/{jobID}.
func (h *Handler) SyncJobGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Sync job not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load sync job", err)
		return
	}
	respondSuccess(w, http.StatusOK, job)
}

// SyncJobCancel handles POST /api/v1/sync/jobs/{jobID}/cancel.
func (h *Handler) SyncJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := h.scheduler.Cancel(jobID); err != nil {
		if errors.Is(err, scheduler.ErrJobNotRunning) {
			respondError(w, http.StatusConflict, "CONFLICT", "Job is not running", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", err)
		return
	}
	respondSuccess(w, http.StatusAccepted, map[string]string{"id": jobID, "cancellation": "requested"})
}

// tenantQuery validates the tenant_id query parameter.
type tenantQuery struct {
	TenantID string `validate:"required,tenantid"`
}

// SyncJobList handles GET /api/v1/sync/jobs?tenant_id=&limit=.
func (h *Handler) SyncJobList(w http.ResponseWriter, r *http.Request) {
	q := tenantQuery{TenantID: r.URL.Query().Get("tenant_id")}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), q.TenantID, getIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sync jobs", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// SyncStats handles GET /api/v1/sync/stats?tenant_id=.
func (h *Handler) SyncStats(w http.ResponseWriter, r *http.Request) {
	q := tenantQuery{TenantID: r.URL.Query().Get("tenant_id")}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	stats, err := h.store.JobStats(r.Context(), q.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load sync stats", err)
		return
	}
	respondSuccess(w, http.StatusOK, stats)
}

// scheduleUpsertRequest configures a periodic sync.
type scheduleUpsertRequest struct {
	IntervalSeconds int `json:"interval_seconds" validate:"required,gte=60,lte=86400"`
}

// ScheduleUpsert handles PUT /api/v1/schedules/{tenantID}.
func (h *Handler) ScheduleUpsert(w http.ResponseWriter, r *http.Request) {
	q := tenantQuery{TenantID: chi.URLParam(r, "tenantID")}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	var req scheduleUpsertRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	interval := time.Duration(req.IntervalSeconds) * time.Second
	if err := h.scheduler.EnableSchedule(r.Context(), q.TenantID, interval); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save schedule", err)
		return
	}

	sched, err := h.store.GetSchedule(r.Context(), q.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load schedule", err)
		return
	}
	respondSuccess(w, http.StatusOK, sched)
}

// ScheduleGet handles GET /api/v1/schedules/{tenantID}.
func (h *Handler) ScheduleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	sched, err := h.store.GetSchedule(r.Context(), tenantID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Schedule not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load schedule", err)
		return
	}
	respondSuccess(w, http.StatusOK, sched)
}

// ScheduleDisable handles DELETE /api/v1/schedules/{tenantID}.
func (h *Handler) ScheduleDisable(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	err := h.scheduler.DisableSchedule(r.Context(), tenantID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Schedule not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to disable schedule", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "enabled": "false"})
}

// OrderList handles GET /api/v1/orders?tenant_id=&offset=&limit=.
func (h *Handler) OrderList(w http.ResponseWriter, r *http.Request) {
	q := tenantQuery{TenantID: r.URL.Query().Get("tenant_id")}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	limit := getIntParam(r, "limit", h.defaultPageSize)
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}
	offset := getIntParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	orders, err := h.store.ListOrders(r.Context(), q.TenantID, offset, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list orders", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
		"offset": offset,
		"limit":  limit,
	})
}

// OrderGet handles GET /api/v1/orders/{orderID}?tenant_id=.
func (h *Handler) OrderGet(w http.ResponseWriter, r *http.Request) {
	q := tenantQuery{TenantID: r.URL.Query().Get("tenant_id")}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	order, err := h.store.GetOrder(r.Context(), q.TenantID, chi.URLParam(r, "orderID"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Order not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load order", err)
		return
	}
	respondSuccess(w, http.StatusOK, order)
}

// OrderDelete handles DELETE /api/v1/orders/{orderID}?tenant_id=. The
// order is soft-deleted; the backup row and its events are retained.
func (h *Handler) OrderDelete(w http.ResponseWriter, r *http.Request) {
	q := tenantQuery{TenantID: r.URL.Query().Get("tenant_id")}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	err := h.store.MarkOrderDeleted(r.Context(), q.TenantID, chi.URLParam(r, "orderID"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Order not found", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete order", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "orderID"), "deleted": "true"})
}

// OrderEvents handles GET /api/v1/orders/{orderID}/events.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListOrderEvents(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list order events", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "UNHEALTHY", "Database is unreachable", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}
