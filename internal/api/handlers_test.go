// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ordervault/internal/database"
	"github.com/tomtom215/ordervault/internal/deviceauth"
	"github.com/tomtom215/ordervault/internal/models"
	"github.com/tomtom215/ordervault/internal/scheduler"
)

type fakeScheduler struct {
	triggerErr error
	cancelErr  error
	lastOpts   scheduler.TriggerOptions
	disabled   []string
	schedules  map[string]time.Duration
}

func (f *fakeScheduler) Trigger(ctx context.Context, tenantID string, opts scheduler.TriggerOptions) (*models.SyncJob, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	f.lastOpts = opts
	return &models.SyncJob{ID: "job-1", TenantID: tenantID, Status: models.JobRunning, FullResync: opts.FullResync}, nil
}

func (f *fakeScheduler) Cancel(jobID string) error {
	return f.cancelErr
}

func (f *fakeScheduler) EnableSchedule(ctx context.Context, tenantID string, interval time.Duration) error {
	if f.schedules == nil {
		f.schedules = make(map[string]time.Duration)
	}
	f.schedules[tenantID] = interval
	return nil
}

func (f *fakeScheduler) DisableSchedule(ctx context.Context, tenantID string) error {
	f.disabled = append(f.disabled, tenantID)
	return nil
}

type fakeFlow struct {
	startErr  error
	statusErr error
}

func (f *fakeFlow) Start(ctx context.Context, tenantID string) (*models.DeviceAuthSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.DeviceAuthSession{
		ID:       "sess-1",
		TenantID: tenantID,
		UserCode: "ABCD-1234",
		State:    models.AuthPending,
	}, nil
}

func (f *fakeFlow) Status(ctx context.Context, sessionID string) (*models.DeviceAuthSession, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &models.DeviceAuthSession{ID: sessionID, State: models.AuthAuthorized}, nil
}

type fakeStore struct {
	jobs    map[string]*models.SyncJob
	orders  []*models.Order
	pingErr error

	lastListLimit  int
	lastListOffset int
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	if job, ok := f.jobs[jobID]; ok {
		return job, nil
	}
	return nil, fmt.Errorf("%w: job %s", database.ErrNotFound, jobID)
}

func (f *fakeStore) ListJobs(ctx context.Context, tenantID string, limit int) ([]*models.SyncJob, error) {
	var jobs []*models.SyncJob
	for _, job := range f.jobs {
		if job.TenantID == tenantID {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (f *fakeStore) JobStats(ctx context.Context, tenantID string) (map[models.JobStatus]int, error) {
	return map[models.JobStatus]int{models.JobCompleted: 2}, nil
}

func (f *fakeStore) GetSchedule(ctx context.Context, tenantID string) (*models.SyncSchedule, error) {
	return &models.SyncSchedule{TenantID: tenantID, Interval: 30 * time.Minute, Enabled: true}, nil
}

func (f *fakeStore) ListOrders(ctx context.Context, tenantID string, offset, limit int) ([]*models.Order, error) {
	f.lastListOffset = offset
	f.lastListLimit = limit
	return f.orders, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, tenantID, externalID string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.ExternalID == externalID {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: order %s", database.ErrNotFound, externalID)
}

func (f *fakeStore) MarkOrderDeleted(ctx context.Context, tenantID, externalID string) error {
	for _, o := range f.orders {
		if o.ExternalID == externalID {
			o.Deleted = true
			return nil
		}
	}
	return fmt.Errorf("%w: order %s", database.ErrNotFound, externalID)
}

func (f *fakeStore) ListOrderEvents(ctx context.Context, externalOrderID string) ([]*models.OrderEvent, error) {
	return []*models.OrderEvent{{ExternalOrderID: externalOrderID, EventType: models.EventTypeBought}}, nil
}

func (f *fakeStore) Ping() error {
	return f.pingErr
}

type testEnv struct {
	scheduler *fakeScheduler
	flow      *fakeFlow
	store     *fakeStore
	router    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		scheduler: &fakeScheduler{},
		flow:      &fakeFlow{},
		store:     &fakeStore{jobs: make(map[string]*models.SyncJob)},
	}
	handler := NewHandler(env.scheduler, env.flow, env.store, 20, 100)
	server := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, RateLimitReqs: 10000}, handler)
	env.router = server.Routes()
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return &resp
}

func TestAuthStart(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/v1/auth/start", `{"tenant_id":"shop-42"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		resp := decodeResponse(t, rec)
		if resp.Status != "success" {
			t.Errorf("status = %q", resp.Status)
		}
	})

	t.Run("conflict while pending", func(t *testing.T) {
		env := newTestEnv(t)
		env.flow.startErr = deviceauth.ErrAuthorizationInProgress
		rec := env.do(t, http.MethodPost, "/api/v1/auth/start", `{"tenant_id":"shop-42"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		if decodeResponse(t, rec).Error.Code != "CONFLICT" {
			t.Error("expected CONFLICT code")
		}
	})

	t.Run("invalid tenant", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/v1/auth/start", `{"tenant_id":"has space"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if decodeResponse(t, rec).Error.Code != "VALIDATION_ERROR" {
			t.Error("expected VALIDATION_ERROR code")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/v1/auth/start", `{not json`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestAuthStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/auth/sessions/sess-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	env.flow.statusErr = deviceauth.ErrSessionNotFound
	rec = env.do(t, http.MethodGet, "/api/v1/auth/sessions/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSyncTrigger(t *testing.T) {
	t.Run("accepted with window", func(t *testing.T) {
		env := newTestEnv(t)
		body := `{"tenant_id":"shop-42","full_resync":true,"window_from":"2026-08-01T00:00:00Z"}`
		rec := env.do(t, http.MethodPost, "/api/v1/sync/trigger", body)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if !env.scheduler.lastOpts.FullResync {
			t.Error("full_resync not passed through")
		}
		if env.scheduler.lastOpts.WindowFrom == nil {
			t.Error("window_from not passed through")
		}
	})

	t.Run("conflict", func(t *testing.T) {
		env := newTestEnv(t)
		env.scheduler.triggerErr = scheduler.ErrSyncAlreadyRunning
		rec := env.do(t, http.MethodPost, "/api/v1/sync/trigger", `{"tenant_id":"shop-42"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("bad window format", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/v1/sync/trigger", `{"tenant_id":"shop-42","window_from":"yesterday"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestSyncJobEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.store.jobs["job-1"] = &models.SyncJob{ID: "job-1", TenantID: "shop-42", Status: models.JobCompleted}

	rec := env.do(t, http.MethodGet, "/api/v1/sync/jobs/job-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sync/jobs/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sync/jobs?tenant_id=shop-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list jobs status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sync/jobs", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("list without tenant status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sync/stats?tenant_id=shop-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
}

func TestSyncJobCancel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/sync/jobs/job-1/cancel", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	env.scheduler.cancelErr = scheduler.ErrJobNotRunning
	rec = env.do(t, http.MethodPost, "/api/v1/sync/jobs/job-1/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/schedules/shop-42", `{"interval_seconds":1800}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.scheduler.schedules["shop-42"] != 30*time.Minute {
		t.Errorf("interval = %v", env.scheduler.schedules["shop-42"])
	}

	// Below the 60s floor.
	rec = env.do(t, http.MethodPut, "/api/v1/schedules/shop-42", `{"interval_seconds":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short interval status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/schedules/shop-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/schedules/shop-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if len(env.scheduler.disabled) != 1 {
		t.Error("disable not forwarded to scheduler")
	}
}

func TestOrderEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.store.orders = []*models.Order{
		{ID: "1", TenantID: "shop-42", ExternalID: "ord-1", Payload: json.RawMessage(`{}`)},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/orders?tenant_id=shop-42&limit=500", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	// Limit is clamped to the configured maximum.
	if env.store.lastListLimit != 100 {
		t.Errorf("limit = %d, want clamped to 100", env.store.lastListLimit)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/orders/ord-1?tenant_id=shop-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/orders/ghost?tenant_id=shop-42", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing order status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/orders/ord-1?tenant_id=shop-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if !env.store.orders[0].Deleted {
		t.Error("order not soft-deleted")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/orders/ord-1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	env.store.pingErr = fmt.Errorf("database closed")
	rec = env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
