// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/ordervault/internal/ratelimit"
)

type fakeTokenProvider struct {
	token         string
	refreshed     atomic.Int32
	refreshErr    error
	refreshedToTo string
}

func (f *fakeTokenProvider) EnsureValid(_ context.Context, _ string) (string, error) {
	return f.token, nil
}

func (f *fakeTokenProvider) ForceRefresh(_ context.Context, _ string) (string, error) {
	f.refreshed.Add(1)
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	if f.refreshedToTo != "" {
		f.token = f.refreshedToTo
	}
	return f.token, nil
}

func newTestClient(t *testing.T, server *httptest.Server) (*Client, *fakeTokenProvider) {
	t.Helper()

	client := New(Config{
		APIBaseURL:     server.URL,
		AuthBaseURL:    server.URL,
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	}, ratelimit.New(ratelimit.DefaultConfig()))

	tp := &fakeTokenProvider{token: "token-1"}
	client.BindTokenProvider(tp)
	return client, tp
}

func TestListEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		if r.URL.Path != "/order/events" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("from"); got != "ev-100" {
			t.Errorf("unexpected from: %q", got)
		}
		w.Write([]byte(`{"events": [
			{"id":"ev-101","type":"BOUGHT","occurredAt":"2026-08-01T10:00:00Z",
			 "order":{"checkoutForm":{"id":"ord-1"}}},
			{"id":"ev-102","type":"FILLED_IN","occurredAt":"2026-08-01T10:05:00Z",
			 "order":{"checkoutForm":{"id":"ord-2"}}}
		]}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server)

	events, err := client.ListEvents(context.Background(), "tenant-1", "ev-100", 100)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "ev-101" || events[0].ExternalOrderID() != "ord-1" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if len(events[1].Raw) == 0 {
		t.Error("expected raw event payload to be kept")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"events": []}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server)

	if _, err := client.ListEvents(context.Background(), "tenant-1", "", 10); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestServerErrorsExhaustRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server)

	_, err := client.ListEvents(context.Background(), "tenant-1", "", 10)
	if !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("expected ErrTransientNetwork, got %v", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Errorf("expected initial attempt plus 3 retries, got %d", got)
	}
}

func TestRateLimitedRetriesOnceAfterPenalty(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"events": []}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server)

	if _, err := client.ListEvents(context.Background(), "tenant-1", "", 10); err != nil {
		t.Fatalf("expected success after 429 penalty, got %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestPermanentErrorDoesNotRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server)

	_, err := client.GetOrderDetail(context.Background(), "tenant-1", "missing")
	if !errors.Is(err, ErrPermanentAPI) {
		t.Fatalf("expected ErrPermanentAPI, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
}

func TestUnauthorizedTriggersRefreshAndRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"events": []}`))
	}))
	defer server.Close()

	client, tp := newTestClient(t, server)
	tp.refreshedToTo = "token-2"

	if _, err := client.ListEvents(context.Background(), "tenant-1", "", 10); err != nil {
		t.Fatalf("expected success after refresh, got %v", err)
	}
	if got := tp.refreshed.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", got)
	}
}

func TestUnauthorizedAfterRefreshFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, tp := newTestClient(t, server)

	_, err := client.ListEvents(context.Background(), "tenant-1", "", 10)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired after failed refresh retry, got %v", err)
	}
	if got := tp.refreshed.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", got)
	}
}

func TestListOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("offset") != "100" || q.Get("limit") != "100" {
			t.Errorf("unexpected paging: offset=%s limit=%s", q.Get("offset"), q.Get("limit"))
		}
		if q.Get("sort") != "lineItems.boughtAt" {
			t.Errorf("unexpected sort: %s", q.Get("sort"))
		}
		w.Write([]byte(`{"checkoutForms":[
			{"id":"ord-1","status":"READY_FOR_PROCESSING","updatedAt":"2026-08-02T09:00:00Z",
			 "lineItems":[{"boughtAt":"2026-08-01T12:00:00Z"}]}
		],"totalCount":101}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server)

	page, err := client.ListOrders(context.Background(), "tenant-1", 100, 100, nil, nil)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if page.TotalCount != 101 || len(page.Orders) != 1 {
		t.Fatalf("unexpected page: total=%d orders=%d", page.TotalCount, len(page.Orders))
	}

	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if got := page.Orders[0].OrderedAt(); !got.Equal(want) {
		t.Errorf("OrderedAt = %v, want %v", got, want)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"seconds", "30", 30 * time.Second},
		{"zero", "0", 0},
		{"empty", "", time.Second},
		{"garbage", "soon", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
