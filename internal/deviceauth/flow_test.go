// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package deviceauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/ordervault/internal/apiclient"
	"github.com/tomtom215/ordervault/internal/models"
)

type fakeAuthClient struct {
	mu          sync.Mutex
	pollResults []error // consumed per poll; nil means grant
	polls       int
	interval    int
	expiresIn   int
}

func (c *fakeAuthClient) InitiateDeviceAuth(_ context.Context) (*apiclient.DeviceAuthResponse, error) {
	expiresIn := c.expiresIn
	if expiresIn == 0 {
		expiresIn = 600
	}
	return &apiclient.DeviceAuthResponse{
		DeviceCode:      "dev-123",
		UserCode:        "ABCD-1234",
		VerificationURI: "https://marketplace.example/device",
		ExpiresIn:       expiresIn,
		Interval:        c.interval,
	}, nil
}

func (c *fakeAuthClient) PollDeviceAuth(_ context.Context, _ string) (*apiclient.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result error
	if c.polls < len(c.pollResults) {
		result = c.pollResults[c.polls]
	}
	c.polls++
	if result != nil {
		return nil, result
	}
	return &apiclient.TokenResponse{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresIn:    43200,
	}, nil
}

type fakeCredSaver struct {
	mu    sync.Mutex
	saved []*models.Credential
}

func (s *fakeCredSaver) SaveCredential(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, cred)
	return nil
}

func (s *fakeCredSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newTestStore(t *testing.T) *BadgerSessionStore {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBadgerSessionStore(db)
}

// fastConfig polls quickly so state machine tests finish in milliseconds.
func fastConfig() Config {
	return Config{
		MaxAttempts:      30,
		FallbackInterval: 5 * time.Millisecond,
		SlowDownStep:     5 * time.Millisecond,
	}
}

func waitForState(t *testing.T, flow *Flow, sessionID string, want models.AuthState) *models.DeviceAuthSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := flow.Status(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if session.State == want {
			return session
		}
		time.Sleep(2 * time.Millisecond)
	}
	session, _ := flow.Status(context.Background(), sessionID)
	t.Fatalf("session never reached %s, currently %s", want, session.State)
	return nil
}

func TestAuthorizationGranted(t *testing.T) {
	client := &fakeAuthClient{pollResults: []error{
		apiclient.ErrAuthPending,
		apiclient.ErrAuthPending,
		nil,
	}}
	saver := &fakeCredSaver{}
	flow := NewFlow(newTestStore(t), saver, client, fastConfig())
	defer flow.Stop()

	session, err := flow.Start(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.State != models.AuthPending {
		t.Fatalf("new session state = %s, want PENDING", session.State)
	}
	if session.UserCode != "ABCD-1234" {
		t.Errorf("user code = %q", session.UserCode)
	}

	waitForState(t, flow, session.ID, models.AuthAuthorized)

	if saver.count() != 1 {
		t.Fatalf("expected 1 saved credential, got %d", saver.count())
	}
	saver.mu.Lock()
	cred := saver.saved[0]
	saver.mu.Unlock()
	if cred.TenantID != "tenant-1" || cred.AccessToken != "at-1" || !cred.Active {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestAccessDeniedFailsSession(t *testing.T) {
	client := &fakeAuthClient{pollResults: []error{apiclient.ErrAuthDenied}}
	flow := NewFlow(newTestStore(t), &fakeCredSaver{}, client, fastConfig())
	defer flow.Stop()

	session, err := flow.Start(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := waitForState(t, flow, session.ID, models.AuthFailed)
	if got.LastError == "" {
		t.Error("expected failure detail on session")
	}
}

func TestExpiredDeviceCodeExpiresSession(t *testing.T) {
	client := &fakeAuthClient{pollResults: []error{apiclient.ErrAuthCodeExpired}}
	flow := NewFlow(newTestStore(t), &fakeCredSaver{}, client, fastConfig())
	defer flow.Stop()

	session, err := flow.Start(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForState(t, flow, session.ID, models.AuthExpired)
}

func TestPermanentAuthErrorFailsSession(t *testing.T) {
	// An unknown OAuth error code surfaces as a permanent API error;
	// retrying the same device code cannot succeed.
	client := &fakeAuthClient{pollResults: []error{apiclient.ErrPermanentAPI}}
	flow := NewFlow(newTestStore(t), &fakeCredSaver{}, client, fastConfig())
	defer flow.Stop()

	session, err := flow.Start(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := waitForState(t, flow, session.ID, models.AuthFailed)
	if got.LastError == "" {
		t.Error("expected failure detail on session")
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after permanent error)", got.Attempts)
	}
}

func TestAttemptBudgetExhaustion(t *testing.T) {
	client := &fakeAuthClient{} // no scripted results: every poll pends
	for i := 0; i < 100; i++ {
		client.pollResults = append(client.pollResults, apiclient.ErrAuthPending)
	}
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	flow := NewFlow(newTestStore(t), &fakeCredSaver{}, client, cfg)
	defer flow.Stop()

	session, err := flow.Start(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got := waitForState(t, flow, session.ID, models.AuthExpired)
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
}

func TestSecondStartWhilePendingRejected(t *testing.T) {
	client := &fakeAuthClient{}
	for i := 0; i < 100; i++ {
		client.pollResults = append(client.pollResults, apiclient.ErrAuthPending)
	}
	flow := NewFlow(newTestStore(t), &fakeCredSaver{}, client, fastConfig())
	defer flow.Stop()

	if _, err := flow.Start(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	_, err := flow.Start(context.Background(), "tenant-1")
	if !errors.Is(err, ErrAuthorizationInProgress) {
		t.Fatalf("expected ErrAuthorizationInProgress, got %v", err)
	}

	// A different tenant is unaffected.
	if _, err := flow.Start(context.Background(), "tenant-2"); err != nil {
		t.Fatalf("Start for second tenant failed: %v", err)
	}
}

func TestResumeExpiresStaleSessions(t *testing.T) {
	store := newTestStore(t)
	stale := &models.DeviceAuthSession{
		ID:         "sess-stale",
		TenantID:   "tenant-1",
		DeviceCode: "dev-old",
		ExpiresAt:  time.Now().Add(-time.Minute),
		State:      models.AuthPending,
	}
	if err := store.Put(context.Background(), stale); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	flow := NewFlow(store, &fakeCredSaver{}, &fakeAuthClient{}, fastConfig())
	defer flow.Stop()

	if err := flow.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	session, err := flow.Status(context.Background(), "sess-stale")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if session.State != models.AuthExpired {
		t.Errorf("stale session state = %s, want EXPIRED", session.State)
	}

	// The tenant index was released; a new Start succeeds.
	if _, err := flow.Start(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Start after stale expiry failed: %v", err)
	}
}

func TestResumeRestartsPendingSession(t *testing.T) {
	store := newTestStore(t)
	pending := &models.DeviceAuthSession{
		ID:         "sess-live",
		TenantID:   "tenant-1",
		DeviceCode: "dev-live",
		Interval:   5 * time.Millisecond,
		ExpiresAt:  time.Now().Add(time.Minute),
		State:      models.AuthPending,
	}
	if err := store.Put(context.Background(), pending); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	client := &fakeAuthClient{pollResults: []error{nil}}
	saver := &fakeCredSaver{}
	flow := NewFlow(store, saver, client, fastConfig())
	defer flow.Stop()

	if err := flow.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	waitForState(t, flow, "sess-live", models.AuthAuthorized)
	if saver.count() != 1 {
		t.Errorf("expected credential saved after resumed grant, got %d", saver.count())
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	session := &models.DeviceAuthSession{
		ID:        "sess-1",
		TenantID:  "tenant-1",
		State:     models.AuthPending,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.PendingForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingForTenant failed: %v", err)
	}
	if got.ID != "sess-1" {
		t.Errorf("session ID = %q", got.ID)
	}

	session.State = models.AuthAuthorized
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("terminal Put failed: %v", err)
	}
	if _, err := store.PendingForTenant(ctx, "tenant-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected index released after terminal state, got %v", err)
	}
}
