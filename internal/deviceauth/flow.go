// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/*
flow.go - Device authorization state machine

A session moves PENDING -> AUTHORIZED | EXPIRED | FAILED and never
leaves a terminal state. Each PENDING session owns a polling goroutine
that asks the token endpoint for the grant at the marketplace-given
interval; every poll consumes one auth-class rate token.

Sessions are persisted, so a restart resumes PENDING polls and expires
sessions whose device code lapsed while the process was down.
*/

package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/ordervault/internal/apiclient"
	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

var (
	// ErrAuthorizationInProgress is returned by Start while the tenant
	// already has a PENDING session.
	ErrAuthorizationInProgress = errors.New("deviceauth: authorization already in progress")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("deviceauth: session not found")
)

// Config holds flow tuning.
type Config struct {
	// MaxAttempts bounds token polls per session. Default: 30
	MaxAttempts int `koanf:"max_attempts"`

	// FallbackInterval is used when the marketplace omits the poll
	// interval. Default: 5s
	FallbackInterval time.Duration `koanf:"fallback_interval"`

	// SlowDownStep is added to the interval on a slow_down answer,
	// per RFC 8628. Default: 5s
	SlowDownStep time.Duration `koanf:"slow_down_step"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      30,
		FallbackInterval: 5 * time.Second,
		SlowDownStep:     5 * time.Second,
	}
}

// AuthClient is the marketplace device flow surface.
type AuthClient interface {
	InitiateDeviceAuth(ctx context.Context) (*apiclient.DeviceAuthResponse, error)
	PollDeviceAuth(ctx context.Context, deviceCode string) (*apiclient.TokenResponse, error)
}

// CredentialSaver persists the credential obtained by a grant.
type CredentialSaver interface {
	SaveCredential(ctx context.Context, cred *models.Credential) error
}

// Flow runs device authorization sessions.
type Flow struct {
	store  SessionStore
	creds  CredentialSaver
	client AuthClient
	cfg    Config

	// startMu serializes Start per process so two concurrent calls
	// cannot both create a PENDING session for one tenant.
	startMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	// baseCtx parents all polling goroutines; Stop cancels it.
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewFlow creates a device authorization flow.
func NewFlow(store SessionStore, creds CredentialSaver, client AuthClient, cfg Config) *Flow {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = def.FallbackInterval
	}
	if cfg.SlowDownStep <= 0 {
		cfg.SlowDownStep = def.SlowDownStep
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Flow{
		store:   store,
		creds:   creds,
		client:  client,
		cfg:     cfg,
		cancels: make(map[string]context.CancelFunc),
		baseCtx: baseCtx,
		stop:    stop,
	}
}

// Start initiates device authorization for a tenant and begins polling.
// Returns the session holding the user code and verification URI.
func (f *Flow) Start(ctx context.Context, tenantID string) (*models.DeviceAuthSession, error) {
	f.startMu.Lock()
	defer f.startMu.Unlock()

	existing, err := f.store.PendingForTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if existing != nil && !existing.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: session %s", ErrAuthorizationInProgress, existing.ID)
	}
	if existing != nil {
		// The previous session's device code lapsed without a poll
		// noticing (for example across a restart).
		f.finalize(ctx, existing, models.AuthExpired, "device code expired")
	}

	resp, err := f.client.InitiateDeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initiate device auth: %w", err)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = f.cfg.FallbackInterval
	}

	now := time.Now()
	session := &models.DeviceAuthSession{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        interval,
		ExpiresAt:       now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		State:           models.AuthPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.store.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	f.launch(session)

	logging.Info().
		Str("tenant", tenantID).
		Str("session", session.ID).
		Str("user_code", session.UserCode).
		Time("expires_at", session.ExpiresAt).
		Msg("Device authorization started")
	return session, nil
}

// Status returns the current session state.
func (f *Flow) Status(ctx context.Context, sessionID string) (*models.DeviceAuthSession, error) {
	return f.store.Get(ctx, sessionID)
}

// Resume restarts polling for persisted PENDING sessions and expires
// the stale ones. Called once at startup.
func (f *Flow) Resume(ctx context.Context) error {
	sessions, err := f.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending sessions: %w", err)
	}

	now := time.Now()
	for _, session := range sessions {
		if session.Expired(now) {
			f.finalize(ctx, session, models.AuthExpired, "device code expired during downtime")
			continue
		}
		f.launch(session)
		logging.Info().
			Str("tenant", session.TenantID).
			Str("session", session.ID).
			Msg("Resumed device authorization polling")
	}
	return nil
}

// Stop cancels all polling goroutines and waits for them to exit.
func (f *Flow) Stop() {
	f.stop()
	f.wg.Wait()
}

// launch starts the polling goroutine for a PENDING session.
func (f *Flow) launch(session *models.DeviceAuthSession) {
	ctx, cancel := context.WithCancel(f.baseCtx)

	f.mu.Lock()
	f.cancels[session.ID] = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			cancel()
			f.mu.Lock()
			delete(f.cancels, session.ID)
			f.mu.Unlock()
		}()
		f.poll(ctx, session)
	}()
}

// poll drives one session to a terminal state.
func (f *Flow) poll(ctx context.Context, session *models.DeviceAuthSession) {
	interval := session.Interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Leave the session PENDING; a restart resumes it.
			return
		case <-timer.C:
		}

		now := time.Now()
		if session.Expired(now) {
			f.finalize(ctx, session, models.AuthExpired, "device code expired")
			return
		}

		session.Attempts++
		resp, err := f.client.PollDeviceAuth(ctx, session.DeviceCode)

		switch {
		case err == nil:
			cred := &models.Credential{
				ID:           uuid.New().String(),
				TenantID:     session.TenantID,
				AccessToken:  resp.AccessToken,
				RefreshToken: resp.RefreshToken,
				ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
				Active:       true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := f.creds.SaveCredential(ctx, cred); err != nil {
				f.finalize(ctx, session, models.AuthFailed, fmt.Sprintf("persist credential: %v", err))
				return
			}
			f.finalize(ctx, session, models.AuthAuthorized, "")
			logging.Info().
				Str("tenant", session.TenantID).
				Str("session", session.ID).
				Msg("Device authorization granted")
			return

		case errors.Is(err, apiclient.ErrAuthPending):
			// Keep waiting.

		case errors.Is(err, apiclient.ErrAuthSlowDown):
			interval += f.cfg.SlowDownStep

		case errors.Is(err, apiclient.ErrAuthDenied):
			f.finalize(ctx, session, models.AuthFailed, "access denied by user")
			return

		case errors.Is(err, apiclient.ErrAuthCodeExpired):
			f.finalize(ctx, session, models.AuthExpired, "device code expired")
			return

		case errors.Is(err, apiclient.ErrPermanentAPI):
			// The auth endpoint rejected the grant outright; retrying
			// the same device code cannot succeed.
			f.finalize(ctx, session, models.AuthFailed, fmt.Sprintf("authorization rejected: %v", err))
			return

		case errors.Is(err, context.Canceled):
			return

		default:
			// Transient failure; the attempt still counts.
			logging.Warn().Err(err).
				Str("session", session.ID).
				Int("attempt", session.Attempts).
				Msg("Device authorization poll failed")
		}

		if session.Attempts >= f.cfg.MaxAttempts {
			f.finalize(ctx, session, models.AuthExpired, "poll attempt budget exhausted")
			return
		}

		session.UpdatedAt = time.Now()
		if err := f.store.Put(ctx, session); err != nil {
			logging.Error().Err(err).Str("session", session.ID).Msg("Failed to persist session progress")
		}

		timer.Reset(interval)
	}
}

// finalize moves a session to a terminal state and persists it.
func (f *Flow) finalize(ctx context.Context, session *models.DeviceAuthSession, state models.AuthState, detail string) {
	session.State = state
	session.LastError = detail
	session.UpdatedAt = time.Now()

	if err := f.store.Put(ctx, session); err != nil {
		logging.Error().Err(err).
			Str("session", session.ID).
			Str("state", string(state)).
			Msg("Failed to persist terminal session state")
	}
	metrics.DeviceAuthSessionsTotal.WithLabelValues(string(state)).Inc()
}
