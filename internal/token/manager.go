// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

/*
manager.go - Tenant token lifecycle

A credential is refreshed before the sync that would outlive it: when
less than the configured lead time remains, EnsureValid exchanges the
refresh token for a new pair. Refreshes are single-flighted per tenant
so parallel workers trigger one marketplace call, not many.

A refresh rejected by the marketplace means the refresh token itself is
dead. The credential is deactivated and every call fails fast with
ErrCredentialExpired until the tenant re-runs device authorization.
*/

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/ordervault/internal/apiclient"
	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

// DefaultLeadTime is how much remaining validity triggers a refresh.
const DefaultLeadTime = 5 * time.Minute

var (
	// ErrNoCredential is returned when the tenant never authorized or
	// the credential was deactivated and none replaced it.
	ErrNoCredential = errors.New("token: no active credential")

	// ErrCredentialExpired is returned when the refresh token was
	// rejected; the tenant must re-authorize.
	ErrCredentialExpired = errors.New("token: credential expired, re-authorization required")
)

// Store is the credential persistence the manager needs.
type Store interface {
	ActiveCredential(ctx context.Context, tenantID string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
	DeactivateCredential(ctx context.Context, id string) error
	CredentialsExpiringWithin(ctx context.Context, d time.Duration) ([]*models.Credential, error)
}

// AuthClient is the marketplace refresh operation.
type AuthClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*apiclient.TokenResponse, error)
}

// Manager keeps tenant access tokens usable.
type Manager struct {
	store    Store
	auth     AuthClient
	leadTime time.Duration
	group    singleflight.Group
}

// NewManager creates a token manager. leadTime <= 0 uses DefaultLeadTime.
func NewManager(store Store, auth AuthClient, leadTime time.Duration) *Manager {
	if leadTime <= 0 {
		leadTime = DefaultLeadTime
	}
	return &Manager{store: store, auth: auth, leadTime: leadTime}
}

// EnsureValid returns an access token with at least the lead time of
// validity left, refreshing if needed.
func (m *Manager) EnsureValid(ctx context.Context, tenantID string) (string, error) {
	cred, err := m.store.ActiveCredential(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !cred.ExpiresWithin(m.leadTime) {
		return cred.AccessToken, nil
	}
	return m.refresh(ctx, tenantID)
}

// ForceRefresh discards the current access token and fetches a new pair.
// Called by the API client after a 401.
func (m *Manager) ForceRefresh(ctx context.Context, tenantID string) (string, error) {
	return m.refresh(ctx, tenantID)
}

// refresh coalesces concurrent refreshes for the same tenant.
func (m *Manager) refresh(ctx context.Context, tenantID string) (string, error) {
	v, err, _ := m.group.Do(tenantID, func() (interface{}, error) {
		// Re-read inside the flight: a concurrent caller may have
		// already refreshed while we waited.
		cred, err := m.store.ActiveCredential(ctx, tenantID)
		if err != nil {
			return "", err
		}

		resp, err := m.auth.RefreshToken(ctx, cred.RefreshToken)
		if err != nil {
			if errors.Is(err, apiclient.ErrPermanentAPI) {
				metrics.TokenRefreshTotal.WithLabelValues("rejected").Inc()
				if derr := m.store.DeactivateCredential(ctx, cred.ID); derr != nil {
					logging.Error().Err(derr).
						Str("tenant", tenantID).
						Msg("Failed to deactivate rejected credential")
				}
				logging.Warn().
					Str("tenant", tenantID).
					Msg("Refresh token rejected, credential deactivated")
				return "", fmt.Errorf("%w: %v", ErrCredentialExpired, err)
			}
			metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("refresh token for tenant %s: %w", tenantID, err)
		}

		cred.AccessToken = resp.AccessToken
		if resp.RefreshToken != "" {
			cred.RefreshToken = resp.RefreshToken
		}
		cred.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		cred.UpdatedAt = time.Now()
		if err := m.store.SaveCredential(ctx, cred); err != nil {
			return "", fmt.Errorf("persist refreshed credential: %w", err)
		}

		metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
		logging.Debug().
			Str("tenant", tenantID).
			Time("expires_at", cred.ExpiresAt).
			Msg("Credential refreshed")
		return cred.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RefreshExpiring refreshes every active credential that enters the
// lead window. Used by the background sweep; failures are logged per
// credential so one dead tenant does not stop the rest.
func (m *Manager) RefreshExpiring(ctx context.Context) error {
	creds, err := m.store.CredentialsExpiringWithin(ctx, m.leadTime)
	if err != nil {
		return fmt.Errorf("list expiring credentials: %w", err)
	}

	for _, cred := range creds {
		if _, err := m.refresh(ctx, cred.TenantID); err != nil {
			logging.Warn().Err(err).
				Str("tenant", cred.TenantID).
				Msg("Background credential refresh failed")
		}
	}
	return nil
}
