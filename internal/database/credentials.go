// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

// SaveCredential stores a credential as the tenant's single active one,
// deactivating any predecessor in the same transaction.
func (db *DB) SaveCredential(ctx context.Context, cred *models.Credential) error {
	start := time.Now()
	err := db.saveCredential(ctx, cred)
	metrics.RecordDBQuery("save", "credentials", time.Since(start), err)
	return err
}

func (db *DB) saveCredential(ctx context.Context, cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cred.Active = true

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_active = false, updated_at = ? WHERE tenant_id = ? AND is_active AND id <> ?`,
		now, cred.TenantID, cred.ID); err != nil {
		return fmt.Errorf("deactivate predecessors: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (id, tenant_id, access_token, refresh_token, expires_at, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		cred.ID, cred.TenantID, cred.AccessToken, cred.RefreshToken,
		cred.ExpiresAt.UTC(), cred.Active, cred.CreatedAt.UTC(), cred.UpdatedAt); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	return tx.Commit()
}

// ActiveCredential returns the tenant's active credential or ErrNotFound.
func (db *DB) ActiveCredential(ctx context.Context, tenantID string) (*models.Credential, error) {
	start := time.Now()
	cred, err := db.activeCredential(ctx, tenantID)
	metrics.RecordDBQuery("get", "credentials", time.Since(start), err)
	return cred, err
}

func (db *DB) activeCredential(ctx context.Context, tenantID string) (*models.Credential, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, tenant_id, access_token, refresh_token, expires_at, is_active, created_at, updated_at
		 FROM credentials WHERE tenant_id = ? AND is_active
		 ORDER BY updated_at DESC LIMIT 1`, tenantID)

	var cred models.Credential
	err := row.Scan(&cred.ID, &cred.TenantID, &cred.AccessToken, &cred.RefreshToken,
		&cred.ExpiresAt, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: active credential for tenant %s", ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &cred, nil
}

// DeactivateCredential marks a credential unusable. The row stays for
// audit; re-authorization creates a new one.
func (db *DB) DeactivateCredential(ctx context.Context, id string) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE credentials SET is_active = false, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	metrics.RecordDBQuery("deactivate", "credentials", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("deactivate credential %s: %w", id, err)
	}
	return nil
}

// CredentialsExpiringWithin returns active credentials whose access
// token expires before now+d. Feeds the background refresh sweep.
func (db *DB) CredentialsExpiringWithin(ctx context.Context, d time.Duration) ([]*models.Credential, error) {
	start := time.Now()
	creds, err := db.credentialsExpiringWithin(ctx, d)
	metrics.RecordDBQuery("list_expiring", "credentials", time.Since(start), err)
	return creds, err
}

func (db *DB) credentialsExpiringWithin(ctx context.Context, d time.Duration) ([]*models.Credential, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, tenant_id, access_token, refresh_token, expires_at, is_active, created_at, updated_at
		 FROM credentials WHERE is_active AND expires_at < ?`,
		time.Now().Add(d).UTC())
	if err != nil {
		return nil, fmt.Errorf("query expiring credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		var cred models.Credential
		if err := rows.Scan(&cred.ID, &cred.TenantID, &cred.AccessToken, &cred.RefreshToken,
			&cred.ExpiresAt, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}
