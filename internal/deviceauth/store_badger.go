// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package deviceauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/ordervault/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	sessionKeyPrefix = "authsession:"
	tenantKeyPrefix  = "authtenant:"
)

// SessionStore persists device authorization sessions.
type SessionStore interface {
	Put(ctx context.Context, session *models.DeviceAuthSession) error
	Get(ctx context.Context, id string) (*models.DeviceAuthSession, error)

	// PendingForTenant returns the tenant's PENDING session, or
	// ErrSessionNotFound.
	PendingForTenant(ctx context.Context, tenantID string) (*models.DeviceAuthSession, error)

	// Pending returns all PENDING sessions.
	Pending(ctx context.Context) ([]*models.DeviceAuthSession, error)
}

// BadgerSessionStore implements SessionStore on BadgerDB so sessions
// survive restarts.
type BadgerSessionStore struct {
	db *badger.DB
}

// NewBadgerSessionStore creates a BadgerDB-backed session store.
func NewBadgerSessionStore(db *badger.DB) *BadgerSessionStore {
	return &BadgerSessionStore{db: db}
}

// Put stores or replaces a session. A PENDING session is indexed under
// its tenant; the index entry is removed on terminal states.
func (s *BadgerSessionStore) Put(_ context.Context, session *models.DeviceAuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(sessionKeyPrefix+session.ID), data); err != nil {
			return fmt.Errorf("set session: %w", err)
		}

		tenantKey := []byte(tenantKeyPrefix + session.TenantID)
		if session.State == models.AuthPending {
			if err := txn.Set(tenantKey, []byte(session.ID)); err != nil {
				return fmt.Errorf("set tenant index: %w", err)
			}
			return nil
		}

		// Terminal state: drop the index so the tenant can start over.
		item, err := txn.Get(tenantKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get tenant index: %w", err)
		}
		return item.Value(func(val []byte) error {
			if string(val) != session.ID {
				return nil
			}
			return txn.Delete(tenantKey)
		})
	})
}

// Get retrieves a session by ID.
func (s *BadgerSessionStore) Get(_ context.Context, id string) (*models.DeviceAuthSession, error) {
	var session models.DeviceAuthSession

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// PendingForTenant returns the tenant's PENDING session via the index.
func (s *BadgerSessionStore) PendingForTenant(ctx context.Context, tenantID string) (*models.DeviceAuthSession, error) {
	var sessionID string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tenantKeyPrefix + tenantID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get tenant index: %w", err)
		}
		return item.Value(func(val []byte) error {
			sessionID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.AuthPending {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Pending scans all sessions and returns the PENDING ones.
func (s *BadgerSessionStore) Pending(_ context.Context) ([]*models.DeviceAuthSession, error) {
	var sessions []*models.DeviceAuthSession

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var session models.DeviceAuthSession
				if err := json.Unmarshal(val, &session); err != nil {
					return fmt.Errorf("unmarshal session: %w", err)
				}
				if session.State == models.AuthPending {
					sessions = append(sessions, &session)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
