// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package models

import "time"

// AuthState is the state of a device authorization session.
type AuthState string

// Device authorization session states. PENDING is the only non-terminal
// state; AUTHORIZED, EXPIRED and FAILED are terminal.
const (
	AuthPending    AuthState = "PENDING"
	AuthAuthorized AuthState = "AUTHORIZED"
	AuthExpired    AuthState = "EXPIRED"
	AuthFailed     AuthState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s AuthState) IsTerminal() bool {
	return s == AuthAuthorized || s == AuthExpired || s == AuthFailed
}

// DeviceAuthSession tracks one device-code authorization attempt for a
// tenant. At most one PENDING session may exist per tenant.
type DeviceAuthSession struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	DeviceCode      string        `json:"-"`
	UserCode        string        `json:"user_code"`
	VerificationURI string        `json:"verification_uri"`
	Interval        time.Duration `json:"interval"`
	ExpiresAt       time.Time     `json:"expires_at"`
	State           AuthState     `json:"state"`
	Attempts        int           `json:"attempts"`
	LastError       string        `json:"last_error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Expired reports whether the marketplace-issued device code has lapsed.
func (s *DeviceAuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
