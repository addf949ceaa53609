// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package apiclient

import (
	"time"

	"github.com/goccy/go-json"
)

// OrderEventRecord is one entry of the order event stream.
type OrderEventRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Order      struct {
		CheckoutForm struct {
			ID string `json:"id"`
		} `json:"checkoutForm"`
	} `json:"order"`

	// Raw is the unparsed event body, stored verbatim alongside the
	// typed fields.
	Raw json.RawMessage `json:"-"`
}

// ExternalOrderID returns the order the event belongs to.
func (r *OrderEventRecord) ExternalOrderID() string {
	return r.Order.CheckoutForm.ID
}

// EventStats reports the current end of the event stream. Used to seed
// the cursor on a tenant's first incremental sync.
type EventStats struct {
	LatestEvent struct {
		ID         string    `json:"id"`
		OccurredAt time.Time `json:"occurredAt"`
	} `json:"latestEvent"`
}

// OrderSummary is one order from the paged order listing.
type OrderSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	LineItems []struct {
		BoughtAt time.Time `json:"boughtAt"`
	} `json:"lineItems"`

	// Raw is the unparsed order body, persisted as the order payload.
	Raw json.RawMessage `json:"-"`
}

// OrderedAt returns the purchase time of the earliest line item, or the
// order's update time when no line item carries one.
func (o *OrderSummary) OrderedAt() time.Time {
	var earliest time.Time
	for _, li := range o.LineItems {
		if li.BoughtAt.IsZero() {
			continue
		}
		if earliest.IsZero() || li.BoughtAt.Before(earliest) {
			earliest = li.BoughtAt
		}
	}
	if earliest.IsZero() {
		return o.UpdatedAt
	}
	return earliest
}

// OrderPage is one page of the order listing.
type OrderPage struct {
	Orders     []OrderSummary
	TotalCount int
}

// DeviceAuthResponse is the marketplace's answer to a device
// authorization initiation.
type DeviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// TokenResponse is an OAuth token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// oauthError is the body of a 400 from the token endpoint.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}
