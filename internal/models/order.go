// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Order is a durable copy of a marketplace order for one tenant.
// The pair (TenantID, ExternalID) is unique; re-ingesting the same order
// overwrites the payload instead of creating a second row.
type Order struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OrderedAt  time.Time       `json:"ordered_at"`
	Deleted    bool            `json:"deleted"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// OrderEvent records one marketplace event against an order.
// The triple (ExternalOrderID, OccurredAt, EventType) is unique so that
// replaying an event window is idempotent.
type OrderEvent struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ExternalOrderID string          `json:"external_order_id"`
	EventType       string          `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Marketplace order event types.
const (
	EventTypeBought                  = "BOUGHT"
	EventTypeFilledIn                = "FILLED_IN"
	EventTypeReadyForProcessing      = "READY_FOR_PROCESSING"
	EventTypeBuyerCancelled          = "BUYER_CANCELLED"
	EventTypeFulfillmentStatusChange = "FULFILLMENT_STATUS_CHANGED"
	EventTypeAutoCancelled           = "AUTO_CANCELLED"
)

// TrackedEventTypes lists the event types that trigger an order detail
// fetch and upsert during ingestion. Other types are recorded only.
func TrackedEventTypes() []string {
	return []string{
		EventTypeBought,
		EventTypeFilledIn,
		EventTypeReadyForProcessing,
		EventTypeBuyerCancelled,
		EventTypeFulfillmentStatusChange,
		EventTypeAutoCancelled,
	}
}
