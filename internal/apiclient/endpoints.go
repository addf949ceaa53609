// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/ordervault/internal/ratelimit"
)

// MaxEventPageSize is the largest event page the marketplace serves.
const MaxEventPageSize = 1000

// MaxOrderPageSize is the largest order listing page the marketplace
// serves.
const MaxOrderPageSize = 100

// ListEvents returns order events after the given event ID, oldest
// first. An empty fromEventID starts at the beginning of the retained
// stream. limit is capped at MaxEventPageSize.
func (c *Client) ListEvents(ctx context.Context, tenantID, fromEventID string, limit int) ([]OrderEventRecord, error) {
	if limit <= 0 || limit > MaxEventPageSize {
		limit = MaxEventPageSize
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if fromEventID != "" {
		query.Set("from", fromEventID)
	}

	var page struct {
		Events []json.RawMessage `json:"events"`
	}
	rc := requestConfig{
		method:   http.MethodGet,
		path:     "/order/events",
		query:    query,
		class:    ratelimit.ClassEvents,
		tenantID: tenantID,
	}
	if err := c.do(ctx, rc, &page); err != nil {
		return nil, err
	}

	events := make([]OrderEventRecord, 0, len(page.Events))
	for _, raw := range page.Events {
		var rec OrderEventRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode order event: %w", err)
		}
		rec.Raw = raw
		events = append(events, rec)
	}
	return events, nil
}

// EventStatistics reports the current end of the tenant's event stream.
func (c *Client) EventStatistics(ctx context.Context, tenantID string) (*EventStats, error) {
	var stats EventStats
	rc := requestConfig{
		method:   http.MethodGet,
		path:     "/order/event-stats",
		class:    ratelimit.ClassEvents,
		tenantID: tenantID,
	}
	if err := c.do(ctx, rc, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListOrders returns one page of the tenant's orders sorted by purchase
// time, optionally restricted to an update-time window.
func (c *Client) ListOrders(ctx context.Context, tenantID string, offset, limit int, from, to *time.Time) (*OrderPage, error) {
	if limit <= 0 || limit > MaxOrderPageSize {
		limit = MaxOrderPageSize
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("sort", "lineItems.boughtAt")
	if from != nil {
		query.Set("updatedAt.gte", from.UTC().Format(time.RFC3339))
	}
	if to != nil {
		query.Set("updatedAt.lte", to.UTC().Format(time.RFC3339))
	}

	var page struct {
		CheckoutForms []json.RawMessage `json:"checkoutForms"`
		TotalCount    int               `json:"totalCount"`
	}
	rc := requestConfig{
		method:   http.MethodGet,
		path:     "/order/checkout-forms",
		query:    query,
		class:    ratelimit.ClassOrders,
		tenantID: tenantID,
	}
	if err := c.do(ctx, rc, &page); err != nil {
		return nil, err
	}

	orders := make([]OrderSummary, 0, len(page.CheckoutForms))
	for _, raw := range page.CheckoutForms {
		var o OrderSummary
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		o.Raw = raw
		orders = append(orders, o)
	}
	return &OrderPage{Orders: orders, TotalCount: page.TotalCount}, nil
}

// GetOrderDetail fetches the full order body.
func (c *Client) GetOrderDetail(ctx context.Context, tenantID, orderID string) (json.RawMessage, error) {
	var detail json.RawMessage
	rc := requestConfig{
		method:   http.MethodGet,
		path:     "/order/checkout-forms/" + url.PathEscape(orderID),
		class:    ratelimit.ClassOrderDetail,
		tenantID: tenantID,
	}
	if err := c.do(ctx, rc, &detail); err != nil {
		return nil, err
	}
	return detail, nil
}
