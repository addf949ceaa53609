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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/ordervault/internal/metrics"
	"github.com/tomtom215/ordervault/internal/models"
)

// UpsertOrder inserts the order or overwrites the stored payload when
// (tenant_id, external_id) already exists. Returns true when a new row
// was created.
func (db *DB) UpsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	start := time.Now()
	inserted, err := db.upsertOrder(ctx, order)
	metrics.RecordDBQuery("upsert", "orders", time.Since(start), err)
	if err == nil {
		if inserted {
			metrics.SyncOrdersUpserted.WithLabelValues("added").Inc()
		} else {
			metrics.SyncOrdersUpserted.WithLabelValues("updated").Inc()
		}
	}
	return inserted, err
}

func (db *DB) upsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	now := time.Now().UTC()

	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE tenant_id = ? AND external_id = ?`,
		order.TenantID, order.ExternalID).Scan(&existingID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if order.ID == "" {
			order.ID = uuid.New().String()
		}
		if order.OrderedAt.IsZero() {
			order.OrderedAt = now
		}
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO orders (id, tenant_id, external_id, status, order_data, ordered_at, is_deleted, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.TenantID, order.ExternalID, order.Status,
			string(order.Payload), order.OrderedAt.UTC(), order.Deleted, now, now)
		if err != nil {
			return false, fmt.Errorf("insert order: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("lookup order: %w", err)

	default:
		order.ID = existingID
		_, err := db.conn.ExecContext(ctx,
			`UPDATE orders SET status = ?, order_data = ?, is_deleted = ?, updated_at = ? WHERE id = ?`,
			order.Status, string(order.Payload), order.Deleted, now, existingID)
		if err != nil {
			return false, fmt.Errorf("update order: %w", err)
		}
		return false, nil
	}
}

// GetOrder returns one order by tenant and external ID.
func (db *DB) GetOrder(ctx context.Context, tenantID, externalID string) (*models.Order, error) {
	start := time.Now()
	order, err := db.getOrder(ctx, tenantID, externalID)
	metrics.RecordDBQuery("get", "orders", time.Since(start), err)
	return order, err
}

func (db *DB) getOrder(ctx context.Context, tenantID, externalID string) (*models.Order, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, tenant_id, external_id, status, order_data, ordered_at, is_deleted, created_at, updated_at
		 FROM orders WHERE tenant_id = ? AND external_id = ?`, tenantID, externalID)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s for tenant %s", ErrNotFound, externalID, tenantID)
	}
	return order, err
}

// ListOrders returns a page of the tenant's orders, newest first.
func (db *DB) ListOrders(ctx context.Context, tenantID string, offset, limit int) ([]*models.Order, error) {
	start := time.Now()
	orders, err := db.listOrders(ctx, tenantID, offset, limit)
	metrics.RecordDBQuery("list", "orders", time.Since(start), err)
	return orders, err
}

func (db *DB) listOrders(ctx context.Context, tenantID string, offset, limit int) ([]*models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, tenant_id, external_id, status, order_data, ordered_at, is_deleted, created_at, updated_at
		 FROM orders WHERE tenant_id = ? AND NOT is_deleted
		 ORDER BY ordered_at DESC LIMIT ? OFFSET ?`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// MarkOrderDeleted soft-deletes an order. The row and its events stay.
func (db *DB) MarkOrderDeleted(ctx context.Context, tenantID, externalID string) error {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE orders SET is_deleted = true, updated_at = ? WHERE tenant_id = ? AND external_id = ?`,
		time.Now().UTC(), tenantID, externalID)
	metrics.RecordDBQuery("soft_delete", "orders", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("mark order deleted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: order %s for tenant %s", ErrNotFound, externalID, tenantID)
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*models.Order, error) {
	var (
		order   models.Order
		status  sql.NullString
		payload string
	)
	err := s.Scan(&order.ID, &order.TenantID, &order.ExternalID, &status,
		&payload, &order.OrderedAt, &order.Deleted, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	order.Status = status.String
	order.Payload = json.RawMessage(payload)
	return &order, nil
}
