// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

// Package database is the durable store: orders, order events,
// credentials, sync jobs, schedules and cursors, backed by DuckDB.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/ordervault/internal/logging"
)

// Sentinel errors for store lookups and invariants.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("database: not found")

	// ErrRunningJobExists is returned by CreateJob while the tenant
	// already has a RUNNING job.
	ErrRunningJobExists = errors.New("database: running job exists for tenant")
)

// Config holds database configuration.
type Config struct {
	// Path is the DuckDB file. Empty opens an in-memory database.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage, e.g. "1GB". Default: 1GB
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB worker thread count. Zero uses NumCPU.
	Threads int `koanf:"threads"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:      "data/ordervault.db",
		MaxMemory: "1GB",
	}
}

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
}

// New opens the database and initializes the schema.
func New(cfg Config) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "1GB"
	}

	// Ensure the parent directory exists for file-backed databases.
	if cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	// Auto-install/auto-load stay off so startup cannot hang in
	// restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initialize(); err != nil {
		if cerr := conn.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close database after init error")
		}
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Database opened")
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive. Used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
