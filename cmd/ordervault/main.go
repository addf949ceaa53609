// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

// Package main is the entry point for the Ordervault server.
//
// Ordervault backs up e-commerce marketplace orders for multiple tenant
// accounts. It polls the marketplace order event stream, deduplicates
// events, and keeps a local DuckDB copy of every order current, so
// sellers retain their order history beyond the marketplace's retention
// window.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, config file, environment (Koanf v2)
//  2. Database: DuckDB order archive, jobs, cursors, schedules
//  3. Session store: BadgerDB device authorization sessions
//  4. Marketplace client: rate-limited, circuit-broken HTTP client
//  5. Token manager: refresh-ahead OAuth token lifecycle
//  6. Device auth flow: RFC 8628 device authorization polling
//  7. Sync scheduler: worker pool, per-tenant mutual exclusion
//  8. HTTP server: REST API with per-IP rate limiting
//
// All long-lived services run under a suture supervisor tree with
// data, sync, and api layers for failure isolation.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (MARKETPLACE_CLIENT_ID, HTTP_PORT, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server stops accepting connections, running sync jobs are cancelled
// and recorded as CANCELLED, and both databases are closed.
//
// # Example Usage
//
//	export MARKETPLACE_CLIENT_ID=your-client-id
//	export MARKETPLACE_CLIENT_SECRET=your-client-secret
//	export DUCKDB_PATH=/data/ordervault.duckdb
//	./ordervault
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/ordervault/internal/api"
	"github.com/tomtom215/ordervault/internal/apiclient"
	"github.com/tomtom215/ordervault/internal/config"
	"github.com/tomtom215/ordervault/internal/database"
	"github.com/tomtom215/ordervault/internal/deviceauth"
	"github.com/tomtom215/ordervault/internal/ingest"
	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/ratelimit"
	"github.com/tomtom215/ordervault/internal/scheduler"
	"github.com/tomtom215/ordervault/internal/supervisor"
	"github.com/tomtom215/ordervault/internal/token"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("api_base_url", cfg.Marketplace.APIBaseURL).
		Int("sync_workers", cfg.Sync.Workers).
		Msg("Starting Ordervault")

	db, err := database.New(database.Config{
		Path:      cfg.Database.Path,
		MaxMemory: cfg.Database.MaxMemory,
		Threads:   cfg.Database.Threads,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	sessionOpts := badger.DefaultOptions(cfg.Auth.SessionPath)
	sessionOpts.Logger = nil // Suppress BadgerDB logs
	sessionDB, err := badger.Open(sessionOpts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer func() {
		if err := sessionDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{
		General:        cfg.RateLimit.General,
		Orders:         cfg.RateLimit.Orders,
		OrderDetail:    cfg.RateLimit.OrderDetail,
		Events:         cfg.RateLimit.Events,
		Auth:           cfg.RateLimit.Auth,
		AcquireTimeout: cfg.RateLimit.AcquireTimeout,
	})

	client := apiclient.New(apiclient.Config{
		APIBaseURL:     cfg.Marketplace.APIBaseURL,
		AuthBaseURL:    cfg.Marketplace.AuthBaseURL,
		ClientID:       cfg.Marketplace.ClientID,
		ClientSecret:   cfg.Marketplace.ClientSecret,
		Timeout:        cfg.Marketplace.Timeout,
		MaxRetries:     cfg.Marketplace.MaxRetries,
		RetryBaseDelay: cfg.Marketplace.RetryBaseDelay,
	}, limiter)

	tokenManager := token.NewManager(db, client, cfg.Auth.TokenLeadTime)
	client.BindTokenProvider(tokenManager)

	sessionStore := deviceauth.NewBadgerSessionStore(sessionDB)
	authFlow := deviceauth.NewFlow(sessionStore, db, client, deviceauth.Config{
		MaxAttempts:      cfg.Auth.MaxPollAttempts,
		FallbackInterval: cfg.Auth.FallbackInterval,
		SlowDownStep:     cfg.Auth.SlowDownStep,
	})
	defer authFlow.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resume polling for sessions that were PENDING at last shutdown.
	if err := authFlow.Resume(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to resume device auth sessions")
	}

	engine := ingest.New(client, db, ingest.Config{
		EventPageSize: cfg.Sync.EventPageSize,
		OrderPageSize: cfg.Sync.OrderPageSize,
	})
	syncScheduler := scheduler.New(db, engine, cfg.Sync.Workers)
	poller := scheduler.NewPoller(syncScheduler, db, cfg.Sync.PollInterval)
	sweeper := token.NewSweeper(tokenManager, cfg.Auth.SweepInterval)
	sessionGC := deviceauth.NewStoreGC(sessionDB, 0)

	handler := api.NewHandler(syncScheduler, authFlow, db, cfg.API.DefaultPageSize, cfg.API.MaxPageSize)
	server := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Timeout:         cfg.Server.Timeout,
		RateLimitReqs:   cfg.API.RateLimitReqs,
		RateLimitWindow: cfg.API.RateLimitWindow,
	}, handler)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(sweeper)
	tree.AddDataService(sessionGC)
	tree.AddSyncService(syncScheduler)
	tree.AddSyncService(poller)
	tree.AddAPIService(server)

	logging.Info().Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree terminated with error")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Ordervault stopped")
}
