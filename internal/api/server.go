// Ordervault - E-Commerce Order Backup and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ordervault

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/ordervault/internal/logging"
	"github.com/tomtom215/ordervault/internal/metrics"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string
	Port            int
	Timeout         time.Duration
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Server runs the HTTP API as a suture service.
type Server struct {
	cfg     ServerConfig
	handler *Handler
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, handler *Handler) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Server{cfg: cfg, handler: handler}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)

	r.Get("/health", s.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.RateLimitReqs,
			s.cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/start", s.handler.AuthStart)
			r.Get("/sessions/{sessionID}", s.handler.AuthStatus)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/trigger", s.handler.SyncTrigger)
			r.Get("/stats", s.handler.SyncStats)
			r.Get("/jobs", s.handler.SyncJobList)
			r.Get("/jobs/{jobID}", s.handler.SyncJobGet)
			r.Post("/jobs/{jobID}/cancel", s.handler.SyncJobCancel)
		})

		r.Route("/schedules/{tenantID}", func(r chi.Router) {
			r.Get("/", s.handler.ScheduleGet)
			r.Put("/", s.handler.ScheduleUpsert)
			r.Delete("/", s.handler.ScheduleDisable)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handler.OrderList)
			r.Get("/{orderID}", s.handler.OrderGet)
			r.Delete("/{orderID}", s.handler.OrderDelete)
			r.Get("/{orderID}/events", s.handler.OrderEvents)
		})
	})

	return r
}

// Serve runs the HTTP server until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       2 * s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		logging.Info().Msg("HTTP server stopped")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "http-server"
}

// requestLogging logs each request and records API metrics.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		metrics.RecordAPIRequest(r.Method, r.URL.Path, ww.Status(), duration)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", duration).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}
