// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the control surface of the edge agent over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/kvsedge/internal/agent"
	"github.com/ManuGH/kvsedge/internal/api/middleware"
	"github.com/ManuGH/kvsedge/internal/health"
	"github.com/ManuGH/kvsedge/internal/journal"
)

// Agent is the part of *agent.Agent the API drives.
type Agent interface {
	Statuses() []agent.Status
	SetLive(name string, enable bool) (bool, error)
	UploadHistorical(ctx context.Context, name string, start, end time.Time) (agent.UploadResult, error)
	CancelUpload(name string) error
	Recordings(name string) ([]agent.Recording, error)
	Uploads(ctx context.Context, name string, limit int) ([]journal.Entry, error)
}

// Config controls the router.
type Config struct {
	// RateLimit is requests per minute per client; zero disables limiting.
	RateLimit int
	// ServeMetrics mounts /metrics on this router.
	ServeMetrics bool
	// TracingService names request spans; empty disables tracing.
	TracingService string
}

// Server routes HTTP requests to the agent.
type Server struct {
	agent  Agent
	health *health.Manager
	router chi.Router
}

// New builds the router for a, answering probes from h.
func New(a Agent, h *health.Manager, cfg Config) *Server {
	s := &Server{agent: a, health: h}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.TracingService != "" {
		r.Use(middleware.Tracing(cfg.TracingService))
	}
	r.Use(middleware.Metrics())

	// Probes and scraping stay outside logging and rate limiting.
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	if cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AccessLog)
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{
				RequestLimit: cfg.RateLimit,
				WindowSize:   time.Minute,
			}))
		}
		r.Get("/cameras", s.handleListCameras)
		r.Route("/cameras/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetCamera)
			r.Post("/live", s.handleSetLive)
			r.Post("/upload", s.handleUpload)
			r.Delete("/upload", s.handleCancelUpload)
			r.Get("/recordings", s.handleRecordings)
			r.Get("/uploads", s.handleUploads)
		})
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
