// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package api exposes the read-only HTTP surface: health, Prometheus
// metrics, and collaborator queries against the reconciled projections.
// Nothing here writes; ingestion is the only writer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// Store is the read surface the handlers query. Satisfied by
// *database.DB.
type Store interface {
	Ping(ctx context.Context) error
	GetTrackedCharacter(ctx context.Context, characterID int64) (*models.TrackedCharacter, error)
	InvolvementsForCharacter(ctx context.Context, characterID int64, start, end time.Time) ([]models.Involvement, error)
	LossesForCharacter(ctx context.Context, characterID int64, start, end time.Time) ([]models.Loss, error)
	GetKillmail(ctx context.Context, killmailID int64) (*models.Killmail, error)
	LoadCheckpoint(ctx context.Context, stream string) (models.Checkpoint, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	store Store
	cfg   *config.ServerConfig
}

// NewServer creates the API server.
func NewServer(cfg *config.ServerConfig, store Store) *Server {
	return &Server{store: store, cfg: cfg}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(prometheusMetrics)
	if s.cfg.Timeout > 0 {
		r.Use(chimiddleware.Timeout(s.cfg.Timeout))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tracked/{characterID}", s.handleTrackedCharacter)
		r.Get("/characters/{characterID}/involvements", s.handleInvolvements)
		r.Get("/characters/{characterID}/losses", s.handleLosses)
		r.Get("/killmails/{killmailID}", s.handleKillmail)
		r.Get("/checkpoints/{stream}", s.handleCheckpoint)
	})

	return r
}

// HTTPServer builds the net/http server for the supervisor wrapper.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
