// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the airwave daemon: log ingestion,
// library operations, threshold tuning, the verification queue, playback
// resolution, and task tracking.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/config"
	"github.com/airwavehq/airwave/internal/discovery"
	"github.com/airwavehq/airwave/internal/identity"
	"github.com/airwavehq/airwave/internal/ingest"
	"github.com/airwavehq/airwave/internal/jobs"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/resolver"
	"github.com/airwavehq/airwave/internal/scanner"
	"github.com/airwavehq/airwave/internal/vector"
)

// Deps wires the server to the domain services.
type Deps struct {
	Config   *config.Manager
	Store    *library.Store
	Index    *vector.Index
	Matcher  *match.Matcher
	Ingest   *ingest.Service
	Identity *identity.Service
	Engine   *discovery.Engine
	Resolver *resolver.Service
	Scanner  *scanner.Scanner
	Jobs     *jobs.Controller
	Audit    *audit.Recorder
}

// Server carries the handler state.
type Server struct {
	deps   Deps
	logger zerolog.Logger
}

// NewServer builds the server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, logger: log.WithComponent("api")}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/thresholds", s.handleGetThresholds)
		r.Get("/match/samples", s.handleSamples)
		r.Get("/queue", s.handleListQueue)
		r.Get("/artist-queue", s.handleArtistQueue)
		r.Get("/resolve", s.handleResolve)
		r.Get("/splits", s.handleListSplits)
		r.Get("/audit", s.handleListAudit)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleTaskStatus)
		r.Get("/tasks/{id}/events", s.handleTaskEvents)

		// Mutations share a per-client budget.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(120, time.Minute))

			r.Post("/logs", s.handleSubmitLogs)
			r.Post("/scan", s.handleScan)
			r.Post("/rebuild-index", s.handleRebuildIndex)
			r.Post("/artists/merge", s.handleMergeArtists)
			r.Post("/works/merge", s.handleMergeWorks)
			r.Put("/thresholds", s.handleSetThresholds)
			r.Post("/match/impact", s.handleImpact)
			r.Post("/queue/link", s.handleLink)
			r.Post("/queue/promote", s.handlePromote)
			r.Post("/queue/skip", s.handleSkip)
			r.Post("/queue/bulk-link", s.handleBulkLink)
			r.Post("/queue/revoke", s.handleRevoke)
			r.Post("/splits/{id}/resolve", s.handleResolveSplit)
			r.Post("/alias", s.handleAlias)
			r.Post("/undo/{id}", s.handleUndo)
			r.Post("/tasks/{id}/cancel", s.handleTaskCancel)
		})
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "knowledge base unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
