// Package opsserver is the unauthenticated ops HTTP surface this domain
// exposes alongside the message bus: liveness, readiness, and Prometheus
// metrics. It carries no domain routes — every real read/write travels the
// bus (§5).
package opsserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dugrema/millegrilles-datacollector/internal/platform"
)

// Server holds the ops HTTP server's dependencies.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
	Mongo  *platform.Mongo
}

// NewServer builds the ops router: CORS-open health/ready/metrics endpoints,
// no authentication, no domain routes.
func NewServer(logger *slog.Logger, db *platform.Mongo, registry *prometheus.Registry) *Server {
	s := &Server{Router: chi.NewRouter(), Logger: logger, Mongo: db}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the database; the message bus has no cheap ping so
// its connection is assumed live once established at startup.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.Mongo.Client.Ping(ctx, nil); err != nil {
		if s.Logger != nil {
			s.Logger.Error("readiness check: mongo ping failed", "error", err)
		}
		respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "message": "database not ready"})
		return
	}

	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
