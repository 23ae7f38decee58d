package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/config"
	"github.com/veilletech/sitewatch/internal/cycle"
	"github.com/veilletech/sitewatch/internal/digest"
	"github.com/veilletech/sitewatch/internal/metrics"
	"github.com/veilletech/sitewatch/internal/watch"
)

// Server wires HTTP handlers to the cycle runner and stores.
type Server struct {
	router chi.Router
	runner *cycle.Runner
	store  watch.Store
	digest *digest.Service
	idGen  watch.IDGenerator
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner *cycle.Runner,
	store watch.Store,
	digestSvc *digest.Service,
	idGen watch.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		store:  store,
		digest: digestSvc,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(idGen))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, 60*time.Second, "request timed out")
	})
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/watch/run", s.triggerCycle)
		r.Get("/reports", s.listReports)
		r.Get("/digest", s.getDigest)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz probes the store: a service that cannot load memory cannot run a
// useful cycle.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := s.store.Load(ctx); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		writeJSON(s.logger, w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}
