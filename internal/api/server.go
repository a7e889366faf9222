package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/rollout/internal/api/handler"
	mw "github.com/edvin/rollout/internal/api/middleware"
	"github.com/edvin/rollout/internal/config"
	"github.com/edvin/rollout/internal/core"
	"github.com/edvin/rollout/internal/model"
)

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	pool           *pgxpool.Pool
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, temporalClient temporalclient.Client,
	cfg *config.Config, targets []model.DeploymentTarget) *Server {

	services := core.NewServices(pool, temporalClient, targets)

	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		pool:           pool,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Push webhook, authenticated by HMAC signature rather than API key.
	webhook := handler.NewWebhook(s.services.Run, s.services.Target, s.cfg.WebhookSecret)
	s.router.Post("/webhooks/push", webhook.Push)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.services.APIKey))

		// Runs
		run := handler.NewRun(s.services.Run)
		r.Get("/runs", run.List)
		r.Post("/runs", run.Create)
		r.Delete("/runs", run.Purge)
		r.Get("/runs/{id}", run.Get)
		r.Get("/runs/{id}/stages", run.StageResults)
		r.Post("/runs/{id}/cancel", run.Cancel)

		// Targets
		target := handler.NewTarget(s.services.Target)
		r.Get("/targets", target.List)
		r.Get("/targets/{name}", target.Get)

		// API keys
		apiKey := handler.NewAPIKey(s.services.APIKey)
		r.Post("/api-keys", apiKey.Create)
		r.Delete("/api-keys/{id}", apiKey.Revoke)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"db": "ok", "temporal": "ok"}
	healthy := true

	var g errgroup.Group
	var mu sync.Mutex
	fail := func(name string, err error) {
		mu.Lock()
		checks[name] = err.Error()
		healthy = false
		mu.Unlock()
	}

	g.Go(func() error {
		if err := s.pool.Ping(ctx); err != nil {
			fail("db", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
			fail("temporal", err)
		}
		return nil
	})
	_ = g.Wait()

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
