// Package server exposes the gateway's public HTTP surface: OpenAI- and
// Anthropic-compatible chat routes, model listing, health, and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zaigate/internal/config"
	"zaigate/internal/fingerprint"
	"zaigate/internal/models"
	"zaigate/internal/pool"
	"zaigate/internal/stats"
	"zaigate/internal/tools"
	"zaigate/internal/upstream"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// Server is the gateway HTTP server.
type Server struct {
	Config   *config.ServerConfig
	Registry *models.Registry

	httpServer *http.Server
	client     *upstream.Client
	tools      *tools.Registry
	recorder   stats.Recorder
	metrics    http.Handler
}

// New wires the gateway together and registers all routes.
func New(cfg *config.ServerConfig) (*Server, error) {
	registry := models.NewRegistry()
	if cfg.ModelsFile != "" {
		var err error
		registry, err = models.NewRegistryFromFile(cfg.ModelsFile)
		if err != nil {
			return nil, fmt.Errorf("loading model registry: %w", err)
		}
	}

	guest := pool.NewGuestClient(cfg.GuestAuthURL(), cfg.AuthTimeout)
	credPool := pool.New(cfg.Tokens, guest)
	fp := fingerprint.New(cfg.BaseURL, cfg.AuthTimeout)
	prom := stats.NewPrometheus()

	client := upstream.NewClient(cfg, credPool, fp)
	client.OnRotate = prom.CredentialRotated

	s := &Server{
		Config:   cfg,
		Registry: registry,
		client:   client,
		tools:    tools.NewRegistry(),
		recorder: prom,
		metrics:  prom.Handler(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(statsMiddleware(s.recorder))
	r.Use(logMiddleware(cfg))

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg))
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Get("/v1/models", s.handleListModels)
		r.Post("/v1/messages", s.handleAnthropicMessages)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route tree, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
