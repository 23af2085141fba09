// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the control and debug HTTP API of clipfeedd.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/clipfeed/internal/api/middleware"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/subscription"
	"github.com/ManuGH/clipfeed/internal/health"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Surface is what the API needs from one feed surface.
type Surface interface {
	ID() string
	Descriptor() model.Descriptor
	Open() bool
	Current() model.FeedSnapshot
	LoadMore(ctx context.Context) (subscription.LoadResult, error)
	Refresh(ctx context.Context) error
	MarkActive(active bool)
	Focus(ctx context.Context, itemID string) error
	Retry(ctx context.Context, itemID string) error
	MarkSeen(ctx context.Context, itemID string)
}

// Registry resolves surfaces and owns the process-wide readiness signals.
type Registry interface {
	Surfaces() []Surface
	Surface(id string) (Surface, bool)
	SetForeground(foreground bool)
	Ready() bool
}

// Config configures the HTTP server.
type Config struct {
	Listen          string
	ShutdownTimeout time.Duration
	RateLimit       int
	RateWindow      time.Duration
	// TracingService enables otelhttp spans when non-empty.
	TracingService string
	Version        string
	// Health backs /healthz and /readyz. Nil builds one from the registry.
	Health *health.Manager
}

// Server serves the control API.
type Server struct {
	cfg    Config
	reg    Registry
	router chi.Router
	logger zerolog.Logger
}

// New builds the server and its routes.
func New(cfg Config, reg Registry) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Health == nil {
		cfg.Health = DefaultHealth(cfg.Version, reg)
	}
	s := &Server{cfg: cfg, reg: reg, logger: log.WithComponent("api")}
	s.router = s.routes()
	return s
}

// DefaultHealth registers readiness and surface checks for reg.
func DefaultHealth(version string, reg Registry) *health.Manager {
	m := health.NewManager(version)
	m.RegisterChecker(health.FlagChecker("service_ready", reg.Ready, "starting"))
	m.RegisterChecker(health.SurfacesChecker(func() (open, total int) {
		surfaces := reg.Surfaces()
		for _, sf := range surfaces {
			if sf.Open() {
				open++
			}
		}
		return open, len(surfaces)
	}))
	return m
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})
	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{
				RequestLimit: s.cfg.RateLimit,
				WindowSize:   s.cfg.RateWindow,
			}))
		}
		r.Put("/foreground", s.handleForeground)
		r.Get("/surfaces", s.handleListSurfaces)
		r.Route("/surfaces/{surfaceID}", func(r chi.Router) {
			r.Get("/snapshot", s.handleSnapshot)
			r.Post("/load-more", s.handleLoadMore)
			r.Post("/refresh", s.handleRefresh)
			r.Put("/active", s.handleActive)
			r.Post("/focus", s.handleFocus)
			r.Post("/items/{itemID}/retry", s.handleRetry)
			r.Post("/items/{itemID}/seen", s.handleSeen)
		})
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info().
		Str(log.FieldEvent, "api.listening").
		Str("addr", ln.Addr().String()).
		Msg("control API listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
