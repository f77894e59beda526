package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"leadlove-hq/meter/pkg/config"
	"leadlove-hq/meter/pkg/limits"
	"leadlove-hq/meter/pkg/server/handlers"
	"leadlove-hq/meter/pkg/server/middleware"
	"leadlove-hq/meter/pkg/telemetry/health"
	"leadlove-hq/meter/pkg/telemetry/tracing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the collaborators of a Server.
type Options struct {
	// Gateway serves the authorize, settle and credit routes. Required.
	Gateway *limits.Gateway

	// Health serves the liveness and readiness probes. Nil registers a
	// checker without checks.
	Health *health.Checker

	// Gatherer is exposed on MetricsPath. Nil disables the metrics route.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	LivenessPath  string
	ReadinessPath string

	// UnavailableRetry is the retry hint returned when storage is down.
	UnavailableRetry time.Duration

	// Tracing wraps the router with the server span middleware.
	Tracing bool

	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP server of the meter service.
type Server struct {
	config     *config.ServerConfig
	opts       Options
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server and registers its routes.
func NewServer(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if opts.Gateway == nil {
		return nil, errors.New("gateway cannot be nil")
	}
	if opts.Health == nil {
		opts.Health = health.New(0)
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultPrometheusPath
	}
	if opts.LivenessPath == "" {
		opts.LivenessPath = config.DefaultLivenessPath
	}
	if opts.ReadinessPath == "" {
		opts.ReadinessPath = config.DefaultReadinessPath
	}

	s := &Server{config: cfg, opts: opts}
	s.router = s.setupRoutes()
	return s, nil
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	if s.opts.Tracing {
		r.Use(tracing.HTTPMiddleware)
	}
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	// Probes and metrics stay outside the in-flight cap.
	r.Get(s.opts.LivenessPath, s.opts.Health.LivenessHandler())
	r.Get(s.opts.ReadinessPath, s.opts.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Gatherer != nil {
		r.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	h := handlers.New(s.opts.Gateway, s.opts.UnavailableRetry)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.InFlight(s.config.MaxInFlight, s.config.PrincipalHeader))

		r.Post("/authorize", h.Authorize)
		r.Post("/settle", h.Settle)

		r.Post("/credits/events", h.CreditEvent)
		r.Get("/credits/{principal}", h.Balance)
		r.Get("/credits/{principal}/transactions", h.Transactions)
		r.Get("/credits/{principal}/reconcile", h.Reconcile)

		r.Get("/limits/{principal}", h.LimitStatus)

		// Quotes are rate limited per caller but never debited.
		r.With(middleware.Quota(s.opts.Gateway, middleware.QuotaConfig{
			PrincipalHeader: s.config.PrincipalHeader,
		})).Get("/quote/{operation}", h.Quote)
	})

	return r
}

// Start listens on the configured address and serves until ctx is
// cancelled or the server fails. Cancellation triggers a graceful
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting meter server", "address", ln.Addr().String())

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server. It is safe to call more than
// once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		slog.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("meter server stopped")
	})

	return shutdownErr
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
