package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hybridretrieval/retrieval-core/internal/bus"
	"github.com/hybridretrieval/retrieval-core/internal/orchestrator"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/middleware"
	"github.com/hybridretrieval/retrieval-core/internal/telemetry"
)

// Config configures the HTTP server.
type Config struct {
	Host            string
	Port            int
	Version         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     string
	RateLimit       float64 // requests/sec per client, 0 disables rate limiting
	RateBurst       int
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     "*",
	}
}

// Server is the retrieval core's HTTP server: it wires the orchestrator, the
// relevance cache, the event bus, and telemetry into a routed, middleware-
// wrapped http.Server.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server

	mu      sync.RWMutex
	started bool
}

// New constructs a Server. deps names the dependencies the readiness check
// pings.
func New(cfg Config, o *orchestrator.Orchestrator, cache NamespaceInvalidator, eventBus bus.Bus, metrics *telemetry.Metrics, deps map[string]Pinger, log *logger.Logger) *Server {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}

	retrieveHandler := NewHandler(o, cache, eventBus, metrics, log)
	healthHandler := NewHealthHandler(deps, cfg.Version)
	metricsHandler := NewMetricsHandler(metrics)

	mux := http.NewServeMux()
	retrieveHandler.RegisterRoutes(mux)
	healthHandler.RegisterRoutes(mux)
	metricsHandler.RegisterRoutes(mux)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logging(log),
		middleware.CORS(cfg.CORSOrigins),
	}
	if cfg.RateLimit > 0 {
		rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
			CleanupInterval:   time.Minute,
		})
		mws = append(mws, rl.Middleware)
	}

	handler := middleware.Chain(mux, mws...)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Start starts the HTTP server. It blocks until the server stops or fails.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info("starting http server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the server, waiting up to ShutdownTimeout for
// in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http shutdown error", "error", err)
		return err
	}

	s.started = false
	s.log.Info("http server stopped")
	return nil
}

// Ready reports whether the server has been started.
func (s *Server) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
