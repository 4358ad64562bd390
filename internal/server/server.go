// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	analysisDomain "github.com/pendergraft/whichdex/internal/analysis/domain"
	analysisTransport "github.com/pendergraft/whichdex/internal/analysis/transport"
	"github.com/pendergraft/whichdex/internal/auth"
	"github.com/pendergraft/whichdex/internal/chains"
	"github.com/pendergraft/whichdex/internal/chains/evm"
	"github.com/pendergraft/whichdex/internal/config"
	"github.com/pendergraft/whichdex/internal/middleware/logging"
	"github.com/pendergraft/whichdex/internal/middleware/ratelimit"
	"github.com/pendergraft/whichdex/internal/middleware/realip"
	"github.com/pendergraft/whichdex/internal/observability/metrics"
	referencesDomain "github.com/pendergraft/whichdex/internal/references/domain"
	referencesTransport "github.com/pendergraft/whichdex/internal/references/transport"
	"github.com/pendergraft/whichdex/internal/storage"
)

// CodeFetcher retrieves deployed bytecode for the domain services.
type CodeFetcher interface {
	GetDeployedBytecode(ctx context.Context, rpc string, address string) ([]byte, error)
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	fetcher CodeFetcher

	// Services typed via transport interfaces
	analysisSvc   analysisTransport.Service
	referencesSvc referencesTransport.Service
}

// Option configures a Server.
type Option func(*Server)

// WithFetcher replaces the RPC-backed bytecode fetcher.
func WithFetcher(f CodeFetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher == nil {
		registry := chains.NewRegistry()
		registry.Register(evm.NewChain())
		evmChain, _ := registry.Get("evm")
		s.fetcher = chains.NewFetcher(evmChain, cfg.RPC.Timeout())
	}

	// Create domain services
	analysisImpl := analysisDomain.NewService(s.fetcher, cfg.RPC.DefaultURL, logger)
	referencesImpl := referencesDomain.NewService(store, s.fetcher, cfg.RPC.DefaultURL, logger)

	// Wrap services with logging middleware
	s.analysisSvc = analysisDomain.LoggingMiddleware(logger)(analysisImpl)
	s.referencesSvc = referencesDomain.LoggingMiddleware(logger)(referencesImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// probePaths bypass rate limiting
var probePaths = []string{"/health", "/healthz", "/readyz", "/metrics"}

func (s *Server) setupMiddleware() {
	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Body size limit
	s.router.Use(middleware.RequestSize(int64(s.cfg.Security.MaxBodySizeMB) * 1024 * 1024))

	// 3. Rate limiting; endpoints that may reach an RPC node cost more
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
		Exempt:         probePaths,
		Cost:           s.requestCost,
	}))

	// 4. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}
	s.router.Use(middleware.Compress(5))

	// 5. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

// requestCost charges RPCCost tokens for POSTs that can fetch bytecode.
func (s *Server) requestCost(r *http.Request) int {
	if r.Method != http.MethodPost {
		return 1
	}
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api/v1/analyze", "/api/v1/compare", "/api/v1/references":
		return s.cfg.RateLimit.RPCCost
	}
	return 1
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	analysisHandler := analysisTransport.NewHandler(s.analysisSvc)
	referencesHandler := referencesTransport.NewHandler(s.referencesSvc)

	// Auth middleware for write operations
	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Analysis - stateless, no auth
		analysisHandler.RegisterRoutes(r)

		// References - split read/write
		r.Route("/references", func(r chi.Router) {
			referencesHandler.RegisterReadRoutes(r)

			r.Group(func(r chi.Router) {
				requireAuth(r)
				referencesHandler.RegisterWriteRoutes(r)
			})
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
