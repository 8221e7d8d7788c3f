// Package api provides the HTTP REST surface for run tracking: snapshots,
// run commands, event ingest, diagnostics, and the SSE stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/storyline-ai/storyline/internal/backend"
	"github.com/storyline-ai/storyline/internal/diagnostics"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

// Server provides HTTP REST API endpoints for run tracking.
type Server struct {
	router      chi.Router
	registry    *engine.Registry
	backend     *backend.Client
	bus         *events.EventBus
	collector   *diagnostics.SystemMetricsCollector
	logger      *logging.Logger
	corsOrigins []string
	grace       time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBackend sets the upstream client used to dispatch commands. Without
// one the server runs standalone and commands apply locally.
func WithBackend(client *backend.Client) ServerOption {
	return func(s *Server) {
		s.backend = client
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithShutdownGrace sets how long ListenAndServe waits for in-flight
// requests during shutdown.
func WithShutdownGrace(grace time.Duration) ServerOption {
	return func(s *Server) {
		if grace > 0 {
			s.grace = grace
		}
	}
}

// NewServer creates a new API server.
func NewServer(registry *engine.Registry, bus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		registry:    registry,
		bus:         bus,
		collector:   diagnostics.NewSystemMetricsCollector(),
		logger:      logging.NewNop(),
		corsOrigins: []string{"*"},
		grace:       10 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	// CORS for dashboard access
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/default", s.handleGetDefaultRun)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Delete("/", s.handleDisposeRun)
				r.Get("/log", s.handleGetLog)
				r.Get("/metrics", s.handleGetMetrics)
				r.Post("/events", s.handleIngestEvent)
				r.Post("/reset", s.handleReset)
				r.Post("/approval/clear", s.handleClearApproval)

				r.Route("/commands", func(r chi.Router) {
					r.Post("/pause", s.handlePause)
					r.Post("/resume", s.handleResume)
					r.Post("/abort", s.handleAbort)
				})
			})
		})

		r.Route("/commands", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/step", s.handleStep)
		})

		// SSE endpoint for real-time updates
		r.Get("/events", s.handleSSE)

		r.Get("/diagnostics", s.handleDiagnostics)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDiagnostics returns host and process resource usage.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.collector.Collect())
}

// backendConfigured reports whether commands should be dispatched upstream.
func (s *Server) backendConfigured() bool {
	return s.backend != nil && s.backend.Configured()
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
