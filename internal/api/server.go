// Package api is the HTTP surface of the provisioning service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/storefleet/internal/admission"
	"github.com/seantiz/storefleet/internal/orchestrator"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router *chi.Mux
	orch   *orchestrator.Orchestrator
	gate   *admission.Gate
	logger *slog.Logger
	addr   string
}

// NewServer creates and configures a new HTTP server. gate guards store
// creation only.
func NewServer(addr string, orch *orchestrator.Orchestrator, gate *admission.Gate, logger *slog.Logger) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		orch:   orch,
		gate:   gate,
		logger: logger,
		addr:   addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.With(operation(opHealthz)).Get("/healthz", s.handleHealthz)
	s.router.With(operation(opMetrics)).Handle("/metrics", metricsHandler())

	s.router.With(operation(opEngines)).Get("/engines", s.handleListEngines)
	s.router.With(operation(opStats)).Get("/stats", s.handleGetStats)

	s.router.With(operation(opCreateStore), s.gate.Middleware).Post("/create-store", s.handleCreateStore)
	s.router.With(operation(opListStores)).Get("/stores", s.handleListStores)
	s.router.Route("/store/{name}", func(r chi.Router) {
		r.With(operation(opGetStore)).Get("/", s.handleGetStore)
		r.With(operation(opDeleteStore)).Delete("/", s.handleDeleteStore)
		r.With(operation(opStreamEvents)).Get("/events", s.handleStreamEvents)
		r.With(operation(opEventHistory)).Get("/events/history", s.handleGetEventHistory)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
// In-flight workflows are not waited for here.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", context.Cause(ctx).Error())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
