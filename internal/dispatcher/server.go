// Package dispatcher exposes the HTTP API that launches and manages
// cloud-batch orchestrator executions.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/common"
)

// Server manages the dispatch HTTP server and routes.
type Server struct {
	server *http.Server
	logger arbor.ILogger
}

// NewServer builds the router and HTTP server around the handlers.
func NewServer(cfg *common.Config, handlers *Handlers, logger arbor.ILogger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", handlers.Health)
	r.Route("/v1/form-sender", func(r chi.Router) {
		r.Post("/validate-config", handlers.ValidateConfig)
		r.Post("/tasks", handlers.DispatchTask)
		r.Post("/signed-url/refresh", handlers.RefreshSignedURL)
		r.Get("/executions", handlers.ListExecutions)
		r.Post("/executions/{executionID}/cancel", handlers.CancelExecution)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("Dispatch server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down dispatch server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func requestLogger(logger arbor.ILogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("duration", time.Since(start).String()).
				Msg("Request handled")
		})
	}
}
