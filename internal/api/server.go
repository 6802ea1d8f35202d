package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"hermes/internal/api/health"
	"hermes/internal/metrics"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, handlers *Handlers, healthHandler *health.Handler, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes probes + load balancer steering)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)
	mux.HandleFunc("/health/loadbalancer", healthHandler.HandleCapacity)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Real-time chat transports
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.HandleFunc("GET /ws/{session_id}", handlers.HandleWebSocket)
	mux.HandleFunc("POST /chat/stream", handlers.HandleChatStream)

	// Session management
	mux.HandleFunc("GET /sessions/{user_id}", handlers.HandleListSessions)
	mux.HandleFunc("GET /sessions/{user_id}/{session_id}/history", handlers.HandleSessionHistory)
	mux.HandleFunc("DELETE /sessions/{user_id}/{session_id}", handlers.HandleDeleteSession)
	mux.HandleFunc("POST /sessions/{user_id}/{session_id}/resume", handlers.HandleIssueToken)
	mux.HandleFunc("POST /sessions/resume", handlers.HandleRedeemToken)

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
		// No WriteTimeout: WebSocket and SSE responses stay open for the
		// connection lifetime.
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}
