package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server provides HTTP endpoints for observability
type Server struct {
	httpServer *http.Server
	health     *HealthChecker
	port       int
}

// NewServer creates a new observability server reporting health from checker
func NewServer(port int, checker *HealthChecker) *Server {
	s := &Server{port: port, health: checker}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the mux serving health and metrics endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health/live", LivenessHandler())
	if s.health != nil {
		mux.HandleFunc("/health", s.health.HealthHandler())
		mux.HandleFunc("/health/ready", s.health.ReadinessHandler())
	}

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Start starts the observability server. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
