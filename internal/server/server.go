package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/querystream/querystream/internal/config"
	"github.com/querystream/querystream/internal/handlers"
	"github.com/querystream/querystream/internal/middleware"
	"github.com/querystream/querystream/internal/subscription"
)

// Server represents the HTTP server carrying the WebSocket endpoint.
type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
}

// New creates a new HTTP server with all routes and middleware.
func New(
	logger logrus.FieldLogger,
	cfg *config.Config,
	registry *subscription.Registry,
) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("subscriber registry cannot be nil")
	}

	mux := http.NewServeMux()

	// Health endpoint (no middleware needed for simple health check)
	mux.HandleFunc("GET /health", handlers.Health())
	logger.WithField("route", "GET /health").Info("Registered route")

	// Metrics endpoint (Prometheus format)
	mux.Handle("GET /metrics", promhttp.Handler())
	logger.WithField("route", "GET /metrics").Info("Registered route")

	// WebSocket endpoint; the trailing pattern also serves the
	// /ws/{collection}/{id} path-parameter form.
	wsHandler := websocketHandler(logger.WithField("component", "websocket"), registry)
	mux.Handle("GET /ws", wsHandler)
	mux.Handle("GET /ws/", wsHandler)
	logger.WithField("route", "GET /ws").Info("Registered route")

	// Apply middleware chain: Logging → Metrics → Recovery
	handler := middleware.Logging(logger)(mux)
	handler = middleware.Metrics()(handler)
	handler = middleware.Recovery(logger)(handler)

	// Create HTTP server. WriteTimeout stays unset: it would sever
	// long-lived WebSocket connections; the session's own write deadline
	// bounds individual sends.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Start starts the HTTP server (blocking call).
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	return s.httpServer.Shutdown(ctx)
}
