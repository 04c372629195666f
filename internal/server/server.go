// Package server exposes the turn service over HTTP, WebSocket and SSE.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cadre-oss/memchat/internal/agent"
	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/event"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// Server is the memchat HTTP server.
type Server struct {
	cfg     *config.Config
	chat    *agent.Service
	bus     *event.Bus
	broker  *Broker
	metrics *telemetry.Metrics
	logger  *telemetry.Logger
	origins map[string]bool
}

// New creates a new server instance.
func New(cfg *config.Config, chat *agent.Service, eventBus *event.Bus, metrics *telemetry.Metrics, logger *telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	broker := NewBroker(logger)
	// Register the broker as an event hook so turn events reach SSE clients.
	eventBus.Register(broker)

	origins := make(map[string]bool)
	for _, o := range cfg.Server.AllowedOrigins {
		origins[o] = true
	}

	return &Server{
		cfg:     cfg,
		chat:    chat,
		bus:     eventBus,
		broker:  broker,
		metrics: metrics,
		logger:  logger,
		origins: origins,
	}
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting memchat server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		s.bus.Unregister(s.broker.Name())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.setupRoutes())
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Chat
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Threads
	mux.HandleFunc("GET /threads", s.handleListThreads)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)

	// SSE events
	mux.HandleFunc("GET /events", s.handleSSEEvents)
	mux.HandleFunc("GET /events/{threadID}", s.handleSSEEventsFiltered)

	return mux
}

// allowOrigin reports whether a browser origin may call the API. An empty
// allow list accepts every origin.
func (s *Server) allowOrigin(origin string) bool {
	return origin == "" || len(s.origins) == 0 || s.origins[origin]
}

// corsMiddleware adds CORS headers for allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
