package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the global registry at GET /metrics.
//
// When metrics are disabled the endpoint answers 503 so scrapers surface a
// clear misconfiguration instead of an empty target.
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Zero selects 9090; use -1 for an ephemeral port (tests).
	Port int
}

// NewServer creates a stopped metrics server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	port := config.Port
	switch {
	case port == 0:
		port = 9090
	case port < 0:
		port = 0
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{server: server, port: port}
}

// Handler returns the /metrics handler without starting a server.
func Handler() http.Handler {
	mux := http.NewServeMux()

	if registry := GetRegistry(); registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintln(w, "Metrics collection is disabled")
		})
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Addr returns the bound address once Start has been called, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
