package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/internal/ratelimiter"
)

// ServerConfig configures the API HTTP server.
type ServerConfig struct {
	// Name labels log lines and errors. Empty selects "api".
	Name string

	// Address is the interface to bind. Empty binds all interfaces.
	Address string

	// Port to listen on. Zero selects 8080; use -1 for an ephemeral port (tests).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Limiter, when set, has its idle buckets pruned while the server runs.
	Limiter *ratelimiter.Limiter
}

// Server serves a handler built by NewFederationHandler or NewAdminHandler.
type Server struct {
	name         string
	server       *http.Server
	limiter      *ratelimiter.Limiter
	shutdownOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a stopped API server. Call Start to serve.
func NewServer(config ServerConfig, handler http.Handler) *Server {
	port := config.Port
	switch {
	case port == 0:
		port = 8080
	case port < 0:
		port = 0
	}

	name := config.Name
	if name == "" {
		name = "api"
	}

	return &Server{
		name: name,
		server: &http.Server{
			Addr:              net.JoinHostPort(config.Address, strconv.Itoa(port)),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		limiter: config.Limiter,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("%s server failed to listen on %s: %w", s.name, s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("%s server listening on %s", s.name, ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.limiter != nil && !s.limiter.Unlimited() {
		go s.pruneLimiter(ctx)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("%s server failed: %w", s.name, err)
	}
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				logger.Debug("Pruned %d idle rate limit buckets", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("%s server shutdown error: %w", s.name, err)
			logger.Error("%s server shutdown error: %v", s.name, err)
			return
		}
		logger.Info("%s server stopped", s.name)
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
