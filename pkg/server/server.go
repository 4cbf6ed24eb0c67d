package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
)

// DefaultShutdownTimeout bounds Stop calls when no timeout is configured.
const DefaultShutdownTimeout = 30 * time.Second

// Component is a long-running part of the shard server: the API listener,
// the metrics endpoint, the health checker or the trust purge collector.
type Component interface {
	// Name identifies the component in logs and errors.
	Name() string

	// Serve runs the component until ctx is cancelled or it fails.
	Serve(ctx context.Context) error

	// Stop asks a running component to shut down within ctx.
	Stop(ctx context.Context) error
}

// Server manages the lifecycle of the components that make up a shard server.
//
// Lifecycle:
//  1. Creation: New() with the shutdown timeout
//  2. Registration: Add() for each component
//  3. Startup: Serve() starts all components concurrently
//  4. Shutdown: context cancellation or a component failure stops every
//     component in reverse registration order
//
// Example usage:
//
//	srv := server.New(cfg.Server.ShutdownTimeout)
//	srv.Add(server.Worker("health", checker.Start, checker.Stop))
//	srv.Add(server.Listener("api", apiServer.Start, apiServer.Stop))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	shutdownTimeout time.Duration

	// mu protects components and served
	mu         sync.Mutex
	components []Component
	served     bool
}

// New creates a server with no components.
//
// Parameters:
//   - shutdownTimeout: Time granted to all Stop calls together. Zero selects
//     DefaultShutdownTimeout.
func New(shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		shutdownTimeout: shutdownTimeout,
		components:      make([]Component, 0, 4),
	}
}

// Add registers a component. Names must be unique.
//
// Panics if c is nil or Serve() has already been called.
func (s *Server) Add(c Component) error {
	if c == nil {
		panic("component cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add component after Serve() has been called")
	}

	name := c.Name()
	for _, existing := range s.components {
		if existing.Name() == name {
			return fmt.Errorf("component %s already registered", name)
		}
	}

	s.components = append(s.components, c)
	logger.Debug("Registered %s component", name)
	return nil
}

// Components returns the names of the registered components in order.
func (s *Server) Components() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.components))
	for i, c := range s.components {
		names[i] = c.Name()
	}
	return names
}

// Serve starts all registered components and blocks until the context is
// cancelled or a component fails.
//
// Shutdown behavior:
//   - Every component receives Stop() in reverse registration order
//   - All Stop() calls share one shutdown_timeout budget
//   - Serve() waits for every component goroutine to return
//
// Returns:
//   - context.Canceled (or the context's error) after a signal-driven shutdown
//   - the first component error when a component failed
//   - an error when no component is registered or Serve() was already called
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.components) == 0 {
		s.mu.Unlock()
		return errors.New("no components registered; call Add() before Serve()")
	}
	components := make([]Component, len(s.components))
	copy(components, s.components)
	s.mu.Unlock()

	logger.Info("Starting shard server with %d component(s)", len(components))

	// Components stop through runCtx so a failure in one tears the rest down
	// even when the caller's context is still live.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan componentError, len(components))
	var wg sync.WaitGroup

	for _, comp := range components {
		wg.Add(1)
		go func(c Component) {
			defer wg.Done()

			name := c.Name()
			logger.Debug("Starting %s component", name)

			if err := c.Serve(runCtx); err != nil {
				if !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
					logger.Error("%s component failed: %v", name, err)
					errChan <- componentError{name: name, err: err}
				} else {
					logger.Debug("%s component stopped gracefully", name)
				}
				return
			}
			logger.Debug("%s component stopped", name)
		}(comp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case compErr := <-errChan:
		logger.Error("Component %s failed: %v - initiating shutdown", compErr.name, compErr.err)
		shutdownErr = fmt.Errorf("%s component error: %w", compErr.name, compErr.err)
	}

	cancel()
	s.stopAll(components)

	logger.Debug("Waiting for all components to complete shutdown")
	wg.Wait()

	logger.Info("Shard server stopped")
	return shutdownErr
}

// componentError pairs a component name with its error for reporting.
type componentError struct {
	name string
	err  error
}

// stopAll stops components in reverse registration order so that listeners
// registered last stop accepting work before the workers they rely on.
func (s *Server) stopAll(components []Component) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d component(s)", len(components))

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s component: %v", c.Name(), err)
		} else {
			logger.Debug("%s component stop signal sent", c.Name())
		}
	}
}
