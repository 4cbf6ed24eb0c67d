// Package health probes shard backends and maintains their availability flag.
//
// The router never performs I/O itself; it relies on Handle.Available, which
// this checker keeps up to date by calling each backend's Healthcheck.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/marmos91/dittoshard/pkg/registry"
	"github.com/marmos91/dittoshard/pkg/shard"
)

// Config contains configuration for the health checker.
type Config struct {
	// Enabled controls whether periodic probing is active
	Enabled bool

	// Interval is how often every backend is probed (default: 10s)
	Interval time.Duration

	// Timeout bounds a single probe (default: 2s)
	Timeout time.Duration
}

// Checker periodically probes every backend referenced by the topology.
type Checker struct {
	registry *registry.Registry
	metrics  metrics.RouterMetrics
	config   Config

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Result is the outcome of probing one backend.
type Result struct {
	Name      string
	Available bool
	Err       error
	Latency   time.Duration
}

// NewChecker creates a checker. A nil m disables metrics.
func NewChecker(reg *registry.Registry, m metrics.RouterMetrics, config Config) *Checker {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if m == nil {
		m = metrics.NewNoopRouterMetrics()
	}
	return &Checker{
		registry: reg,
		metrics:  m,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start probes once synchronously and then keeps probing in the background.
// It is a no-op when disabled or already started.
func (c *Checker) Start(ctx context.Context) {
	if !c.config.Enabled {
		logger.Info("Shard health checks disabled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	logger.Info("Starting shard health checker: interval=%s timeout=%s", c.config.Interval, c.config.Timeout)
	c.RunNow(ctx)

	go c.worker()
}

// Stop stops the background worker. Safe to call multiple times.
func (c *Checker) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Shard health checker shutdown timeout")
		return ctx.Err()
	}
}

func (c *Checker) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunNow(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

// RunNow probes every backend of the current and previous generations
// concurrently, updates their availability, and returns one result per
// backend in topology order.
func (c *Checker) RunNow(ctx context.Context) []Result {
	handles := c.registry.Snapshot().Handles()
	results := make([]Result, len(handles))

	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *shard.Handle) {
			defer wg.Done()
			results[i] = c.probe(ctx, h)
		}(i, h)
	}
	wg.Wait()

	return results
}

func (c *Checker) probe(ctx context.Context, h *shard.Handle) Result {
	probeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	err := h.Store.Healthcheck(probeCtx)
	result := Result{Name: h.Name, Available: err == nil, Err: err, Latency: time.Since(start)}

	if h.SetAvailable(result.Available) {
		if result.Available {
			logger.Info("Shard %q is available again", h.Name)
		} else {
			logger.Warn("Shard %q is unavailable: %v", h.Name, err)
		}
	}
	c.metrics.SetShardAvailable(h.Name, result.Available)
	return result
}
