// Package gc purges revoked federation trust records once their grace
// period has elapsed.
//
// A revoked server stays in the trust store (as REVOKED) for the configured
// grace period so operators can inspect or re-trust it. The collector removes
// expired records from the in-memory trust store and then from the persisted
// state store.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/store/state"
)

// Collector periodically purges expired trust records.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	trust  *trust.Store
	state  state.Store
	config Config

	runMu    sync.Mutex
	locker   sync.Locker
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config contains configuration for the purge collector.
type Config struct {
	// Enabled controls whether periodic purging is active
	Enabled bool

	// Interval is how often to purge (default: 1h)
	Interval time.Duration

	// Timeout bounds a single run (default: 1m)
	Timeout time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}

// NewCollector creates a new purge collector. Call Start to begin
// background purging.
//
// Parameters:
//   - trustStore: Trust store to purge
//   - stateStore: Persisted state to delete purged records from (may be nil)
//   - config: Collector configuration
func NewCollector(trustStore *trust.Store, stateStore state.Store, config Config) *Collector {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Collector{
		trust:  trustStore,
		state:  stateStore,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background purging. It is a no-op when disabled or already started.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Trust purge collector disabled")
		return
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	logger.Info("Starting trust purge collector: interval=%s grace_period=%s",
		c.config.Interval, c.trust.GracePeriod())

	go c.worker()
}

// Stop stops the collector and waits for an in-progress run to finish.
// Safe to call multiple times.
//
// Returns:
//   - error: ctx.Err() if the context expires before the worker exits
func (c *Collector) Stop(ctx context.Context) error {
	c.runMu.Lock()
	started := c.started
	c.runMu.Unlock()
	if !started {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Trust purge collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Trust purge collector shutdown timeout")
		return ctx.Err()
	}
}

// SetLocker makes every run hold l while it purges and deletes the purged
// records from the state store. Owners that persist trust mutations under
// their own lock pass it here so a purge cannot interleave with them.
func (c *Collector) SetLocker(l sync.Locker) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.locker = l
}

// RunNow purges immediately and blocks until the run completes.
// Used by the admin API and tests.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running trust purge (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Trust purge failed: %v", err)
			} else if stats.PurgedCount > 0 {
				logger.Info("Trust purge completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. Remove expired REVOKED records from the trust store
//  2. Delete the same records from the state store
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	c.runMu.Lock()
	locker := c.locker
	c.runMu.Unlock()
	if locker != nil {
		locker.Lock()
		defer locker.Unlock()
	}

	purged := c.trust.PurgeExpired(c.config.Clock())
	stats.PurgedCount = uint64(len(purged))
	stats.Purged = purged

	if c.state == nil || len(purged) == 0 {
		stats.EndTime = time.Now()
		return stats, nil
	}

	for _, hash := range purged {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}
		// A record left behind here is REVOKED and already expired, so it is
		// purged again by the first run after a restart.
		if err := c.state.DeleteTrust(ctx, hash); err != nil {
			logger.Warn("Trust purge: failed to delete persisted record %s: %v", hash, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}

	stats.EndTime = time.Now()
	if stats.FailedCount > 0 {
		return stats, fmt.Errorf("failed to delete %d persisted trust records", stats.FailedCount)
	}
	return stats, nil
}

// Stats contains statistics from a purge run.
type Stats struct {
	StartTime    time.Time // When the run started
	EndTime      time.Time // When the run ended
	PurgedCount  uint64    // Records removed from the trust store
	DeletedCount uint64    // Records deleted from the state store
	FailedCount  uint64    // State store deletions that failed
	Purged       []string  // URL hashes purged, ascending
}

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("purged=%d deleted=%d failed=%d duration=%s",
		s.PurgedCount, s.DeletedCount, s.FailedCount, s.Duration())
}
