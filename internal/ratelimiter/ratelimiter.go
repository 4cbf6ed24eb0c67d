// Package ratelimiter provides per-key token bucket rate limiting.
//
// The federation API keys buckets by signer so one misbehaving peer cannot
// consume the request budget of the others.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused bucket is retained before Prune drops it.
const DefaultIdleTTL = 10 * time.Minute

// Limiter keeps one token bucket per key.
//
// The token bucket algorithm works as follows:
//  1. Tokens are added to each bucket at a constant rate (requests per second)
//  2. Each request consumes one token from its key's bucket
//  3. If the bucket is empty, the request is rejected
//  4. Burst capacity allows temporary spikes above the sustained rate
//
// Buckets are created lazily on first use. Prune drops buckets that have been
// idle longer than the idle TTL, bounding memory to the set of active keys.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Options configures a Limiter.
type Options struct {
	// IdleTTL is the retention of unused buckets (default: DefaultIdleTTL)
	IdleTTL time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}

// New creates a per-key limiter.
//
// Parameters:
//   - requestsPerSecond: Maximum sustained rate per key (tokens added per second)
//   - burst: Maximum burst size per key (bucket capacity in tokens)
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (every request is allowed)
//   - burst = 0: burst defaults to requestsPerSecond
//
// Example:
//
//	// Allow each signer 50 req/s sustained, bursts of 100
//	limiter := New(50, 100, Options{})
func New(requestsPerSecond, burst uint, opts Options) *Limiter {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond == 0 {
		limit = rate.Inf
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   int(burst),
		idleTTL: opts.IdleTTL,
		now:     opts.Clock,
	}
}

// Unlimited reports whether the limiter lets every request through.
func (l *Limiter) Unlimited() bool {
	return l.limit == rate.Inf
}

// Allow reports whether a request for key may proceed now, consuming one
// token from its bucket when it does.
//
// This is the fast path: it never waits. Callers reject the request (HTTP 429)
// when it returns false.
func (l *Limiter) Allow(key string) bool {
	if l.Unlimited() {
		return true
	}

	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Tokens returns the tokens currently available to key. Keys without a
// bucket have a full burst available.
//
// This is primarily useful for monitoring and debugging.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return float64(l.burst)
	}
	return b.limiter.TokensAt(l.now())
}

// Prune drops buckets idle for longer than the idle TTL and returns how many
// were removed. A dropped bucket is recreated full on the key's next request.
func (l *Limiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
