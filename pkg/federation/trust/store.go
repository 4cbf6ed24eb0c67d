// Package trust keeps the set of federated servers whose signed requests are
// accepted, together with their shared secrets.
//
// Reads (IsTrusted, Lookup) are lock-free: the record set is an immutable map
// replaced wholesale on every mutation (copy-on-write). Writers are serialized
// by a mutex. A record being revoked or purged is therefore observed either in
// its old or in its new form, never half-updated.
package trust

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/metrics"
)

// DefaultGracePeriod is how long a REVOKED record is retained before purge.
const DefaultGracePeriod = 24 * time.Hour

// Config configures a trust store.
type Config struct {
	// GracePeriod is the retention of REVOKED records. Zero selects DefaultGracePeriod.
	GracePeriod time.Duration

	// Clock returns the current time. Nil selects time.Now.
	Clock func() time.Time

	// Metrics receives record counts. Nil disables metrics.
	Metrics metrics.FederationMetrics
}

type records map[string]Server

// Store is the in-memory trust store.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[records]

	grace   time.Duration
	now     func() time.Time
	metrics metrics.FederationMetrics
}

// New creates an empty trust store.
func New(cfg Config) *Store {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopFederationMetrics()
	}

	s := &Store{grace: cfg.GracePeriod, now: cfg.Clock, metrics: cfg.Metrics}
	empty := make(records)
	s.current.Store(&empty)
	return s
}

// GracePeriod returns the configured retention of REVOKED records.
func (s *Store) GracePeriod() time.Duration {
	return s.grace
}

func (s *Store) snapshot() records {
	return *s.current.Load()
}

// update copies the record set, lets fn modify the copy and publishes it.
// Must be called with mu held.
func (s *Store) update(fn func(next records)) {
	prev := s.snapshot()
	next := make(records, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	fn(next)
	s.current.Store(&next)
	s.reportCounts(next)
}

func (s *Store) reportCounts(rs records) {
	var active, revoked int
	for _, r := range rs {
		if r.State == StateActive {
			active++
		} else {
			revoked++
		}
	}
	s.metrics.SetTrustedServers(active, revoked)
}

// AddTrust records a handshake with the server identified by urlHash.
//
// Adding the same (urlHash, secret) again is a no-op. An ACTIVE record with a
// different secret fails with ErrTrustConflict; use RotateSecret instead. A
// REVOKED record is replaced by a fresh ACTIVE one.
func (s *Store) AddTrust(urlHash, secret string) (Server, error) {
	return s.add(urlHash, "", secret)
}

// AddTrustedServer is AddTrust keyed by URL: the URL is normalized once,
// stored on the record and hashed, so the record's URLHash equals HashURL(url).
func (s *Store) AddTrustedServer(url, secret string) (Server, error) {
	normalized := NormalizeURL(url)
	if normalized == "" {
		return Server{}, newError(ErrInvalidArgument, "", "server url is empty")
	}
	return s.add(hashNormalized(normalized), normalized, secret)
}

func (s *Store) add(urlHash, url, secret string) (Server, error) {
	if urlHash == "" {
		return Server{}, newError(ErrInvalidArgument, "", "url hash is empty")
	}
	if secret == "" {
		return Server{}, newError(ErrInvalidArgument, urlHash, "secret is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshot()[urlHash]; ok && existing.State == StateActive {
		if existing.Secret != secret {
			return Server{}, newError(ErrTrustConflict, urlHash, "server is already trusted with a different secret")
		}
		if url != "" && existing.URL == "" {
			existing.URL = url
			s.update(func(next records) { next[urlHash] = existing })
		}
		return existing, nil
	}

	record := Server{
		URLHash: urlHash,
		URL:     url,
		Secret:  secret,
		State:   StateActive,
		AddedAt: s.now(),
	}
	s.update(func(next records) { next[urlHash] = record })

	logger.Info("Trusted server added: %s", urlHash)
	return record, nil
}

// Revoke withdraws trust and starts the grace period. Revoking an already
// REVOKED record changes nothing, in particular the grace timer is not reset.
func (s *Store) Revoke(urlHash string) (Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.snapshot()[urlHash]
	if !ok {
		return Server{}, newError(ErrNotFound, urlHash, "server is not known")
	}
	if existing.State == StateRevoked {
		return existing, nil
	}

	existing.State = StateRevoked
	existing.RevokedAt = s.now()
	s.update(func(next records) { next[urlHash] = existing })

	logger.Info("Trusted server revoked: %s (purge after %s)", urlHash, existing.RevokedAt.Add(s.grace).Format(time.RFC3339))
	return existing, nil
}

// IsTrusted reports whether urlHash has an ACTIVE record.
func (s *Store) IsTrusted(urlHash string) bool {
	r, ok := s.snapshot()[urlHash]
	return ok && r.State == StateActive
}

// Lookup returns a copy of the record for urlHash.
func (s *Store) Lookup(urlHash string) (Server, bool) {
	r, ok := s.snapshot()[urlHash]
	return r, ok
}

// RotateSecret replaces the secret of an ACTIVE record.
func (s *Store) RotateSecret(urlHash, secret string) (Server, error) {
	if secret == "" {
		return Server{}, newError(ErrInvalidArgument, urlHash, "secret is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.snapshot()[urlHash]
	if !ok {
		return Server{}, newError(ErrNotFound, urlHash, "server is not known")
	}
	if existing.State != StateActive {
		return Server{}, newError(ErrPreconditionFailed, urlHash, "server is %s, expected ACTIVE", existing.State)
	}

	existing.Secret = secret
	s.update(func(next records) { next[urlHash] = existing })

	logger.Info("Trusted server secret rotated: %s", urlHash)
	return existing, nil
}

// PurgeExpired removes REVOKED records whose grace period ended before now
// and returns their hashes in ascending order.
func (s *Store) PurgeExpired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for hash, r := range s.snapshot() {
		if r.State == StateRevoked && r.RevokedAt.Add(s.grace).Before(now) {
			expired = append(expired, hash)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	s.update(func(next records) {
		for _, hash := range expired {
			delete(next, hash)
		}
	})
	sort.Strings(expired)

	s.metrics.RecordPurged(len(expired))
	return expired
}

// List returns copies of all records ordered by URL hash.
func (s *Store) List() []Server {
	snap := s.snapshot()
	out := make([]Server, 0, len(snap))
	for _, r := range snap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URLHash < out[j].URLHash })
	return out
}

// Restore replaces the record set, typically with records loaded at startup.
func (s *Store) Restore(servers []Server) error {
	next := make(records, len(servers))
	for _, r := range servers {
		if r.URLHash == "" || r.Secret == "" {
			return newError(ErrInvalidArgument, r.URLHash, "persisted trust record is incomplete")
		}
		next[r.URLHash] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(&next)
	s.reportCounts(next)
	return nil
}
