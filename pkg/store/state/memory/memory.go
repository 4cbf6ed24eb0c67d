// Package memory provides a volatile state store, used when no persistence
// is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/dittoshard/pkg/store/state"
)

// Store implements state.Store in memory.
type Store struct {
	mu       sync.RWMutex
	topology *state.TopologyRecord
	trust    map[string]state.TrustRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{trust: make(map[string]state.TrustRecord)}
}

func (s *Store) LoadTopology(ctx context.Context) (*state.TopologyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.topology == nil {
		return nil, state.ErrNotFound
	}
	return cloneTopology(s.topology), nil
}

func (s *Store) SaveTopology(ctx context.Context, t *state.TopologyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.topology = cloneTopology(t)
	return nil
}

func (s *Store) LoadTrust(ctx context.Context) ([]state.TrustRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]state.TrustRecord, 0, len(s.trust))
	for _, r := range s.trust {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URLHash < out[j].URLHash })
	return out, nil
}

func (s *Store) SaveTrust(ctx context.Context, r state.TrustRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust[r.URLHash] = r
	return nil
}

func (s *Store) DeleteTrust(ctx context.Context, urlHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trust, urlHash)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func cloneTopology(t *state.TopologyRecord) *state.TopologyRecord {
	if t == nil {
		return nil
	}
	c := *t
	c.Current = cloneGeneration(t.Current)
	c.Previous = cloneGeneration(t.Previous)
	return &c
}

func cloneGeneration(g *state.GenerationRecord) *state.GenerationRecord {
	if g == nil {
		return nil
	}
	c := *g
	c.Shards = append([]state.ShardRecord(nil), g.Shards...)
	return &c
}
