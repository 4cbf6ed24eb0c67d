// Package router resolves shard keys to shard connection handles.
//
// The router is a pure decision layer on top of the registry and the mapper.
// It performs no I/O and never retries: it returns the handle the caller must
// use, or a deterministic error, and leaves timeouts and backoff to the caller.
package router

import (
	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/marmos91/dittoshard/pkg/registry"
	"github.com/marmos91/dittoshard/pkg/shard"
)

// Route is the outcome of routing one key.
type Route struct {
	Key        shard.Key
	Index      int
	Generation uint64
	Handle     *shard.Handle

	// Previous is true when the key was resolved in the outgoing generation
	// of an open resharding window.
	Previous bool

	// Fallback is the current-generation owner of the key when Previous is
	// true and that owner is a different backend. Records already copied by
	// an in-progress drain live there, so readers that miss on Handle may
	// retry on Fallback.
	Fallback *Route
}

// Router maps keys to shards using a Mapper over the registry topology.
type Router struct {
	mapper   shard.Mapper
	registry *registry.Registry
	metrics  metrics.RouterMetrics
}

// New creates a router. A nil m disables metrics.
func New(mapper shard.Mapper, reg *registry.Registry, m metrics.RouterMetrics) *Router {
	if m == nil {
		m = metrics.NewNoopRouterMetrics()
	}
	return &Router{mapper: mapper, registry: reg, metrics: m}
}

// Mapper returns the mapping policy in use.
func (r *Router) Mapper() shard.Mapper {
	return r.mapper
}

// Route resolves key against the current topology snapshot.
//
// Without an open window the key goes to current[mapper(key, current.count)].
// During a window the outgoing-generation owner stays authoritative until it
// is RETIRED, after which the key goes to its current-generation owner.
//
// A resolved handle that is marked down yields ErrShardUnavailable.
func (r *Router) Route(key shard.Key) (*Route, error) {
	route, err := r.resolve(r.registry.Snapshot(), key)
	if err != nil {
		r.metrics.RecordRoute(-1, 0, outcome(err))
		return nil, err
	}

	if !route.Handle.Available() {
		err := shard.NewError(shard.ErrShardUnavailable, "shard %q is unavailable", route.Handle.Name).
			WithKey(key).WithShard(route.Index, route.Generation)
		r.metrics.RecordRoute(route.Index, route.Generation, outcome(err))
		return nil, err
	}

	r.metrics.RecordRoute(route.Index, route.Generation, metrics.OutcomeOK)
	if logger.IsDebug() {
		logger.Debug("Routed key %d to shard %d (generation %d, previous=%v)",
			key, route.Index, route.Generation, route.Previous)
	}
	return route, nil
}

// RouteMany routes every key against one topology snapshot and groups them
// by resolved backend. Keys whose shard is unavailable are reported in the
// returned error map instead of failing the whole batch.
func (r *Router) RouteMany(keys []shard.Key) (map[*shard.Handle][]*Route, map[shard.Key]error) {
	snap := r.registry.Snapshot()
	groups := make(map[*shard.Handle][]*Route)
	var failed map[shard.Key]error

	fail := func(key shard.Key, err error) {
		if failed == nil {
			failed = make(map[shard.Key]error)
		}
		failed[key] = err
	}

	for _, key := range keys {
		route, err := r.resolve(snap, key)
		if err != nil {
			fail(key, err)
			continue
		}
		if !route.Handle.Available() {
			fail(key, shard.NewError(shard.ErrShardUnavailable, "shard %q is unavailable", route.Handle.Name).
				WithKey(key).WithShard(route.Index, route.Generation))
			continue
		}
		groups[route.Handle] = append(groups[route.Handle], route)
	}
	return groups, failed
}

// Owner returns the index of the shard that owns key in the given generation,
// ignoring shard states and availability.
func (r *Router) Owner(key shard.Key, m *shard.Map) (int, error) {
	return r.mapper.ShardForKey(key, m.Count())
}

func (r *Router) resolve(t *registry.Topology, key shard.Key) (*Route, error) {
	current, err := r.target(t.Current, key, false)
	if err != nil {
		return nil, err
	}
	if !t.Resharding() {
		return current, nil
	}

	previous, err := r.target(t.Previous, key, true)
	if err != nil {
		return nil, err
	}
	if t.Previous.Shards[previous.Index].State == shard.StateRetired {
		return current, nil
	}

	if current.Handle != previous.Handle {
		previous.Fallback = current
	}
	return previous, nil
}

func (r *Router) target(m *shard.Map, key shard.Key, previous bool) (*Route, error) {
	idx, err := r.mapper.ShardForKey(key, m.Count())
	if err != nil {
		return nil, err
	}
	s, err := m.At(idx)
	if err != nil {
		// A mapper returning an out-of-range index is a programming error.
		return nil, err
	}
	return &Route{
		Key:        key,
		Index:      idx,
		Generation: m.Generation,
		Handle:     s.Handle,
		Previous:   previous,
	}, nil
}

func outcome(err error) string {
	switch {
	case shard.IsCode(err, shard.ErrShardUnavailable):
		return metrics.OutcomeUnavailable
	case shard.IsCode(err, shard.ErrInvalidArgument):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
