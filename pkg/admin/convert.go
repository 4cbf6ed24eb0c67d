package admin

import (
	"fmt"

	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/registry"
	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/state"
)

// EncodeTopology converts a registry snapshot into its persisted form.
func EncodeTopology(t *registry.Topology, operationID string) *state.TopologyRecord {
	rec := &state.TopologyRecord{
		OperationID: operationID,
		Current:     encodeMap(t.Current),
	}
	if t.Previous != nil {
		rec.Previous = encodeMap(t.Previous)
	}
	return rec
}

func encodeMap(m *shard.Map) *state.GenerationRecord {
	gen := &state.GenerationRecord{
		Generation: m.Generation,
		Shards:     make([]state.ShardRecord, len(m.Shards)),
	}
	for i, s := range m.Shards {
		gen.Shards[i] = state.ShardRecord{
			Index:        s.Index,
			Name:         s.Handle.Name,
			DSN:          s.Handle.DSN,
			State:        s.State.String(),
			Remaining:    s.Remaining,
			Checkpointed: s.Checkpointed,
		}
	}
	return gen
}

// handleSource returns the connection handle for a persisted shard.
type handleSource func(name, dsn string) (*shard.Handle, error)

// decodeTopology rebuilds a registry topology from its persisted form.
func decodeTopology(rec *state.TopologyRecord, open handleSource) (*registry.Topology, error) {
	if rec.Current == nil {
		return nil, fmt.Errorf("persisted topology has no current generation")
	}

	current, err := decodeMap(rec.Current, open)
	if err != nil {
		return nil, err
	}
	t := &registry.Topology{Current: current}

	if rec.Previous != nil {
		if t.Previous, err = decodeMap(rec.Previous, open); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func decodeMap(gen *state.GenerationRecord, open handleSource) (*shard.Map, error) {
	m := &shard.Map{Generation: gen.Generation, Shards: make([]shard.Shard, len(gen.Shards))}
	for i, s := range gen.Shards {
		st, err := shard.ParseState(s.State)
		if err != nil {
			return nil, fmt.Errorf("generation %d shard %d: %w", gen.Generation, s.Index, err)
		}
		h, err := open(s.Name, s.DSN)
		if err != nil {
			return nil, err
		}
		m.Shards[i] = shard.Shard{
			Index:        s.Index,
			Handle:       h,
			State:        st,
			Remaining:    s.Remaining,
			Checkpointed: s.Checkpointed,
		}
	}
	return m, nil
}

func encodeServer(s trust.Server) state.TrustRecord {
	return state.TrustRecord{
		URLHash:   s.URLHash,
		URL:       s.URL,
		Secret:    s.Secret,
		State:     s.State.String(),
		AddedAt:   s.AddedAt,
		RevokedAt: s.RevokedAt,
	}
}

func decodeServer(r state.TrustRecord) (trust.Server, error) {
	st, err := trust.ParseState(r.State)
	if err != nil {
		return trust.Server{}, fmt.Errorf("trust record %s: %w", r.URLHash, err)
	}
	return trust.Server{
		URLHash:   r.URLHash,
		URL:       r.URL,
		Secret:    r.Secret,
		State:     st,
		AddedAt:   r.AddedAt,
		RevokedAt: r.RevokedAt,
	}, nil
}
