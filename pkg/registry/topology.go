package registry

import "github.com/marmos91/dittoshard/pkg/shard"

// Topology is an immutable view of the shard map.
//
// Current is the generation new keys are placed in. Previous is non-nil only
// while a resharding window is open; it holds the outgoing generation whose
// shards are drained one by one.
//
// A Topology returned by the registry must never be modified.
type Topology struct {
	Current  *shard.Map
	Previous *shard.Map
}

// Resharding reports whether a resharding window is open.
func (t *Topology) Resharding() bool {
	return t.Previous != nil
}

// Handles returns every distinct connection handle referenced by either
// generation, current generation first.
func (t *Topology) Handles() []*shard.Handle {
	seen := make(map[*shard.Handle]struct{})
	var handles []*shard.Handle

	add := func(m *shard.Map) {
		if m == nil {
			return
		}
		for _, s := range m.Shards {
			if s.Handle == nil {
				continue
			}
			if _, ok := seen[s.Handle]; ok {
				continue
			}
			seen[s.Handle] = struct{}{}
			handles = append(handles, s.Handle)
		}
	}

	add(t.Current)
	add(t.Previous)
	return handles
}

func (t *Topology) clone() *Topology {
	return &Topology{
		Current:  t.Current.Clone(),
		Previous: t.Previous.Clone(),
	}
}
