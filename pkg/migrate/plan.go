// Package migrate moves records between shards while a resharding window is
// open, and computes resharding plans offline.
package migrate

import (
	"sort"

	"github.com/marmos91/dittoshard/pkg/shard"
)

// Move identifies a (source, destination) shard pair.
type Move struct {
	From int
	To   int
}

// Plan describes which keys change owner when a key set is remapped from
// OldCount to NewCount shards.
type Plan struct {
	Policy   string
	OldCount int
	NewCount int

	// Total is the number of keys examined, Moved the number changing owner
	Total int
	Moved int

	// Moves groups the moving keys by (from, to), keys in input order
	Moves map[Move][]shard.Key
}

// ComputePlan remaps keys from oldCount to newCount shards with mapper.
// It performs no I/O and is used to audit a resharding before starting it.
func ComputePlan(mapper shard.Mapper, keys []shard.Key, oldCount, newCount int) (*Plan, error) {
	plan := &Plan{
		Policy:   mapper.Policy(),
		OldCount: oldCount,
		NewCount: newCount,
		Total:    len(keys),
		Moves:    make(map[Move][]shard.Key),
	}

	for _, key := range keys {
		from, err := mapper.ShardForKey(key, oldCount)
		if err != nil {
			return nil, err
		}
		to, err := mapper.ShardForKey(key, newCount)
		if err != nil {
			return nil, err
		}
		if from == to {
			continue
		}
		m := Move{From: from, To: to}
		plan.Moves[m] = append(plan.Moves[m], key)
		plan.Moved++
	}
	return plan, nil
}

// MovedFraction returns Moved/Total, or 0 for an empty plan.
func (p *Plan) MovedFraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Moved) / float64(p.Total)
}

// SortedMoves returns the (from, to) pairs ordered by source then destination.
func (p *Plan) SortedMoves() []Move {
	moves := make([]Move, 0, len(p.Moves))
	for m := range p.Moves {
		moves = append(moves, m)
	}
	sort.Slice(moves, func(i, j int) bool {
		if moves[i].From != moves[j].From {
			return moves[i].From < moves[j].From
		}
		return moves[i].To < moves[j].To
	})
	return moves
}
