package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/marmos91/dittoshard/pkg/registry"
	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/record"
)

// Result summarizes one drain pass over a shard.
type Result struct {
	Index      int
	Generation uint64

	// Scanned is the number of keys found on the source shard
	Scanned int

	// Moved is the number of records copied to their new owner and deleted
	// from the source
	Moved int

	// Remaining is the recount recorded as the shard's checkpoint
	Remaining uint64

	Duration time.Duration
}

// Mover drains outgoing-generation shards into the current generation.
type Mover struct {
	registry *registry.Registry
	mapper   shard.Mapper
	metrics  metrics.RouterMetrics
}

// NewMover creates a mover. A nil m disables metrics.
func NewMover(reg *registry.Registry, mapper shard.Mapper, m metrics.RouterMetrics) *Mover {
	if m == nil {
		m = metrics.NewNoopRouterMetrics()
	}
	return &Mover{registry: reg, mapper: mapper, metrics: m}
}

// DrainShard moves every record of the DRAINING outgoing-generation shard at
// index whose current-generation owner is a different backend.
//
// Each record is saved into its new owner first and deleted from the source
// afterwards, so an interrupted pass never loses data; a repeated pass simply
// resumes. Records whose target is unavailable are left in place.
//
// When the pass finishes the remaining keys are recounted and recorded as the
// shard's checkpoint. A cancelled or failed pass records no checkpoint.
func (m *Mover) DrainShard(ctx context.Context, index int) (*Result, error) {
	start := time.Now()

	t, src, err := m.source(index)
	if err != nil {
		return nil, err
	}
	if src.State != shard.StateDraining {
		return nil, shard.NewError(shard.ErrPreconditionFailed, "shard is %s, expected DRAINING", src.State).
			WithShard(index, t.Previous.Generation)
	}

	keys, err := src.Handle.Store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys of shard %d: %w", index, err)
	}

	result := &Result{Index: index, Generation: t.Previous.Generation, Scanned: len(keys)}
	skipped := 0

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			m.metrics.RecordMigrated(index, result.Moved)
			return nil, err
		}

		key := shard.Key(k)
		target, err := m.owner(t.Current, key)
		if err != nil {
			return nil, err
		}
		if target == src.Handle {
			continue
		}
		if !target.Available() {
			skipped++
			continue
		}

		moved, err := moveRecord(ctx, src.Handle.Store, target.Store, k)
		if err != nil {
			m.metrics.RecordMigrated(index, result.Moved)
			return nil, fmt.Errorf("move key %d from shard %d to %q: %w", k, index, target.Name, err)
		}
		if moved {
			result.Moved++
		}
	}
	m.metrics.RecordMigrated(index, result.Moved)

	remaining, err := m.Remaining(ctx, index)
	if err != nil {
		return nil, err
	}
	if err := m.registry.RecordCheckpoint(index, remaining); err != nil {
		return nil, err
	}

	result.Remaining = remaining
	result.Duration = time.Since(start)

	logger.Info("Drained shard %d (generation %d): scanned=%d moved=%d skipped=%d remaining=%d in %s",
		index, result.Generation, result.Scanned, result.Moved, skipped, remaining, result.Duration)
	return result, nil
}

// Remaining counts the keys still stored on the outgoing-generation shard at
// index that belong to a different backend in the current generation.
func (m *Mover) Remaining(ctx context.Context, index int) (uint64, error) {
	t, src, err := m.source(index)
	if err != nil {
		return 0, err
	}

	keys, err := src.Handle.Store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys of shard %d: %w", index, err)
	}

	var remaining uint64
	for _, k := range keys {
		target, err := m.owner(t.Current, shard.Key(k))
		if err != nil {
			return 0, err
		}
		if target != src.Handle {
			remaining++
		}
	}
	return remaining, nil
}

func (m *Mover) source(index int) (*registry.Topology, *shard.Shard, error) {
	t := m.registry.Snapshot()
	if !t.Resharding() {
		return nil, nil, shard.NewError(shard.ErrPreconditionFailed, "no resharding in progress")
	}
	src, err := t.Previous.At(index)
	if err != nil {
		return nil, nil, err
	}
	if !src.Handle.Available() {
		return nil, nil, shard.NewError(shard.ErrShardUnavailable, "shard %q is unavailable", src.Handle.Name).
			WithShard(index, t.Previous.Generation)
	}
	return t, src, nil
}

func (m *Mover) owner(current *shard.Map, key shard.Key) (*shard.Handle, error) {
	idx, err := m.mapper.ShardForKey(key, current.Count())
	if err != nil {
		return nil, err
	}
	s, err := current.At(idx)
	if err != nil {
		return nil, err
	}
	return s.Handle, nil
}

// moveRecord copies key from src to dst, then deletes it from src. It reports
// false when the record vanished from src before it could be read.
func moveRecord(ctx context.Context, src, dst record.Store, key uint64) (bool, error) {
	value, err := src.Get(ctx, key)
	if errors.Is(err, record.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Step 1: save into the new owner
	if err := dst.Put(ctx, key, value); err != nil {
		return false, err
	}

	// Step 2: delete from the source
	if err := src.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}
