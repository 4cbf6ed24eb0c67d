// Package registry holds the authoritative shard topology.
//
// The registry owns the current shard map generation and, while a resharding
// window is open, the previous one. Reads are lock-free: every mutation builds
// a new Topology and publishes it atomically, so readers always observe a
// complete generation pair and never a half-applied transition.
//
// Shard state machine (per generation):
//
//	ACTIVE --MarkDraining--> DRAINING --MarkRetired--> RETIRED
//
// Transitions only happen on the previous generation, i.e. inside a window.
// Shards of the current generation are always ACTIVE.
//
// Example usage:
//
//	reg, _ := registry.New([]*shard.Handle{h0, h1})
//	gen, _ := reg.BeginResharding([]*shard.Handle{nil, nil, h2})
//	_ = reg.MarkDraining(0)
//	_ = reg.RecordCheckpoint(0, 0)
//	_ = reg.MarkRetired(0)
//	...
//	_ = reg.CompleteResharding()
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/shard"
)

// Registry manages the shard map generations.
//
// Thread Safety:
// Mutations are serialized by mu. Snapshot, CurrentCount and ShardAt read the
// published topology without locking.
type Registry struct {
	mu       sync.Mutex
	topology atomic.Pointer[Topology]
}

// New creates a registry whose first generation (1) holds the given handles,
// all ACTIVE. Index i is served by handles[i].
func New(handles []*shard.Handle) (*Registry, error) {
	if len(handles) == 0 {
		return nil, shard.NewError(shard.ErrInvalidArgument, "at least one shard is required")
	}

	current, err := newGeneration(1, handles)
	if err != nil {
		return nil, err
	}

	r := &Registry{}
	r.topology.Store(&Topology{Current: current})
	return r, nil
}

func newGeneration(generation uint64, handles []*shard.Handle) (*shard.Map, error) {
	m := &shard.Map{Generation: generation, Shards: make([]shard.Shard, len(handles))}
	for i, h := range handles {
		if h == nil {
			return nil, shard.NewError(shard.ErrInvalidArgument, "shard handle is nil").WithShard(i, generation)
		}
		m.Shards[i] = shard.Shard{Index: i, Handle: h, State: shard.StateActive}
	}
	return m, nil
}

// Snapshot returns the published topology. The result must not be modified.
func (r *Registry) Snapshot() *Topology {
	return r.topology.Load()
}

// CurrentCount returns the number of shards in the current generation.
func (r *Registry) CurrentCount() int {
	return r.Snapshot().Current.Count()
}

// Generation returns the current generation number.
func (r *Registry) Generation() uint64 {
	return r.Snapshot().Current.Generation
}

// ShardAt returns a copy of the current-generation shard at index.
func (r *Registry) ShardAt(index int) (*shard.Shard, error) {
	s, err := r.Snapshot().Current.At(index)
	if err != nil {
		return nil, err
	}
	c := *s
	return &c, nil
}

// PreviousShardAt returns a copy of the outgoing-generation shard at index.
// Fails with ErrPreconditionFailed when no window is open.
func (r *Registry) PreviousShardAt(index int) (*shard.Shard, error) {
	t := r.Snapshot()
	if !t.Resharding() {
		return nil, shard.NewError(shard.ErrPreconditionFailed, "no resharding in progress")
	}
	s, err := t.Previous.At(index)
	if err != nil {
		return nil, err
	}
	c := *s
	return &c, nil
}

// mutatePrevious applies fn to a copy of the outgoing-generation shard at index
// and publishes the result.
func (r *Registry) mutatePrevious(index int, fn func(s *shard.Shard, generation uint64) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.Snapshot()
	if !t.Resharding() {
		return shard.NewError(shard.ErrPreconditionFailed, "no resharding in progress").
			WithShard(index, t.Current.Generation)
	}

	next := t.clone()
	s, err := next.Previous.At(index)
	if err != nil {
		return err
	}
	if err := fn(s, next.Previous.Generation); err != nil {
		return err
	}

	r.topology.Store(next)
	return nil
}

// MarkDraining moves an outgoing-generation shard from ACTIVE to DRAINING.
func (r *Registry) MarkDraining(index int) error {
	err := r.mutatePrevious(index, func(s *shard.Shard, gen uint64) error {
		if s.State != shard.StateActive {
			return shard.NewError(shard.ErrPreconditionFailed, "shard is %s, expected ACTIVE", s.State).
				WithShard(index, gen)
		}
		s.State = shard.StateDraining
		s.Checkpointed = false
		s.Remaining = 0
		return nil
	})
	if err == nil {
		logger.Info("Shard %d marked DRAINING", index)
	}
	return err
}

// RecordCheckpoint stores the outcome of the last completed migration pass
// over a DRAINING shard: the number of keys it still holds that belong to a
// different shard in the current generation.
func (r *Registry) RecordCheckpoint(index int, remaining uint64) error {
	return r.mutatePrevious(index, func(s *shard.Shard, gen uint64) error {
		if s.State != shard.StateDraining {
			return shard.NewError(shard.ErrPreconditionFailed, "shard is %s, expected DRAINING", s.State).
				WithShard(index, gen)
		}
		s.Remaining = remaining
		s.Checkpointed = true
		return nil
	})
}

// MarkRetired moves a DRAINING shard to RETIRED. The last checkpoint must
// exist and report zero remaining keys.
func (r *Registry) MarkRetired(index int) error {
	err := r.mutatePrevious(index, func(s *shard.Shard, gen uint64) error {
		switch {
		case s.State != shard.StateDraining:
			return shard.NewError(shard.ErrPreconditionFailed, "shard is %s, expected DRAINING", s.State).
				WithShard(index, gen)
		case !s.Checkpointed:
			return shard.NewError(shard.ErrPreconditionFailed, "no migration checkpoint recorded").
				WithShard(index, gen)
		case s.Remaining > 0:
			return shard.NewError(shard.ErrPreconditionFailed, "migration incomplete: %d keys remaining", s.Remaining).
				WithShard(index, gen)
		}
		s.State = shard.StateRetired
		return nil
	})
	if err == nil {
		logger.Info("Shard %d marked RETIRED", index)
	}
	return err
}

// BeginResharding opens a resharding window towards a generation of
// len(handles) shards and returns the new generation number.
//
// handles describes the full target generation. Indices that exist in both
// generations keep their current handle: the entry must be nil or that same
// handle. Indices beyond the current count are new shards and need a handle.
// A shorter list is a shrink; the surviving prefix keeps its handles.
//
// The current generation, states included, becomes the previous generation.
func (r *Registry) BeginResharding(handles []*shard.Handle) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.Snapshot()
	if t.Resharding() {
		return 0, shard.NewError(shard.ErrPreconditionFailed,
			"resharding to generation %d already in progress", t.Current.Generation)
	}

	oldCount := t.Current.Count()
	newCount := len(handles)
	switch {
	case newCount == 0:
		return 0, shard.NewError(shard.ErrInvalidArgument, "target generation has no shards")
	case newCount == oldCount:
		return 0, shard.NewError(shard.ErrInvalidArgument, "target generation has the same shard count (%d)", newCount)
	}

	generation := t.Current.Generation + 1
	resolved := make([]*shard.Handle, newCount)
	for i, h := range handles {
		if i < oldCount {
			existing := t.Current.Shards[i].Handle
			if h != nil && h != existing {
				return 0, shard.NewError(shard.ErrInvalidArgument,
					"shard %d already exists with backend %q", i, existing.Name).WithShard(i, generation)
			}
			resolved[i] = existing
			continue
		}
		resolved[i] = h
	}

	current, err := newGeneration(generation, resolved)
	if err != nil {
		return 0, err
	}

	r.topology.Store(&Topology{
		Current:  current,
		Previous: t.Current.Clone(),
	})

	logger.Info("Resharding started: generation %d (%d shards) -> generation %d (%d shards)",
		generation-1, oldCount, generation, newCount)
	return generation, nil
}

// CompleteResharding closes the window. Every outgoing-generation shard must
// be RETIRED; the previous generation is then dropped.
func (r *Registry) CompleteResharding() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.Snapshot()
	if !t.Resharding() {
		return shard.NewError(shard.ErrPreconditionFailed, "no resharding in progress")
	}

	for _, s := range t.Previous.Shards {
		if s.State != shard.StateRetired {
			return shard.NewError(shard.ErrPreconditionFailed, "shard is %s, expected RETIRED", s.State).
				WithShard(s.Index, t.Previous.Generation)
		}
	}

	r.topology.Store(&Topology{Current: t.Current})

	logger.Info("Resharding complete: generation %d (%d shards) is now authoritative",
		t.Current.Generation, t.Current.Count())
	return nil
}

// Restore installs a persisted topology, typically at startup.
func (r *Registry) Restore(t *Topology) error {
	if t == nil || t.Current == nil {
		return shard.NewError(shard.ErrInvalidArgument, "topology has no current generation")
	}
	if err := validateGeneration(t.Current, true); err != nil {
		return err
	}
	if t.Previous != nil {
		if err := validateGeneration(t.Previous, false); err != nil {
			return err
		}
		if t.Previous.Generation >= t.Current.Generation {
			return shard.NewError(shard.ErrInvalidArgument,
				"previous generation %d is not older than current generation %d",
				t.Previous.Generation, t.Current.Generation)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.topology.Store(t.clone())
	return nil
}

func validateGeneration(m *shard.Map, current bool) error {
	if m.Count() == 0 {
		return shard.NewError(shard.ErrInvalidArgument, "generation %d has no shards", m.Generation)
	}
	for i, s := range m.Shards {
		if s.Index != i {
			return shard.NewError(shard.ErrInvalidArgument, "shard indices are not contiguous").
				WithShard(s.Index, m.Generation)
		}
		if s.Handle == nil {
			return shard.NewError(shard.ErrInvalidArgument, "shard handle is nil").WithShard(i, m.Generation)
		}
		if current && s.State != shard.StateActive {
			return shard.NewError(shard.ErrInvalidArgument, "current generation shard is %s", s.State).
				WithShard(i, m.Generation)
		}
	}
	return nil
}
