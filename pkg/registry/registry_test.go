package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/record/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandles(from, to int) []*shard.Handle {
	var handles []*shard.Handle
	for i := from; i < to; i++ {
		name := fmt.Sprintf("shard-%d", i)
		handles = append(handles, shard.NewHandle(name, "memory://"+name, memory.New(name)))
	}
	return handles
}

func mustRegistry(t *testing.T, count int) *Registry {
	t.Helper()
	reg, err := New(newHandles(0, count))
	require.NoError(t, err)
	return reg
}

func requireCode(t *testing.T, err error, code shard.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var shardErr *shard.Error
	require.ErrorAs(t, err, &shardErr)
	assert.Equal(t, code, shardErr.Code, "error: %v", err)
}

func TestNew(t *testing.T) {
	reg := mustRegistry(t, 3)

	assert.Equal(t, 3, reg.CurrentCount())
	assert.Equal(t, uint64(1), reg.Generation())
	assert.False(t, reg.Snapshot().Resharding())

	s, err := reg.ShardAt(2)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Index)
	assert.Equal(t, shard.StateActive, s.State)
	assert.Equal(t, "shard-2", s.Handle.Name)

	_, err = New(nil)
	requireCode(t, err, shard.ErrInvalidArgument)

	_, err = New([]*shard.Handle{nil})
	requireCode(t, err, shard.ErrInvalidArgument)
}

func TestShardAt_OutOfRange(t *testing.T) {
	reg := mustRegistry(t, 2)

	for _, idx := range []int{-1, 2, 100} {
		_, err := reg.ShardAt(idx)
		requireCode(t, err, shard.ErrInvalidArgument)
	}
}

func TestMarkDraining_OutsideWindow(t *testing.T) {
	reg := mustRegistry(t, 2)

	requireCode(t, reg.MarkDraining(0), shard.ErrPreconditionFailed)
	requireCode(t, reg.RecordCheckpoint(0, 0), shard.ErrPreconditionFailed)
	requireCode(t, reg.MarkRetired(0), shard.ErrPreconditionFailed)
	requireCode(t, reg.CompleteResharding(), shard.ErrPreconditionFailed)
}

func TestBeginResharding_Grow(t *testing.T) {
	reg := mustRegistry(t, 2)
	before := reg.Snapshot()
	extra := newHandles(2, 4)

	gen, err := reg.BeginResharding([]*shard.Handle{nil, nil, extra[0], extra[1]})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	after := reg.Snapshot()
	require.True(t, after.Resharding())
	assert.Equal(t, 4, after.Current.Count())
	assert.Equal(t, 2, after.Previous.Count())
	assert.Equal(t, uint64(1), after.Previous.Generation)

	// Surviving indices keep their handles.
	assert.Same(t, before.Current.Shards[0].Handle, after.Current.Shards[0].Handle)
	assert.Same(t, before.Current.Shards[1].Handle, after.Previous.Shards[1].Handle)
	assert.Same(t, extra[1], after.Current.Shards[3].Handle)

	// The old snapshot is untouched.
	assert.False(t, before.Resharding())
	assert.Equal(t, 2, before.Current.Count())

	assert.Len(t, after.Handles(), 4)
}

func TestBeginResharding_Shrink(t *testing.T) {
	reg := mustRegistry(t, 4)
	handles := reg.Snapshot().Current

	_, err := reg.BeginResharding([]*shard.Handle{handles.Shards[0].Handle, nil})
	require.NoError(t, err)

	after := reg.Snapshot()
	assert.Equal(t, 2, after.Current.Count())
	assert.Equal(t, 4, after.Previous.Count())
	assert.Len(t, after.Handles(), 4)
}

func TestBeginResharding_Invalid(t *testing.T) {
	reg := mustRegistry(t, 2)

	_, err := reg.BeginResharding(nil)
	requireCode(t, err, shard.ErrInvalidArgument)

	_, err = reg.BeginResharding([]*shard.Handle{nil, nil})
	requireCode(t, err, shard.ErrInvalidArgument)

	// A new index needs a handle.
	_, err = reg.BeginResharding([]*shard.Handle{nil, nil, nil})
	requireCode(t, err, shard.ErrInvalidArgument)

	// An existing index cannot be rebound to another backend.
	other := newHandles(9, 10)[0]
	_, err = reg.BeginResharding([]*shard.Handle{other, nil, newHandles(2, 3)[0]})
	requireCode(t, err, shard.ErrInvalidArgument)

	assert.False(t, reg.Snapshot().Resharding())

	_, err = reg.BeginResharding([]*shard.Handle{nil, nil, newHandles(2, 3)[0]})
	require.NoError(t, err)

	_, err = reg.BeginResharding([]*shard.Handle{nil, nil, nil, newHandles(3, 4)[0]})
	requireCode(t, err, shard.ErrPreconditionFailed)
}

func TestShardLifecycle(t *testing.T) {
	reg := mustRegistry(t, 2)
	_, err := reg.BeginResharding(append([]*shard.Handle{nil, nil}, newHandles(2, 3)...))
	require.NoError(t, err)

	// Retire requires DRAINING.
	requireCode(t, reg.MarkRetired(0), shard.ErrPreconditionFailed)
	// Checkpoint requires DRAINING.
	requireCode(t, reg.RecordCheckpoint(0, 0), shard.ErrPreconditionFailed)

	require.NoError(t, reg.MarkDraining(0))
	requireCode(t, reg.MarkDraining(0), shard.ErrPreconditionFailed)

	// Retire requires a checkpoint.
	requireCode(t, reg.MarkRetired(0), shard.ErrPreconditionFailed)

	// Retire requires the checkpoint to report nothing left.
	require.NoError(t, reg.RecordCheckpoint(0, 5))
	requireCode(t, reg.MarkRetired(0), shard.ErrPreconditionFailed)

	require.NoError(t, reg.RecordCheckpoint(0, 0))
	require.NoError(t, reg.MarkRetired(0))

	prev, err := reg.PreviousShardAt(0)
	require.NoError(t, err)
	assert.Equal(t, shard.StateRetired, prev.State)

	// Current-generation shard with the same index stays ACTIVE.
	cur, err := reg.ShardAt(0)
	require.NoError(t, err)
	assert.Equal(t, shard.StateActive, cur.State)

	// Completion requires every outgoing shard to be RETIRED.
	requireCode(t, reg.CompleteResharding(), shard.ErrPreconditionFailed)

	require.NoError(t, reg.MarkDraining(1))
	require.NoError(t, reg.RecordCheckpoint(1, 0))
	require.NoError(t, reg.MarkRetired(1))
	requireCode(t, reg.MarkRetired(1), shard.ErrPreconditionFailed)

	require.NoError(t, reg.CompleteResharding())
	assert.False(t, reg.Snapshot().Resharding())
	assert.Equal(t, 3, reg.CurrentCount())
	assert.Equal(t, uint64(2), reg.Generation())

	_, err = reg.PreviousShardAt(0)
	requireCode(t, err, shard.ErrPreconditionFailed)
}

func TestRestore(t *testing.T) {
	reg := mustRegistry(t, 1)
	handles := newHandles(0, 3)

	topo := &Topology{
		Current: &shard.Map{Generation: 5, Shards: []shard.Shard{
			{Index: 0, Handle: handles[0]},
			{Index: 1, Handle: handles[1]},
			{Index: 2, Handle: handles[2]},
		}},
		Previous: &shard.Map{Generation: 4, Shards: []shard.Shard{
			{Index: 0, Handle: handles[0], State: shard.StateRetired},
			{Index: 1, Handle: handles[1], State: shard.StateDraining, Checkpointed: true, Remaining: 3},
		}},
	}
	require.NoError(t, reg.Restore(topo))

	// Mutating the input afterwards does not leak into the registry.
	topo.Current.Shards[0].State = shard.StateDraining

	assert.Equal(t, uint64(5), reg.Generation())
	s, err := reg.ShardAt(0)
	require.NoError(t, err)
	assert.Equal(t, shard.StateActive, s.State)

	prev, err := reg.PreviousShardAt(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), prev.Remaining)

	tests := []struct {
		name string
		topo *Topology
	}{
		{name: "nil", topo: nil},
		{name: "empty", topo: &Topology{Current: &shard.Map{Generation: 1}}},
		{name: "gap", topo: &Topology{Current: &shard.Map{Generation: 1, Shards: []shard.Shard{{Index: 1, Handle: handles[0]}}}}},
		{name: "draining current", topo: &Topology{Current: &shard.Map{Generation: 1, Shards: []shard.Shard{
			{Index: 0, Handle: handles[0], State: shard.StateDraining},
		}}}},
		{name: "stale previous", topo: &Topology{
			Current:  &shard.Map{Generation: 1, Shards: []shard.Shard{{Index: 0, Handle: handles[0]}}},
			Previous: &shard.Map{Generation: 1, Shards: []shard.Shard{{Index: 0, Handle: handles[0]}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, reg.Restore(tt.topo), shard.ErrInvalidArgument)
		})
	}
}

func TestSnapshot_NeverTorn(t *testing.T) {
	reg := mustRegistry(t, 2)
	extra := newHandles(2, 3)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := reg.Snapshot()
				if snap.Resharding() {
					assert.Equal(t, 3, snap.Current.Count())
					assert.Equal(t, 2, snap.Previous.Count())
					assert.Equal(t, snap.Current.Generation, snap.Previous.Generation+1)
				} else {
					assert.Contains(t, []int{2, 3}, snap.Current.Count())
				}
			}
		}()
	}

	_, err := reg.BeginResharding([]*shard.Handle{nil, nil, extra[0]})
	require.NoError(t, err)
	for idx := 0; idx < 2; idx++ {
		require.NoError(t, reg.MarkDraining(idx))
		require.NoError(t, reg.RecordCheckpoint(idx, 0))
		require.NoError(t, reg.MarkRetired(idx))
	}
	require.NoError(t, reg.CompleteResharding())

	close(stop)
	wg.Wait()
}
