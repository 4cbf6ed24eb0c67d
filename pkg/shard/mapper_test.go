package shard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allMappers(t *testing.T) []Mapper {
	t.Helper()
	var mappers []Mapper
	for _, policy := range Policies() {
		m, err := NewMapper(policy, MapperOptions{})
		require.NoError(t, err)
		mappers = append(mappers, m)
	}
	return mappers
}

func TestNewMapper(t *testing.T) {
	tests := []struct {
		policy  string
		want    string
		wantErr bool
	}{
		{policy: "", want: PolicyModulo},
		{policy: "modulo", want: PolicyModulo},
		{policy: " Jump ", want: PolicyJump},
		{policy: "consistent-hash", want: PolicyConsistentHash},
		{policy: "round-robin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			m, err := NewMapper(tt.policy, MapperOptions{})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsCode(err, ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Policy())
		})
	}
}

func TestNewMapper_NegativeVirtualNodes(t *testing.T) {
	_, err := NewMapper(PolicyConsistentHash, MapperOptions{VirtualNodes: -1})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestModuloMapper(t *testing.T) {
	m := ModuloMapper{}

	idx, err := m.ShardForKey(17, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = m.ShardForKey(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = m.ShardForKey(Key(^uint64(0)), 10)
	require.NoError(t, err)
	assert.Equal(t, 5, idx)
}

func TestMapper_InvalidCount(t *testing.T) {
	for _, m := range allMappers(t) {
		t.Run(m.Policy(), func(t *testing.T) {
			for _, count := range []int{0, -1, -100} {
				_, err := m.ShardForKey(42, count)
				require.Error(t, err)

				var shardErr *Error
				require.ErrorAs(t, err, &shardErr)
				assert.Equal(t, ErrInvalidArgument, shardErr.Code)
				assert.True(t, shardErr.HasKey)
				assert.Equal(t, Key(42), shardErr.Key)
			}
		})
	}
}

func TestMapper_RangeAndDeterminism(t *testing.T) {
	for _, m := range allMappers(t) {
		t.Run(m.Policy(), func(t *testing.T) {
			for _, count := range []int{1, 2, 3, 7, 16, 100} {
				for k := Key(0); k < 2000; k++ {
					first, err := m.ShardForKey(k, count)
					require.NoError(t, err)
					require.GreaterOrEqual(t, first, 0)
					require.Less(t, first, count)

					second, err := m.ShardForKey(k, count)
					require.NoError(t, err)
					require.Equal(t, first, second, "key %d count %d", k, count)
				}
			}
		})
	}
}

func TestMapper_IndependentInstancesAgree(t *testing.T) {
	for _, policy := range Policies() {
		t.Run(policy, func(t *testing.T) {
			a, err := NewMapper(policy, MapperOptions{})
			require.NoError(t, err)
			b, err := NewMapper(policy, MapperOptions{})
			require.NoError(t, err)

			// Warm one instance with a different count first.
			_, err = a.ShardForKey(1, 9)
			require.NoError(t, err)

			for k := Key(0); k < 1000; k++ {
				x, err := a.ShardForKey(k*7919, 5)
				require.NoError(t, err)
				y, err := b.ShardForKey(k*7919, 5)
				require.NoError(t, err)
				require.Equal(t, x, y)
			}
		})
	}
}

func TestMapper_Distribution(t *testing.T) {
	const (
		keys  = 20000
		count = 4
	)

	for _, m := range allMappers(t) {
		t.Run(m.Policy(), func(t *testing.T) {
			hits := make([]int, count)
			for k := Key(0); k < keys; k++ {
				idx, err := m.ShardForKey(k, count)
				require.NoError(t, err)
				hits[idx]++
			}
			for idx, n := range hits {
				share := float64(n) / keys
				assert.Greater(t, share, 0.10, "shard %d is starved", idx)
				assert.Less(t, share, 0.40, "shard %d is overloaded", idx)
			}
		})
	}
}

func TestMapper_GrowthRemap(t *testing.T) {
	const keys = 20000

	tests := []struct {
		policy      string
		minFraction float64
		maxFraction float64
		ontoNewOnly bool
	}{
		// Modulo keeps only the keys where k%4 == k%5.
		{policy: PolicyModulo, minFraction: 0.75, maxFraction: 0.85},
		{policy: PolicyConsistentHash, minFraction: 0.10, maxFraction: 0.30, ontoNewOnly: true},
		{policy: PolicyJump, minFraction: 0.15, maxFraction: 0.25, ontoNewOnly: true},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			m, err := NewMapper(tt.policy, MapperOptions{})
			require.NoError(t, err)

			moved := 0
			for k := Key(0); k < keys; k++ {
				before, err := m.ShardForKey(k, 4)
				require.NoError(t, err)
				after, err := m.ShardForKey(k, 5)
				require.NoError(t, err)
				if before != after {
					moved++
					if tt.ontoNewOnly {
						require.Equal(t, 4, after, "key %d moved between existing shards", k)
					}
				}
			}

			fraction := float64(moved) / keys
			assert.GreaterOrEqual(t, fraction, tt.minFraction)
			assert.LessOrEqual(t, fraction, tt.maxFraction)
		})
	}
}

func TestRingMapper_ConcurrentUse(t *testing.T) {
	m := NewRingMapper(32)
	reference := make(map[Key]int)
	for k := Key(0); k < 500; k++ {
		idx, err := NewRingMapper(32).ShardForKey(k, 6)
		require.NoError(t, err)
		reference[k] = idx
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := Key(0); k < 500; k++ {
				idx, err := m.ShardForKey(k, 6)
				assert.NoError(t, err)
				assert.Equal(t, reference[k], idx)
			}
		}()
	}
	wg.Wait()
}

func TestRingMapper_DefaultVirtualNodes(t *testing.T) {
	assert.Equal(t, DefaultVirtualNodes, NewRingMapper(0).VirtualNodes())
	assert.Equal(t, 8, NewRingMapper(8).VirtualNodes())
	assert.Equal(t, "consistent-hash(virtual_nodes=8)", String(NewRingMapper(8)))
	assert.Equal(t, "jump", String(JumpMapper{}))
}

func TestError_Message(t *testing.T) {
	err := NewError(ErrShardUnavailable, "shard connection is down").WithKey(9).WithShard(2, 3)
	assert.Equal(t, "shard connection is down (key=9 shard=2 generation=3)", err.Error())
	assert.True(t, IsCode(err, ErrShardUnavailable))
	assert.False(t, IsCode(err, ErrInvalidArgument))
	assert.Equal(t, "ShardUnavailable", err.Code.String())
}

func TestParseState(t *testing.T) {
	for _, s := range []State{StateActive, StateDraining, StateRetired} {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseState("GONE")
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestHandle_Availability(t *testing.T) {
	h := NewHandle("shard-0", "memory://shard-0", nil)
	assert.True(t, h.Available())

	assert.True(t, h.SetAvailable(false))
	assert.False(t, h.Available())
	assert.False(t, h.SetAvailable(false))

	assert.True(t, h.SetAvailable(true))
	assert.True(t, h.Available())
}
