package shard

import (
	"fmt"
	"strings"
)

// Mapper maps a shard key onto a shard index.
//
// ShardForKey must be a pure function of (key, count): the same inputs always
// produce the same index, with no dependency on time, randomness or process
// state. For count > 0 the result lies in [0, count). A non-positive count
// fails with ErrInvalidArgument.
//
// Implementations must be safe for concurrent use.
type Mapper interface {
	ShardForKey(key Key, count int) (int, error)

	// Policy returns the identifier the mapper was selected by.
	Policy() string
}

// Policy identifiers accepted by NewMapper.
const (
	PolicyModulo         = "modulo"
	PolicyConsistentHash = "consistent-hash"
	PolicyJump           = "jump"
)

// DefaultVirtualNodes is the number of ring points per shard used by the
// consistent-hash policy when none is configured.
const DefaultVirtualNodes = 128

// MapperOptions carries policy-specific tuning.
type MapperOptions struct {
	// VirtualNodes is the number of ring points per shard (consistent-hash only).
	// Zero selects DefaultVirtualNodes.
	VirtualNodes int
}

// Policies returns the supported policy identifiers.
func Policies() []string {
	return []string{PolicyModulo, PolicyConsistentHash, PolicyJump}
}

// NewMapper returns the mapper for the given policy identifier.
// An empty policy selects modulo.
func NewMapper(policy string, opts MapperOptions) (Mapper, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", PolicyModulo:
		return ModuloMapper{}, nil
	case PolicyConsistentHash:
		if opts.VirtualNodes < 0 {
			return nil, NewError(ErrInvalidArgument, "virtual nodes must be positive, got %d", opts.VirtualNodes)
		}
		return NewRingMapper(opts.VirtualNodes), nil
	case PolicyJump:
		return JumpMapper{}, nil
	default:
		return nil, NewError(ErrInvalidArgument, "unknown mapping policy %q (supported: %s)",
			policy, strings.Join(Policies(), ", "))
	}
}

func checkCount(count int) *Error {
	if count <= 0 {
		return NewError(ErrInvalidArgument, "shard count must be positive, got %d", count)
	}
	return nil
}

// ModuloMapper assigns key % count.
//
// Keys are spread evenly when they are dense integers, but almost every key
// changes shard when the count changes: growing from n to n+1 keeps only
// about 1/(n+1) of the keys in place. Resharding with this policy therefore
// migrates nearly the whole data set.
type ModuloMapper struct{}

func (ModuloMapper) ShardForKey(key Key, count int) (int, error) {
	if err := checkCount(count); err != nil {
		return 0, err.WithKey(key)
	}
	return int(uint64(key) % uint64(count)), nil
}

func (ModuloMapper) Policy() string { return PolicyModulo }

// JumpMapper implements the jump consistent hash of Lamping and Veach.
//
// It needs no state and, when growing from n to n+1 shards, moves exactly
// the keys that the new shard takes over (an expected 1/(n+1) fraction).
// Shrinking only stays minimal when shards are removed from the end.
type JumpMapper struct{}

func (JumpMapper) ShardForKey(key Key, count int) (int, error) {
	if err := checkCount(count); err != nil {
		return 0, err.WithKey(key)
	}

	k := uint64(key)
	var b, j int64 = -1, 0
	for j < int64(count) {
		b = j
		k = k*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((k>>33)+1)))
	}
	return int(b), nil
}

func (JumpMapper) Policy() string { return PolicyJump }

// String renders a mapper for logs.
func String(m Mapper) string {
	if r, ok := m.(*RingMapper); ok {
		return fmt.Sprintf("%s(virtual_nodes=%d)", r.Policy(), r.virtualNodes)
	}
	return m.Policy()
}
