// Package shard defines the shard data model and the key-to-shard mapping policies.
//
// A Shard is one partition of data backed by an independent storage connection.
// Shards live inside a Map (one topology generation) and are addressed by their
// contiguous index in [0, count).
package shard

import (
	"fmt"
	"sync/atomic"

	"github.com/marmos91/dittoshard/pkg/store/record"
)

// Key is the opaque integer identity used as mapper input (e.g. a numeric
// storage or file id). It is immutable once assigned to an entity.
type Key uint64

// State is the lifecycle state of a shard within a generation.
type State int

const (
	// StateActive means the shard serves its keys for this generation
	StateActive State = iota

	// StateDraining means keys owned by this shard are being migrated
	// to their new-generation owners
	StateDraining

	// StateRetired means migration off this shard is confirmed complete
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateRetired:
		return "RETIRED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState converts the textual form produced by String back into a State.
func ParseState(s string) (State, error) {
	switch s {
	case "ACTIVE":
		return StateActive, nil
	case "DRAINING":
		return StateDraining, nil
	case "RETIRED":
		return StateRetired, nil
	default:
		return 0, NewError(ErrInvalidArgument, "unknown shard state %q", s)
	}
}

// Handle is the connection handle of a shard: the record store backing it plus
// an availability flag maintained by the health checker.
//
// A Handle is shared between generations when a shard index survives a
// resharding, so availability is tracked once per backend.
type Handle struct {
	// Name is a human-readable backend name (e.g. "shard-0")
	Name string

	// DSN is the connection descriptor the store was built from
	DSN string

	// Store is the record store backing the shard
	Store record.Store

	down atomic.Bool
}

// NewHandle creates a handle that starts out available.
func NewHandle(name, dsn string, store record.Store) *Handle {
	return &Handle{Name: name, DSN: dsn, Store: store}
}

// Available reports whether the last health probe succeeded.
func (h *Handle) Available() bool {
	return !h.down.Load()
}

// SetAvailable records the outcome of a health probe and reports whether
// the availability changed.
func (h *Handle) SetAvailable(available bool) bool {
	return h.down.Swap(!available) == available
}

// Shard is one partition of a generation.
//
// Shard values are immutable once published in a Map; state transitions
// produce a new Map.
type Shard struct {
	Index  int
	Handle *Handle
	State  State

	// Remaining is the number of keys still to move off this shard as reported
	// by the last completed migration checkpoint. Only meaningful once
	// Checkpointed is true.
	Remaining    uint64
	Checkpointed bool
}

// Map is one generation of the shard map. Indices are contiguous [0, Count()).
type Map struct {
	Generation uint64
	Shards     []Shard
}

// Count returns the number of shards in the generation.
func (m *Map) Count() int {
	if m == nil {
		return 0
	}
	return len(m.Shards)
}

// At returns the shard at index or an ErrInvalidArgument error.
func (m *Map) At(index int) (*Shard, error) {
	if index < 0 || index >= m.Count() {
		return nil, NewError(ErrInvalidArgument, "shard index out of range [0, %d)", m.Count()).
			WithShard(index, m.generation())
	}
	return &m.Shards[index], nil
}

// Clone returns a deep copy of the shard slice (handles are shared).
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	shards := make([]Shard, len(m.Shards))
	copy(shards, m.Shards)
	return &Map{Generation: m.Generation, Shards: shards}
}

func (m *Map) generation() uint64 {
	if m == nil {
		return 0
	}
	return m.Generation
}
