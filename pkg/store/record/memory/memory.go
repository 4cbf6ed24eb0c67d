// Package memory provides an in-memory record store.
//
// Data lives only as long as the process. It backs shards in tests and in
// ephemeral deployments.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/marmos91/dittoshard/pkg/store/record"
)

// Store implements record.Store on a map guarded by a read-write mutex.
type Store struct {
	name string

	mu      sync.RWMutex
	records map[uint64][]byte
	closed  bool

	// healthErr, when set, is returned by Healthcheck to simulate an outage.
	healthErr error
}

// New creates an empty memory store.
func New(name string) *Store {
	return &Store{
		name:    name,
		records: make(map[uint64][]byte),
	}
}

// Name returns the store name taken from the DSN.
func (s *Store) Name() string {
	return s.name
}

func (s *Store) Get(ctx context.Context, key uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, record.ErrStoreClosed
	}
	value, ok := s.records[key]
	if !ok {
		return nil, record.ErrRecordNotFound
	}
	return slices.Clone(value), nil
}

func (s *Store) Put(ctx context.Context, key uint64, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return record.ErrStoreClosed
	}
	// Stored values never alias caller memory.
	s.records[key] = append([]byte{}, value...)
	return nil
}

func (s *Store) Delete(ctx context.Context, key uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return record.ErrStoreClosed
	}
	delete(s.records, key)
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, record.ErrStoreClosed
	}
	keys := make([]uint64, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return record.ErrStoreClosed
	}
	return s.healthErr
}

// SetHealthError makes Healthcheck fail with err until it is reset with nil.
func (s *Store) SetHealthError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthErr = err
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}
