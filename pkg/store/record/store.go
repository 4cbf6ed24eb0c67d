// Package record defines the storage backend behind a single shard.
//
// A shard's connection handle wraps one Store. Records are opaque byte values
// addressed by the numeric shard key; the router decides which Store a key
// lives in, the Store only persists it.
package record

import (
	"context"
	"errors"
)

var (
	// ErrRecordNotFound is returned by Get when the key has no record
	ErrRecordNotFound = errors.New("record not found")

	// ErrStoreClosed is returned by every operation after Close
	ErrStoreClosed = errors.New("record store closed")
)

// Store persists the records owned by one shard.
//
// All methods are safe for concurrent use and honor context cancellation.
// Delete is idempotent: deleting a missing key is not an error.
type Store interface {
	// Get returns the record for key or ErrRecordNotFound.
	Get(ctx context.Context, key uint64) ([]byte, error)

	// Put creates or replaces the record for key.
	Put(ctx context.Context, key uint64, value []byte) error

	// Delete removes the record for key.
	Delete(ctx context.Context, key uint64) error

	// Keys returns every key held by the store in ascending order.
	Keys(ctx context.Context) ([]uint64, error)

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases the backend. The store must not be used afterwards.
	Close() error
}
