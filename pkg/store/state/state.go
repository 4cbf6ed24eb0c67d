// Package state persists the service's own control data: the shard topology
// and the federation trust records.
//
// Values are plain DTOs so the persistence layer does not depend on the
// registry or trust packages; the admin service converts between the two.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested record has never been saved.
var ErrNotFound = errors.New("state record not found")

// ShardRecord is the persisted form of one shard.
type ShardRecord struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	DSN          string `json:"dsn"`
	State        string `json:"state"`
	Remaining    uint64 `json:"remaining,omitempty"`
	Checkpointed bool   `json:"checkpointed,omitempty"`
}

// GenerationRecord is the persisted form of one shard map generation.
type GenerationRecord struct {
	Generation uint64        `json:"generation"`
	Shards     []ShardRecord `json:"shards"`
}

// TopologyRecord is the persisted shard topology.
type TopologyRecord struct {
	// OperationID identifies the open resharding operation, empty otherwise
	OperationID string `json:"operation_id,omitempty"`

	Current  *GenerationRecord `json:"current"`
	Previous *GenerationRecord `json:"previous,omitempty"`
	SavedAt  time.Time         `json:"saved_at"`
}

// TrustRecord is the persisted form of a trusted server.
type TrustRecord struct {
	URLHash   string    `json:"url_hash"`
	URL       string    `json:"url,omitempty"`
	Secret    string    `json:"secret"`
	State     string    `json:"state"`
	AddedAt   time.Time `json:"added_at"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`
}

// Store persists topology and trust records.
//
// Implementations must be safe for concurrent use. Every method honours
// context cancellation.
type Store interface {
	// LoadTopology returns the saved topology or ErrNotFound.
	LoadTopology(ctx context.Context) (*TopologyRecord, error)

	// SaveTopology replaces the saved topology.
	SaveTopology(ctx context.Context, t *TopologyRecord) error

	// LoadTrust returns every saved trust record ordered by URL hash.
	LoadTrust(ctx context.Context) ([]TrustRecord, error)

	// SaveTrust inserts or replaces the record keyed by r.URLHash.
	SaveTrust(ctx context.Context, r TrustRecord) error

	// DeleteTrust removes the record for urlHash. Deleting a missing record
	// is not an error.
	DeleteTrust(ctx context.Context, urlHash string) error

	Close() error
}
