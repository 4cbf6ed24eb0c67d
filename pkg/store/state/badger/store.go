// Package badger persists topology and trust records in BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittoshard/pkg/store/state"
)

// Config configures the BadgerDB state store.
type Config struct {
	// DBPath is the directory holding the BadgerDB files
	DBPath string `mapstructure:"db_path"`

	// InMemory runs badger without touching disk (tests)
	InMemory bool `mapstructure:"in_memory"`
}

// Store implements state.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger state store: db_path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Control data is tiny; keep the footprint small.
	opts = opts.WithLoggingLevel(badger.WARNING).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) LoadTopology(ctx context.Context) (*state.TopologyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t *state.TopologyRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyTopology())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return state.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			t, err = decodeTopology(val)
			return err
		})
	})
	if err != nil {
		return nil, wrap("load topology", err)
	}
	return t, nil
}

func (s *Store) SaveTopology(ctx context.Context, t *state.TopologyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bytes, err := encodeTopology(t)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyTopology(), bytes)
	})
	return wrap("save topology", err)
}

func (s *Store) LoadTrust(ctx context.Context) ([]state.TrustRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := []state.TrustRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTrust)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				r, err := decodeTrust(val)
				if err != nil {
					return err
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("load trust", err)
	}
	return records, nil
}

func (s *Store) SaveTrust(ctx context.Context, r state.TrustRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.URLHash == "" {
		return fmt.Errorf("save trust: url hash is empty")
	}

	bytes, err := encodeTrust(r)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyTrust(r.URLHash), bytes)
	})
	return wrap("save trust", err)
}

func (s *Store) DeleteTrust(ctx context.Context, urlHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyTrust(urlHash))
	})
	return wrap("delete trust", err)
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrNotFound):
		return err
	default:
		return fmt.Errorf("badger %s: %w", op, err)
	}
}
