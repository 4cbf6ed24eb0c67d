// Package badger provides a persistent record store backed by BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittoshard/pkg/store/record"
)

// Key layout
//
// Every record lives under a single namespace so the database can later host
// other data types without collisions:
//
//	Prefix  Key Format              Value
//	"r:"    r:<key as 8 bytes BE>   record bytes (opaque)
//
// Big-endian encoding makes badger's lexicographic iteration order equal to
// the numeric key order, so Keys needs no sort.
const recordPrefix = "r:"

func recordKey(key uint64) []byte {
	b := make([]byte, len(recordPrefix)+8)
	copy(b, recordPrefix)
	binary.BigEndian.PutUint64(b[len(recordPrefix):], key)
	return b
}

func decodeRecordKey(b []byte) (uint64, bool) {
	if len(b) != len(recordPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b[len(recordPrefix):]), true
}

// Config configures a BadgerDB record store.
type Config struct {
	// DBPath is the directory holding the BadgerDB files
	DBPath string `mapstructure:"db_path"`

	// InMemory runs badger without touching disk (tests)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`
}

// Store implements record.Store using BadgerDB.
//
// BadgerDB transactions provide the needed isolation, so the store holds no
// locks of its own.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the BadgerDB database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger record store: db_path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return record.ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key uint64, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(key), append([]byte{}, value...))
	})
	return s.wrap("put", key, err)
}

func (s *Store) Delete(ctx context.Context, key uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(key))
	})
	return s.wrap("delete", key, err)
}

func (s *Store) Keys(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if k, ok := decodeRecordKey(it.Item().Key()); ok {
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return nil, record.ErrStoreClosed
		}
		return nil, fmt.Errorf("failed to list badger records: %w", err)
	}
	return keys, nil
}

// Healthcheck runs an empty read transaction.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return record.ErrStoreClosed
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func (s *Store) wrap(op string, key uint64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, record.ErrRecordNotFound):
		return err
	case errors.Is(err, badger.ErrDBClosed):
		return record.ErrStoreClosed
	default:
		return fmt.Errorf("badger %s %d: %w", op, key, err)
	}
}
