package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/shard"
)

// CreateShardHandle opens the record store of one shard and wraps it in a
// connection handle.
func CreateShardHandle(ctx context.Context, name, dsn string) (*shard.Handle, error) {
	store, err := CreateRecordStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("shard %q: %w", name, err)
	}
	return shard.NewHandle(name, dsn, store), nil
}

// CreateShardHandles opens every configured shard, in index order.
//
// If any shard fails to open, the stores opened so far are closed and the
// error is returned.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	handles, err := config.CreateShardHandles(ctx, cfg.Sharding.Shards)
//	if err != nil {
//	    log.Fatalf("Failed to open shards: %v", err)
//	}
//	reg, _ := registry.New(handles)
func CreateShardHandles(ctx context.Context, shards []ShardConfig) ([]*shard.Handle, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("no shards configured")
	}

	handles := make([]*shard.Handle, 0, len(shards))
	for i, s := range shards {
		h, err := CreateShardHandle(ctx, s.Name, s.DSN)
		if err != nil {
			CloseHandles(handles)
			return nil, fmt.Errorf("failed to open shards[%d]: %w", i, err)
		}
		handles = append(handles, h)
		logger.Debug("Opened shard %d: %s (%s)", i, s.Name, s.DSN)
	}

	return handles, nil
}

// CloseHandles closes the record store of every handle, logging failures.
func CloseHandles(handles []*shard.Handle) {
	for _, h := range handles {
		if err := h.Store.Close(); err != nil {
			logger.Warn("Failed to close shard %q: %v", h.Name, err)
		}
	}
}
