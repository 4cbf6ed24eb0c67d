package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittoshard/pkg/shard"
)

func TestCreateRecordStore_Memory(t *testing.T) {
	ctx := context.Background()

	store, err := CreateRecordStore(ctx, "memory://alpha")
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, 7, []byte("seven")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get(ctx, 7)
	if err != nil || string(got) != "seven" {
		t.Fatalf("Get returned %q, %v", got, err)
	}
}

func TestCreateRecordStore_Badger(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "shard")

	store, err := CreateRecordStore(ctx, "badger://"+dir)
	if err != nil {
		t.Fatalf("Failed to create badger store: %v", err)
	}
	defer store.Close()

	if err := store.Healthcheck(ctx); err != nil {
		t.Fatalf("Healthcheck failed: %v", err)
	}
}

func TestCreateRecordStore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr string
	}{
		{name: "unknown scheme", dsn: "redis://cache", wantErr: "unknown backend"},
		{name: "memory without name", dsn: "memory://", wantErr: "requires a name"},
		{name: "s3 without region", dsn: "s3://bucket/prefix", wantErr: "region is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateRecordStore(context.Background(), tt.dsn)
			if err == nil {
				t.Fatalf("Expected error for %q", tt.dsn)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateShardHandles(t *testing.T) {
	ctx := context.Background()

	handles, err := CreateShardHandles(ctx, []ShardConfig{
		{Name: "a", DSN: "memory://a"},
		{Name: "b", DSN: "memory://b"},
	})
	if err != nil {
		t.Fatalf("Failed to create handles: %v", err)
	}
	defer CloseHandles(handles)

	if len(handles) != 2 {
		t.Fatalf("Expected 2 handles, got %d", len(handles))
	}
	if handles[1].Name != "b" || handles[1].DSN != "memory://b" {
		t.Errorf("Unexpected handle: %+v", handles[1])
	}
	if !handles[0].Available() {
		t.Error("New handles should be available")
	}

	if _, err := CreateShardHandles(ctx, []ShardConfig{
		{Name: "a", DSN: "memory://a"},
		{Name: "bad", DSN: "nope://x"},
	}); err == nil {
		t.Fatal("Expected error for invalid shard dsn")
	}

	if _, err := CreateShardHandles(ctx, nil); err == nil {
		t.Fatal("Expected error for empty shard list")
	}
}

func TestCreateMapper(t *testing.T) {
	for _, policy := range []string{shard.PolicyModulo, shard.PolicyConsistentHash, shard.PolicyJump} {
		t.Run(policy, func(t *testing.T) {
			m, err := CreateMapper(&ShardingConfig{Policy: policy, VirtualNodes: 16})
			if err != nil {
				t.Fatalf("Failed to create mapper: %v", err)
			}
			idx, err := m.ShardForKey(shard.Key(42), 3)
			if err != nil {
				t.Fatalf("ShardFor failed: %v", err)
			}
			if idx < 0 || idx >= 3 {
				t.Errorf("Index %d out of range", idx)
			}
		})
	}

	if _, err := CreateMapper(&ShardingConfig{Policy: "random"}); err == nil {
		t.Fatal("Expected error for unknown policy")
	}
}

func TestCreateStateStore(t *testing.T) {
	ctx := context.Background()

	mem, err := CreateStateStore(ctx, &StateConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory state store: %v", err)
	}
	mem.Close()

	bdg, err := CreateStateStore(ctx, &StateConfig{
		Type:   "badger",
		Badger: map[string]any{"db_path": filepath.Join(t.TempDir(), "state")},
	})
	if err != nil {
		t.Fatalf("Failed to create badger state store: %v", err)
	}
	bdg.Close()

	if _, err := CreateStateStore(ctx, &StateConfig{Type: "etcd"}); err == nil {
		t.Fatal("Expected error for unknown state type")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = false

	result := InitializeMetrics(cfg)
	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.Router == nil || result.Federation == nil {
		t.Fatal("Expected noop metrics when disabled")
	}
	result.Router.RecordRoute(0, 1, "ok")
	result.Federation.RecordVerification("ok")
}
