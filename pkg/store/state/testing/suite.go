// Package testing provides a conformance suite for state.Store implementations.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittoshard/pkg/store/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the state.Store contract.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store. The suite closes it.
	NewStore func(t *testing.T) state.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Topology_NotFound", suite.testTopologyNotFound)
	t.Run("Topology_SaveLoad", suite.testTopologySaveLoad)
	t.Run("Topology_Replace", suite.testTopologyReplace)
	t.Run("Trust_Empty", suite.testTrustEmpty)
	t.Run("Trust_SaveLoadOrdered", suite.testTrustSaveLoad)
	t.Run("Trust_Delete", suite.testTrustDelete)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) newStore(t *testing.T) state.Store {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleTopology() *state.TopologyRecord {
	return &state.TopologyRecord{
		OperationID: "op-1",
		Current: &state.GenerationRecord{
			Generation: 2,
			Shards: []state.ShardRecord{
				{Index: 0, Name: "shard-0", DSN: "memory://a", State: "ACTIVE"},
				{Index: 1, Name: "shard-1", DSN: "memory://b", State: "ACTIVE"},
				{Index: 2, Name: "shard-2", DSN: "memory://c", State: "ACTIVE"},
			},
		},
		Previous: &state.GenerationRecord{
			Generation: 1,
			Shards: []state.ShardRecord{
				{Index: 0, Name: "shard-0", DSN: "memory://a", State: "DRAINING", Remaining: 3, Checkpointed: true},
				{Index: 1, Name: "shard-1", DSN: "memory://b", State: "ACTIVE"},
			},
		},
		SavedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (suite *StoreTestSuite) testTopologyNotFound(t *testing.T) {
	store := suite.newStore(t)

	_, err := store.LoadTopology(context.Background())
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func (suite *StoreTestSuite) testTopologySaveLoad(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	want := sampleTopology()
	require.NoError(t, store.SaveTopology(ctx, want))

	got, err := store.LoadTopology(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.OperationID, got.OperationID)
	assert.Equal(t, want.Current, got.Current)
	assert.Equal(t, want.Previous, got.Previous)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
}

func (suite *StoreTestSuite) testTopologyReplace(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.SaveTopology(ctx, sampleTopology()))

	closed := &state.TopologyRecord{
		Current: &state.GenerationRecord{
			Generation: 2,
			Shards:     []state.ShardRecord{{Index: 0, Name: "only", DSN: "memory://x", State: "ACTIVE"}},
		},
	}
	require.NoError(t, store.SaveTopology(ctx, closed))

	got, err := store.LoadTopology(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.OperationID)
	assert.Nil(t, got.Previous)
	require.Len(t, got.Current.Shards, 1)
	assert.Equal(t, "only", got.Current.Shards[0].Name)
}

func (suite *StoreTestSuite) testTrustEmpty(t *testing.T) {
	store := suite.newStore(t)

	records, err := store.LoadTrust(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (suite *StoreTestSuite) testTrustSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	added := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.SaveTrust(ctx, state.TrustRecord{URLHash: "bbb", Secret: "2", State: "ACTIVE", AddedAt: added}))
	require.NoError(t, store.SaveTrust(ctx, state.TrustRecord{URLHash: "aaa", URL: "a.example.com", Secret: "1", State: "ACTIVE", AddedAt: added}))

	// Saving again replaces the record.
	revoked := added.Add(time.Hour)
	require.NoError(t, store.SaveTrust(ctx, state.TrustRecord{URLHash: "bbb", Secret: "2", State: "REVOKED", AddedAt: added, RevokedAt: revoked}))

	records, err := store.LoadTrust(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "aaa", records[0].URLHash)
	assert.Equal(t, "a.example.com", records[0].URL)
	assert.True(t, records[0].RevokedAt.IsZero())

	assert.Equal(t, "bbb", records[1].URLHash)
	assert.Equal(t, "REVOKED", records[1].State)
	assert.True(t, revoked.Equal(records[1].RevokedAt))
	assert.True(t, added.Equal(records[1].AddedAt))
}

func (suite *StoreTestSuite) testTrustDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.SaveTrust(ctx, state.TrustRecord{URLHash: "aaa", Secret: "1", State: "ACTIVE"}))
	require.NoError(t, store.DeleteTrust(ctx, "aaa"))
	require.NoError(t, store.DeleteTrust(ctx, "never-saved"))

	records, err := store.LoadTrust(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.LoadTopology(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.SaveTopology(ctx, sampleTopology()), context.Canceled)
	_, err = store.LoadTrust(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.SaveTrust(ctx, state.TrustRecord{URLHash: "x"}), context.Canceled)
	assert.ErrorIs(t, store.DeleteTrust(ctx, "x"), context.Canceled)
}
