// Package testing provides a reusable conformance suite for record.Store
// implementations.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittoshard/pkg/store/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the record.Store contract, not implementation details,
// so it runs unchanged against memory, badger and S3.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &recordtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) record.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	// The suite closes it when the test ends.
	NewStore func(t *testing.T) record.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("PutGet", suite.testPutGet)
	t.Run("Put_Overwrite", suite.testPutOverwrite)
	t.Run("Put_EmptyValue", suite.testPutEmptyValue)
	t.Run("Delete", suite.testDelete)
	t.Run("Delete_Missing", suite.testDeleteMissing)
	t.Run("Keys_Ordered", suite.testKeysOrdered)
	t.Run("Keys_Empty", suite.testKeysEmpty)
	t.Run("Healthcheck", suite.testHealthcheck)
	t.Run("CancelledContext", suite.testCancelledContext)
	t.Run("ConcurrentWriters", suite.testConcurrentWriters)
}

func (suite *StoreTestSuite) newStore(t *testing.T) record.Store {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testContext() context.Context {
	return context.Background()
}

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.newStore(t)

	_, err := store.Get(testContext(), 404)
	assert.ErrorIs(t, err, record.ErrRecordNotFound)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 17, []byte("hello")))

	value, err := store.Get(ctx, 17)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), value)
}

func (suite *StoreTestSuite) testPutOverwrite(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 1, []byte("v1")))
	require.NoError(t, store.Put(ctx, 1, []byte("v2")))

	value, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func (suite *StoreTestSuite) testPutEmptyValue(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 5, []byte{}))

	value, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, value)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	require.NoError(t, store.Put(ctx, 8, []byte("x")))
	require.NoError(t, store.Delete(ctx, 8))

	_, err := store.Get(ctx, 8)
	assert.ErrorIs(t, err, record.ErrRecordNotFound)
}

func (suite *StoreTestSuite) testDeleteMissing(t *testing.T) {
	store := suite.newStore(t)
	assert.NoError(t, store.Delete(testContext(), 12345))
}

func (suite *StoreTestSuite) testKeysOrdered(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	for _, k := range []uint64{300, 9, 10, 1 << 40, 0} {
		require.NoError(t, store.Put(ctx, k, []byte(fmt.Sprint(k))))
	}

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 9, 10, 300, 1 << 40}, keys)
}

func (suite *StoreTestSuite) testKeysEmpty(t *testing.T) {
	store := suite.newStore(t)

	keys, err := store.Keys(testContext())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func (suite *StoreTestSuite) testHealthcheck(t *testing.T) {
	store := suite.newStore(t)
	assert.NoError(t, store.Healthcheck(testContext()))
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.newStore(t)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, 1, []byte("x")), context.Canceled)
	_, err := store.Get(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func (suite *StoreTestSuite) testConcurrentWriters(t *testing.T) {
	store := suite.newStore(t)
	ctx := testContext()

	const writers, perWriter = 4, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := uint64(w*perWriter + i)
				assert.NoError(t, store.Put(ctx, key, []byte{byte(w)}))
			}
		}(w)
	}
	wg.Wait()

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, writers*perWriter)
}
