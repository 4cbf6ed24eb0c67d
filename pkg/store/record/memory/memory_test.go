package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittoshard/pkg/store/record"
	recordtesting "github.com/marmos91/dittoshard/pkg/store/record/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &recordtesting.StoreTestSuite{
		NewStore: func(t *testing.T) record.Store {
			return New("test")
		},
	}
	suite.Run(t)
}

func TestMemoryStore_ValuesDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New("alias")

	value := []byte("abc")
	require.NoError(t, s.Put(ctx, 1, value))
	value[0] = 'z'

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStore_HealthError(t *testing.T) {
	ctx := context.Background()
	s := New("flaky")

	outage := errors.New("connection refused")
	s.SetHealthError(outage)
	assert.ErrorIs(t, s.Healthcheck(ctx), outage)

	s.SetHealthError(nil)
	assert.NoError(t, s.Healthcheck(ctx))
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := New("closed")
	require.NoError(t, s.Put(ctx, 1, []byte("x")))
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, 1)
	assert.ErrorIs(t, err, record.ErrStoreClosed)
	assert.ErrorIs(t, s.Put(ctx, 2, nil), record.ErrStoreClosed)
	assert.ErrorIs(t, s.Healthcheck(ctx), record.ErrStoreClosed)
	assert.Equal(t, 0, s.Len())
}
