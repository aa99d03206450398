package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moniteur/internal/domain"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()

	store := NewBadgerStore(t.TempDir())
	require.NoError(t, store.Init())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore_WriteAndQuery(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	points := []domain.DataPoint{
		{AssetID: "btc", Timestamp: -500, Value: -1},
		{AssetID: "btc", Timestamp: 1000, Value: 10},
		{AssetID: "btc", Timestamp: 2000, Value: 20},
		{AssetID: "btc", Timestamp: 3000, Value: 30},
	}
	for i := len(points) - 1; i >= 0; i-- {
		require.NoError(t, store.Write(ctx, points[i]))
	}
	// neighbouring asset whose id extends "btc"
	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc2", Timestamp: 1500, Value: 99}))

	got, err := store.Query(ctx, "btc", -1000, 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, points, got)

	got, err = store.Query(ctx, "btc", 1000, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, points[1:3], got)

	got, err = store.Query(ctx, "btc2", 0, 5000, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = store.Query(ctx, "btc", 10, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestBadgerStore_Overwrite(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: 1000, Value: 10}))
	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: 1000, Value: 20}))

	got, err := store.Query(ctx, "btc", 0, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.DataPoint{{AssetID: "btc", Timestamp: 1000, Value: 20}}, got)
}

func TestBadgerStore_Downsample(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	for i := int64(0); i < 100; i++ {
		require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "eth", Timestamp: i, Value: float64(i)}))
	}

	got, err := store.Query(ctx, "eth", 0, 99, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, int64(0), got[0].Timestamp)
	assert.Equal(t, int64(99), got[9].Timestamp)
}

func TestBadgerStore_Retention(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: now.Add(-time.Duration(i) * time.Hour).UnixMilli(), Value: float64(i)}))
		require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "eth", Timestamp: now.Add(-time.Duration(i) * time.Hour).UnixMilli(), Value: float64(i)}))
	}

	removed, err := store.RetentionSweep(ctx, domain.Retention{MaxCount: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, removed)

	btc, err := store.Query(ctx, "btc", 0, now.UnixMilli(), 0)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, 2.0, btc[0].Value)
	assert.Equal(t, 1.0, btc[1].Value)

	removed, err = store.RetentionSweep(ctx, domain.Retention{Horizon: 90 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	eth, err := store.Query(ctx, "eth", 0, now.UnixMilli(), 0)
	require.NoError(t, err)
	assert.Len(t, eth, 1)
}

func TestBadgerStore_Closed(t *testing.T) {
	store := NewBadgerStore(":memory:")
	require.NoError(t, store.Init())
	require.NoError(t, store.Close())

	err := store.Write(context.Background(), domain.DataPoint{AssetID: "btc", Timestamp: 1, Value: 1})
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	assert.ErrorIs(t, store.Close(), domain.ErrStoreClosed)
}

func TestBadgerStore_NotInitialized(t *testing.T) {
	store := NewBadgerStore(":memory:")
	err := store.Write(context.Background(), domain.DataPoint{AssetID: "btc", Timestamp: 1, Value: 1})
	assert.ErrorIs(t, err, domain.ErrStore)
}
