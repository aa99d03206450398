package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moniteur/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()

	store := NewSQLiteStore(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, store.Init(), "Init should not return an error")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Init(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "metrics_init.db"))
	err := store.Init()
	assert.NoError(t, err, "Init should not return an error")
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_InitWithoutPath(t *testing.T) {
	store := NewSQLiteStore("")
	assert.Error(t, store.Init())
}

func TestSQLiteStore_Write(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	point := domain.DataPoint{AssetID: "btc", Timestamp: time.Now().UnixMilli(), Value: 42000.5}
	err := store.Write(ctx, point)
	assert.NoError(t, err, "Write should not return an error")

	retrieved, err := store.Query(ctx, "btc", point.Timestamp, point.Timestamp, 0)
	assert.NoError(t, err)
	assert.Len(t, retrieved, 1, "Should find the stored point")
	assert.Equal(t, point, retrieved[0], "Retrieved point should match stored point")
}

func TestSQLiteStore_WriteOverwritesSameTimestamp(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: 1000, Value: 10}))
	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: 1000, Value: 20}))

	retrieved, err := store.Query(ctx, "btc", 0, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.DataPoint{{AssetID: "btc", Timestamp: 1000, Value: 20}}, retrieved)
}

func TestSQLiteStore_Query(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	stored := []domain.DataPoint{
		{AssetID: "btc", Timestamp: now - 50, Value: 10.0},
		{AssetID: "btc", Timestamp: now - 40, Value: 20.0},
		{AssetID: "btc", Timestamp: now - 30, Value: 30.0},
		{AssetID: "btc", Timestamp: now - 20, Value: 40.0},
		{AssetID: "btc", Timestamp: now - 10, Value: 50.0},
		{AssetID: "btc", Timestamp: now, Value: 60.0},
	}
	// written out of order; reads must still be ascending
	for i := len(stored) - 1; i >= 0; i-- {
		require.NoError(t, store.Write(ctx, stored[i]))
	}
	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "eth", Timestamp: now - 30, Value: 1.0}))

	// case 1: Full range
	retrieved, err := store.Query(ctx, "btc", now-100, now+100, 0)
	assert.NoError(t, err, "Query should not return an error for full range")
	assert.Equal(t, stored, retrieved, "Retrieved points should match stored points for full range")

	// case 2: Partial range, bounds inclusive
	retrieved, err = store.Query(ctx, "btc", now-40, now-10, 0)
	assert.NoError(t, err)
	assert.Equal(t, stored[1:5], retrieved)

	// case 3: No points in range
	retrieved, err = store.Query(ctx, "btc", now+10, now+20, 0)
	assert.NoError(t, err)
	assert.Len(t, retrieved, 0, "Should retrieve 0 points for empty range")

	// case 4: Unknown asset
	retrieved, err = store.Query(ctx, "doge", now-100, now+100, 0)
	assert.NoError(t, err)
	assert.Len(t, retrieved, 0)

	// case 5: Context cancellation during query
	ctxWithCancel, cancel := context.WithCancel(context.Background())
	cancel()
	retrieved, err = store.Query(ctxWithCancel, "btc", now-100, now+100, 0)
	assert.Error(t, err, "Query should return an error when context is cancelled")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, retrieved, 0, "Should retrieve 0 points on cancellation")

	// case 6: Inverted range
	_, err = store.Query(ctx, "btc", now, now-100, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	// case 7: maxPoints downsamples across the whole range
	retrieved, err = store.Query(ctx, "btc", now-100, now+100, 3)
	assert.NoError(t, err)
	assert.Len(t, retrieved, 3)
	assert.Equal(t, stored[0], retrieved[0], "downsampled series starts at the first point")
	assert.Equal(t, stored[5], retrieved[2], "downsampled series ends at the last point")

	// case 8: maxPoints larger than the series
	retrieved, err = store.Query(ctx, "btc", now-100, now+100, 100)
	assert.NoError(t, err)
	assert.Equal(t, stored, retrieved)
}

func TestSQLiteStore_ConcurrentWrites(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for a := 0; a < 4; a++ {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(asset string, ts int64) {
				defer wg.Done()
				assert.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: asset, Timestamp: ts, Value: float64(ts)}))
			}(fmt.Sprintf("asset-%d", a), int64(i))
		}
	}
	wg.Wait()

	for a := 0; a < 4; a++ {
		points, err := store.Query(ctx, fmt.Sprintf("asset-%d", a), 0, 100, 0)
		require.NoError(t, err)
		assert.Len(t, points, 25, "no writes may be lost")
	}
}

func TestSQLiteStore_RetentionMaxCount(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: ts * 1000, Value: float64(ts)}))
	}
	for ts := int64(1); ts <= 2; ts++ {
		require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "eth", Timestamp: ts * 1000, Value: float64(ts)}))
	}

	removed, err := store.RetentionSweep(ctx, domain.Retention{MaxCount: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	btc, err := store.Query(ctx, "btc", 0, 10000, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.DataPoint{
		{AssetID: "btc", Timestamp: 4000, Value: 4},
		{AssetID: "btc", Timestamp: 5000, Value: 5},
	}, btc)

	eth, err := store.Query(ctx, "eth", 0, 10000, 0)
	require.NoError(t, err)
	assert.Len(t, eth, 2, "series at or under the limit are untouched")
}

func TestSQLiteStore_RetentionHorizon(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old := now.Add(-48 * time.Hour).UnixMilli()
	recent := now.Add(-time.Hour).UnixMilli()
	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: old, Value: 1}))
	require.NoError(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: recent, Value: 2}))

	removed, err := store.RetentionSweep(ctx, domain.Retention{Horizon: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	points, err := store.Query(ctx, "btc", 0, now.UnixMilli(), 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.DataPoint{{AssetID: "btc", Timestamp: recent, Value: 2}}, points)
}

func TestSQLiteStore_Closed(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "metrics_closed.db"))
	require.NoError(t, store.Init())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Write(ctx, domain.DataPoint{AssetID: "btc", Timestamp: 1, Value: 1}), domain.ErrStoreClosed)
	_, err := store.Query(ctx, "btc", 0, 1, 0)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = store.RetentionSweep(ctx, domain.Retention{MaxCount: 1})
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	assert.ErrorIs(t, store.Close(), domain.ErrStoreClosed)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := NewSQLStore(BackendPostgres, "")
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	my := NewSQLStore(BackendMySQL, "")
	assert.Equal(t, "SELECT 1 WHERE a = ?", my.rebind("SELECT 1 WHERE a = ?"))
	assert.Contains(t, my.upsertSQL(), "ON DUPLICATE KEY UPDATE")
}
