package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/lobstream/internal/models"
)

func newTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSnapshotCache(client, 10*time.Second), mr
}

func sampleSnapshot() models.EnrichedSnapshot {
	return models.EnrichedSnapshot{
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		MidPrice:        100.25,
		Spread:          0.02,
		OBI:             0.1,
		DirectionalProb: 55,
		RegimeLabel:     "Calm",
		Anomalies:       []models.AnomalyEvent{},
		LiquidityGaps:   []models.GapEvent{},
	}
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.GetLatest(ctx, "s1")
	assert.False(t, ok)

	require.NoError(t, c.SetLatest(ctx, "s1", sampleSnapshot()))

	got, ok := c.GetLatest(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 100.25, got.MidPrice)
	assert.Equal(t, "Calm", got.RegimeLabel)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestSnapshotCacheIsolatesSessions(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	snap := sampleSnapshot()
	require.NoError(t, c.SetLatest(ctx, "a", snap))

	_, ok := c.GetLatest(ctx, "b")
	assert.False(t, ok)
}

func TestSnapshotCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetLatest(ctx, "s1", sampleSnapshot()))
	mr.FastForward(11 * time.Second)

	_, ok := c.GetLatest(ctx, "s1")
	assert.False(t, ok, "entries expire with the configured TTL")
}

func TestSnapshotCacheDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetLatest(ctx, "s1", sampleSnapshot()))
	require.NoError(t, c.Delete(ctx, "s1"))

	_, ok := c.GetLatest(ctx, "s1")
	assert.False(t, ok)
}

func TestSnapshotCacheNilClient(t *testing.T) {
	c := NewSnapshotCache(nil, time.Second)
	ctx := context.Background()

	assert.NoError(t, c.SetLatest(ctx, "s1", sampleSnapshot()))
	_, ok := c.GetLatest(ctx, "s1")
	assert.False(t, ok)
	assert.NoError(t, c.Delete(ctx, "s1"))
}
