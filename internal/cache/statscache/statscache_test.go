package statscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/PaxBox/internal/cache/rediscache"
	"github.com/BearBump/PaxBox/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	return New(rediscache.New(mr.Addr()), time.Minute), mr
}

func TestCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "CA984_25JUL25_LAX")
	require.NoError(t, err)
	require.False(t, ok)

	stats := &models.FlightStats{FlightKey: "CA984_25JUL25_LAX", TotalRecords: 42, MissingCount: 3}
	require.NoError(t, c.Set(ctx, stats))

	got, ok, err := c.Get(ctx, "CA984_25JUL25_LAX")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, got.TotalRecords)
	require.Equal(t, 3, got.MissingCount)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &models.FlightStats{FlightKey: "F1"}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "F1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &models.FlightStats{FlightKey: "F1"}))
	require.NoError(t, c.Set(ctx, &models.FlightStats{FlightKey: "F2"}))

	require.NoError(t, c.Invalidate(ctx, "F1"))
	_, ok, err := c.Get(ctx, "F1")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Get(ctx, "F2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.InvalidateAll(ctx))
	_, ok, err = c.Get(ctx, "F2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_UndecodableEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("paxbox:stats:F1", "not json"))

	_, ok, err := c.Get(context.Background(), "F1")
	require.NoError(t, err)
	require.False(t, ok)
}
