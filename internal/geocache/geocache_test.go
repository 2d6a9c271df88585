package geocache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commuteplanner/internal/geo"
)

type countingAdapter struct {
	calls int
	inner geo.GeoAdapter
}

func (c *countingAdapter) Cost(ctx context.Context, a, b geo.Point) (geo.TravelCost, error) {
	c.calls++
	return c.inner.Cost(ctx, a, b)
}

func (c *countingAdapter) CostMatrix(ctx context.Context, origins, dests []geo.Point) ([][]geo.TravelCost, error) {
	c.calls += len(origins) * len(dests)
	return c.inner.CostMatrix(ctx, origins, dests)
}

func newTestCache(t *testing.T, delegate geo.GeoAdapter) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geocache.db")
	c, err := Open(path, delegate)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCostCachesSecondLookup(t *testing.T) {
	delegate := &countingAdapter{inner: geo.NewHaversineGeoAdapter(30)}
	cache := newTestCache(t, delegate)

	a := geo.Point{Lat: 40.0, Lng: -3.0}
	b := geo.Point{Lat: 40.01, Lng: -3.01}

	first, err := cache.Cost(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, delegate.calls)

	second, err := cache.Cost(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, delegate.calls, "second lookup should hit the cache, not the delegate")
	assert.Equal(t, first, second)
}

func TestCostMatrixOnlyDelegatesMisses(t *testing.T) {
	delegate := &countingAdapter{inner: geo.NewHaversineGeoAdapter(30)}
	cache := newTestCache(t, delegate)

	origins := []geo.Point{{Lat: 40.0, Lng: -3.0}, {Lat: 40.02, Lng: -3.02}}
	dests := []geo.Point{{Lat: 40.01, Lng: -3.01}}

	first, err := cache.CostMatrix(context.Background(), origins, dests)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 2, delegate.calls)

	second, err := cache.CostMatrix(context.Background(), origins, dests)
	require.NoError(t, err)
	assert.Equal(t, 2, delegate.calls, "fully-cached matrix should not call the delegate again")
	assert.Equal(t, first, second)
}

func TestCostMatrixDelegatesOnlyNewPair(t *testing.T) {
	delegate := &countingAdapter{inner: geo.NewHaversineGeoAdapter(30)}
	cache := newTestCache(t, delegate)

	o1 := geo.Point{Lat: 40.0, Lng: -3.0}
	o2 := geo.Point{Lat: 41.0, Lng: -4.0}
	d := geo.Point{Lat: 40.5, Lng: -3.5}

	_, err := cache.CostMatrix(context.Background(), []geo.Point{o1}, []geo.Point{d})
	require.NoError(t, err)
	assert.Equal(t, 1, delegate.calls)

	_, err = cache.CostMatrix(context.Background(), []geo.Point{o1, o2}, []geo.Point{d})
	require.NoError(t, err)
	assert.Equal(t, 2, delegate.calls, "only the new origin should reach the delegate")
}
