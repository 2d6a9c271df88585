package spatialindex

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRadiusSearchFindsNearbyPoints(t *testing.T) {
	xs := []float64{0, 10, 1000, 20}
	ys := []float64{0, 0, 0, 0}
	idx := New(xs, ys)

	got := idx.RadiusSearch(0, 0, 25)
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 3}, got)
}

func TestRadiusSearchOnlySelfWhenNothingNearby(t *testing.T) {
	xs := []float64{0, 5000}
	ys := []float64{0, 0}
	idx := New(xs, ys)

	got := idx.RadiusSearch(0, 0, 10)
	assert.Equal(t, []int{0}, got)
}

func TestKNNReturnsNearestFirst(t *testing.T) {
	xs := []float64{100, 0, 50}
	ys := []float64{0, 0, 0}
	idx := New(xs, ys)

	got := idx.KNN(0, 0, 2)
	assert.Equal(t, []int{1, 2}, got)
}
