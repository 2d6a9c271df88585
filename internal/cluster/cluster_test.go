package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBSCANGroupsDensePoints(t *testing.T) {
	// Two tight groups 5km apart, each with 4 points within 50m.
	xs := []float64{0, 10, 20, 30, 5000, 5010, 5020, 5030}
	ys := []float64{0, 0, 0, 0, 0, 0, 0, 0}

	labels := DBSCAN(xs, ys, 100, 3)

	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[0], labels[3])
	assert.Equal(t, labels[4], labels[5])
	assert.NotEqual(t, labels[0], labels[4])
	assert.NotEqual(t, NoiseLabel, labels[0])
}

func TestDBSCANMarksSparsePointsAsNoise(t *testing.T) {
	xs := []float64{0, 10000, 20000}
	ys := []float64{0, 0, 0}

	labels := DBSCAN(xs, ys, 50, 3)

	for _, l := range labels {
		assert.Equal(t, NoiseLabel, l)
	}
}

func TestKMeansSplitAssignsEveryPoint(t *testing.T) {
	xs := []float64{0, 1, 2, 1000, 1001, 1002}
	ys := []float64{0, 0, 0, 0, 0, 0}

	assignment, err := KMeansSplit(xs, ys, 2)
	require.NoError(t, err)
	require.Len(t, assignment, 6)

	left := assignment[0]
	for i := 0; i < 3; i++ {
		assert.Equal(t, left, assignment[i])
	}
	right := assignment[3]
	for i := 3; i < 6; i++ {
		assert.Equal(t, right, assignment[i])
	}
	assert.NotEqual(t, left, right)
}

func TestKMeansSplitRejectsNonPositiveK(t *testing.T) {
	_, err := KMeansSplit([]float64{0}, []float64{0}, 0)
	assert.Error(t, err)
}
