package cluster

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// kmeansSeed and kmeansRestarts mirror sklearn.cluster.KMeans(n_init=10,
// random_state=42): a fixed seed plus 10 restarts, keeping the lowest-SSE
// partition, so splitting an oversized stop is reproducible across calls.
const (
	kmeansSeed     = 42
	kmeansRestarts = 10
)

// KMeansSplit partitions the given planar points into k clusters and
// returns, for each point, the index of the cluster it was assigned to.
// Used by the stop engine to split an oversized stop into smaller ones.
func KMeansSplit(xs, ys []float64, k int) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("cluster: k must be positive, got %d", k)
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("cluster: xs and ys length mismatch")
	}
	if k >= len(xs) {
		assignment := make([]int, len(xs))
		for i := range assignment {
			assignment[i] = i
		}
		return assignment, nil
	}

	obs := make(clusters.Observations, len(xs))
	for i := range xs {
		obs[i] = indexedObservation{coords: clusters.Coordinates{xs[i], ys[i]}, orig: i}
	}

	var bestAssignment []int
	bestSSE := math.Inf(1)

	for attempt := 0; attempt < kmeansRestarts; attempt++ {
		rand.Seed(kmeansSeed + int64(attempt))

		km, err := kmeans.NewWithOptions(0.01, nil)
		if err != nil {
			return nil, fmt.Errorf("cluster: init kmeans: %w", err)
		}
		result, err := km.Partition(obs, k)
		if err != nil {
			return nil, fmt.Errorf("cluster: partition: %w", err)
		}

		assignment := make([]int, len(xs))
		sse := 0.0
		for ci, c := range result {
			for _, o := range c.Observations {
				assignment[o.(indexedObservation).orig] = ci
				d := o.Coordinates().Distance(c.Center)
				sse += d * d
			}
		}
		if sse < bestSSE {
			bestSSE = sse
			bestAssignment = assignment
		}
	}

	return bestAssignment, nil
}

// indexedObservation wraps clusters.Coordinates with the point's
// original slice position, so cluster assignments can be mapped back to
// the caller's input order after partitioning.
type indexedObservation struct {
	coords clusters.Coordinates
	orig   int
}

func (o indexedObservation) Coordinates() clusters.Coordinates { return o.coords }

func (o indexedObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}
