package cluster

import "commuteplanner/internal/spatialindex"

// NoiseLabel marks a point DBSCAN could not assign to any cluster.
const NoiseLabel = -1

// DBSCAN runs density-based clustering over planar points, returning a
// cluster label per point (NoiseLabel for unclustered points). Cluster
// labels are assigned in the order clusters are discovered while
// scanning points left to right, so results are deterministic for a
// fixed input order.
func DBSCAN(xs, ys []float64, epsMeters float64, minSamples int) []int {
	n := len(xs)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}
	if n == 0 {
		return labels
	}

	idx := spatialindex.New(xs, ys)
	visited := make([]bool, n)
	nextLabel := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		neighbors := idx.RadiusSearch(xs[i], ys[i], epsMeters)
		if len(neighbors) < minSamples {
			continue
		}

		label := nextLabel
		nextLabel++
		labels[i] = label

		queue := append([]int{}, neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if !visited[j] {
				visited[j] = true
				jNeighbors := idx.RadiusSearch(xs[j], ys[j], epsMeters)
				if len(jNeighbors) >= minSamples {
					queue = append(queue, jNeighbors...)
				}
			}
			if labels[j] == NoiseLabel {
				labels[j] = label
			}
		}
	}
	return labels
}
