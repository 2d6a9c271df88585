// Package spatialindex wraps gonum's kd-tree over projected planar
// points so the clustering and stop-opening engines can run radius and
// nearest-neighbor queries without a linear scan.
package spatialindex

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a 2D point carrying the caller's original slice index,
// so query results can be mapped back to domain entities.
type indexedPoint struct {
	x, y  float64
	orig  int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		panic("spatialindex: invalid dimension")
	}
}

func (p indexedPoint) Dims() int { return 2 }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

type indexedPoints []indexedPoint

func (p indexedPoints) Len() int                   { return len(p) }
func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, dim: d}.pivot()
}

// plane sorts indexedPoints along a single dimension, used by Pivot to
// find the median-splitting index gonum's tree construction needs.
type plane struct {
	indexedPoints
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.dim {
	case 0:
		return p.indexedPoints[i].x < p.indexedPoints[j].x
	case 1:
		return p.indexedPoints[i].y < p.indexedPoints[j].y
	default:
		panic("spatialindex: invalid dimension")
	}
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

func (p plane) pivot() int {
	sort.Sort(p)
	return len(p.indexedPoints) / 2
}

// Index is a static spatial index over a fixed set of 2D points, queried
// by the original slice index each point was built with.
type Index struct {
	tree *kdtree.Tree
}

// New builds a spatial index over the given (x, y) points. The index
// returned by query methods refers back to the position of each point in
// xs/ys.
func New(xs, ys []float64) *Index {
	pts := make(indexedPoints, len(xs))
	for i := range xs {
		pts[i] = indexedPoint{x: xs[i], y: ys[i], orig: i}
	}
	return &Index{tree: kdtree.New(pts, false)}
}

// RadiusSearch returns the original indices of every point within radius
// meters of (x, y), excluding points beyond the radius. The query point
// itself is included if it is present in the index.
func (idx *Index) RadiusSearch(x, y, radius float64) []int {
	keeper := kdtree.NewDistKeeper(radius * radius)
	idx.tree.NearestSet(keeper, indexedPoint{x: x, y: y})
	out := make([]int, 0, keeper.Len())
	for _, cd := range keeper.Heap {
		out = append(out, cd.Comparable.(indexedPoint).orig)
	}
	return out
}

// KNN returns the original indices of the k nearest points to (x, y),
// nearest first.
func (idx *Index) KNN(x, y float64, k int) []int {
	keeper := kdtree.NewNKeeper(k)
	idx.tree.NearestSet(keeper, indexedPoint{x: x, y: y})
	items := make([]kdtree.ComparableDist, 0, keeper.Len())
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		items = append(items, cd)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Dist < items[j].Dist })
	out := make([]int, len(items))
	for i, cd := range items {
		out[i] = cd.Comparable.(indexedPoint).orig
	}
	return out
}
