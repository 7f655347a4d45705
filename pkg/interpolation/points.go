package interpolation

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Point3D is a physical point that can be stored in a k-d tree.
type Point3D struct {
	X, Y, Z float64
}

func (p Point3D) axis(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

// Compare returns the signed offset of p from c along d.
func (p Point3D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.axis(d) - c.(Point3D).axis(d)
}

func (p Point3D) Dims() int { return 3 }

// Distance is squared, as kdtree expects.
func (p Point3D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point3D)
	return (p.X-q.X)*(p.X-q.X) + (p.Y-q.Y)*(p.Y-q.Y) + (p.Z-q.Z)*(p.Z-q.Z)
}

// Points3D adapts a point slice to kdtree.Interface.
type Points3D []Point3D

func (p Points3D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points3D) Len() int                              { return len(p) }
func (p Points3D) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p Points3D) Pivot(d kdtree.Dim) int {
	s := axisSorter{pts: p, dim: d}
	return kdtree.Partition(s, kdtree.MedianOfMedians(s))
}

// axisSorter orders points along one axis for partitioning.
type axisSorter struct {
	pts Points3D
	dim kdtree.Dim
}

func (s axisSorter) Len() int           { return len(s.pts) }
func (s axisSorter) Less(i, j int) bool { return s.pts[i].axis(s.dim) < s.pts[j].axis(s.dim) }
func (s axisSorter) Swap(i, j int)      { s.pts[i], s.pts[j] = s.pts[j], s.pts[i] }

func (s axisSorter) Slice(start, end int) kdtree.SortSlicer {
	return axisSorter{pts: s.pts[start:end], dim: s.dim}
}

// PointIndex answers nearest-point queries over a fixed point set. Queries
// only read the tree and may run from several goroutines.
type PointIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewPointIndex builds a k-d tree over pts. The slice is reordered.
func NewPointIndex(pts []Point3D) *PointIndex {
	if len(pts) == 0 {
		return &PointIndex{}
	}
	return &PointIndex{tree: kdtree.New(Points3D(pts), false), n: len(pts)}
}

// Len returns the number of indexed points.
func (ix *PointIndex) Len() int { return ix.n }

// NearestDistance returns the Euclidean distance from q to the closest
// indexed point, or +Inf for an empty index.
func (ix *PointIndex) NearestDistance(q Point3D) float64 {
	if ix.tree == nil {
		return math.Inf(1)
	}
	_, d2 := ix.tree.Nearest(q)
	return math.Sqrt(d2)
}
