package imaging

import (
	"errors"
	"fmt"
	"math"

	"volreg/internal/parallel"
	"volreg/pkg/interpolation"
	"volreg/pkg/volume"
)

// ErrNoBoundary is returned by SignedDistance when the mask is empty, full,
// or otherwise has no foreground voxel touching the background.
var ErrNoBoundary = errors.New("imaging: mask has no boundary")

// boundaryVoxels returns the flat indices of foreground voxels with at least
// one in-image face neighbour in the background.
func boundaryVoxels(mask *volume.Image) []int {
	g := mask.Grid()
	fg := func(x, y, z int) bool { return mask.Value(g.Offset(x, y, z)) != 0 }
	var out []int
	for idx := 0; idx < g.NumVoxels(); idx++ {
		if mask.Value(idx) == 0 {
			continue
		}
		x, y, z := g.Coords(idx)
		c := [3]int{x, y, z}
	axes:
		for a := 0; a < g.Dim; a++ {
			for _, d := range [2]int{-1, 1} {
				n := c
				n[a] += d
				if n[a] < 0 || n[a] >= g.Size[a] {
					continue
				}
				if !fg(n[0], n[1], n[2]) {
					out = append(out, idx)
					break axes
				}
			}
		}
	}
	return out
}

// SignedDistance returns the Euclidean distance, in physical units, from
// every voxel to the nearest boundary voxel of a binary mask. Distances are
// positive inside the mask, negative outside and exactly 0 on the boundary.
// With squared the magnitude is squared and the sign kept. workers bounds the
// goroutines used for the nearest boundary queries (0 means one per CPU).
func SignedDistance(mask *volume.Image, squared bool, workers int) (*volume.Image, error) {
	if mask.Components() != 1 {
		return nil, fmt.Errorf("imaging: distance map needs a scalar mask, got %d components", mask.Components())
	}
	g := mask.Grid()
	boundary := boundaryVoxels(mask)
	if len(boundary) == 0 {
		return nil, ErrNoBoundary
	}
	pts := make([]interpolation.Point3D, len(boundary))
	for i, idx := range boundary {
		p := g.VoxelPoint(idx)
		pts[i] = interpolation.Point3D{X: p[0], Y: p[1], Z: p[2]}
	}
	index := interpolation.NewPointIndex(pts)

	out := make([]float64, g.NumVoxels())
	parallel.For(len(out), parallel.Workers(workers), func(_, lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			p := g.VoxelPoint(idx)
			d := index.NearestDistance(interpolation.Point3D{X: p[0], Y: p[1], Z: p[2]})
			if squared {
				d *= d
			}
			if mask.Value(idx) == 0 {
				d = -d
			}
			out[idx] = d
		}
	})
	for _, idx := range boundary {
		out[idx] = 0
	}
	return volume.FromData(g, volume.Float64, 1, out)
}

// MaxAbs returns the largest absolute sample value.
func MaxAbs(img *volume.Image) float64 {
	var m float64
	for _, v := range img.Samples() {
		m = math.Max(m, math.Abs(v))
	}
	return m
}
