// Package volume provides the image model shared by every registration stage:
// a 2-D or 3-D regular grid with physical geometry and an immutable sample
// buffer.
package volume

import (
	"fmt"
	"math"
)

// Grid describes where the voxels of an image live in physical space.
// Index (i, j, k) maps to Origin + Direction * (Spacing .* (i, j, k)).
type Grid struct {
	// Dim is the image dimensionality, 2 or 3.
	Dim int

	// Size is the number of voxels along each axis. 2-D grids keep Size[2] == 1.
	Size [3]int

	// Spacing is the physical distance between voxel centres in mm.
	Spacing [3]float64

	// Origin is the physical position of voxel (0, 0, 0).
	Origin [3]float64

	// Direction holds the direction cosines in row-major order.
	Direction [9]float64
}

// IdentityDirection is the axis-aligned direction matrix.
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// NewGrid3D returns an axis-aligned 3-D grid.
func NewGrid3D(size [3]int, spacing, origin [3]float64) Grid {
	return Grid{Dim: 3, Size: size, Spacing: spacing, Origin: origin, Direction: IdentityDirection}
}

// NewGrid2D returns an axis-aligned 2-D grid.
func NewGrid2D(width, height int, spacing, origin [2]float64) Grid {
	return Grid{
		Dim:       2,
		Size:      [3]int{width, height, 1},
		Spacing:   [3]float64{spacing[0], spacing[1], 1},
		Origin:    [3]float64{origin[0], origin[1], 0},
		Direction: IdentityDirection,
	}
}

// NumVoxels returns the number of grid points.
func (g Grid) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Offset returns the flat index of voxel (x, y, z).
func (g Grid) Offset(x, y, z int) int {
	return (z*g.Size[1]+y)*g.Size[0] + x
}

// Coords is the inverse of Offset.
func (g Grid) Coords(idx int) (x, y, z int) {
	plane := g.Size[0] * g.Size[1]
	z = idx / plane
	rem := idx - z*plane
	y = rem / g.Size[0]
	x = rem - y*g.Size[0]
	return x, y, z
}

// IndexToPhysical maps a (continuous) voxel index to a physical point.
func (g Grid) IndexToPhysical(ci [3]float64) [3]float64 {
	var s [3]float64
	for i := 0; i < 3; i++ {
		s[i] = ci[i] * g.Spacing[i]
	}
	d := g.Direction
	return [3]float64{
		g.Origin[0] + d[0]*s[0] + d[1]*s[1] + d[2]*s[2],
		g.Origin[1] + d[3]*s[0] + d[4]*s[1] + d[5]*s[2],
		g.Origin[2] + d[6]*s[0] + d[7]*s[1] + d[8]*s[2],
	}
}

// PhysicalToIndex maps a physical point to a continuous voxel index. The
// direction matrix is orthonormal (see Validate), so its inverse is the
// transpose.
func (g Grid) PhysicalToIndex(p [3]float64) [3]float64 {
	v := [3]float64{p[0] - g.Origin[0], p[1] - g.Origin[1], p[2] - g.Origin[2]}
	d := g.Direction
	ci := [3]float64{
		(d[0]*v[0] + d[3]*v[1] + d[6]*v[2]) / g.Spacing[0],
		(d[1]*v[0] + d[4]*v[1] + d[7]*v[2]) / g.Spacing[1],
		(d[2]*v[0] + d[5]*v[1] + d[8]*v[2]) / g.Spacing[2],
	}
	if g.Dim == 2 {
		ci[2] = 0
	}
	return ci
}

// VoxelPoint returns the physical centre of the voxel at flat index idx.
func (g Grid) VoxelPoint(idx int) [3]float64 {
	x, y, z := g.Coords(idx)
	return g.IndexToPhysical([3]float64{float64(x), float64(y), float64(z)})
}

// Center returns the physical point halfway between the first and last voxel.
func (g Grid) Center() [3]float64 {
	var ci [3]float64
	for i := 0; i < g.Dim; i++ {
		ci[i] = float64(g.Size[i]-1) / 2
	}
	return g.IndexToPhysical(ci)
}

// Corners returns the physical positions of the extreme voxel centres, 4 in
// 2-D and 8 in 3-D.
func (g Grid) Corners() [][3]float64 {
	n := 1 << g.Dim
	out := make([][3]float64, 0, n)
	for c := 0; c < n; c++ {
		var ci [3]float64
		for axis := 0; axis < g.Dim; axis++ {
			if c&(1<<axis) != 0 {
				ci[axis] = float64(g.Size[axis] - 1)
			}
		}
		out = append(out, g.IndexToPhysical(ci))
	}
	return out
}

// Contains reports whether a continuous index lies inside the buffer,
// extended by half a voxel on every side.
func (g Grid) Contains(ci [3]float64) bool {
	for i := 0; i < g.Dim; i++ {
		if ci[i] < -0.5 || ci[i] > float64(g.Size[i])-0.5 {
			return false
		}
	}
	return true
}

// Validate checks that the grid is usable.
func (g Grid) Validate() error {
	if g.Dim != 2 && g.Dim != 3 {
		return fmt.Errorf("volume: unsupported dimension %d (must be 2 or 3)", g.Dim)
	}
	for i := 0; i < 3; i++ {
		if g.Size[i] <= 0 {
			return fmt.Errorf("volume: size along axis %d must be positive, got %d", i, g.Size[i])
		}
		if !(g.Spacing[i] > 0) || math.IsInf(g.Spacing[i], 0) {
			return fmt.Errorf("volume: spacing along axis %d must be positive, got %g", i, g.Spacing[i])
		}
	}
	if g.Dim == 2 && g.Size[2] != 1 {
		return fmt.Errorf("volume: 2-D grid must have Size[2] == 1, got %d", g.Size[2])
	}
	d := g.Direction
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			dot := d[r]*d[c] + d[3+r]*d[3+c] + d[6+r]*d[6+c]
			want := 0.0
			if r == c {
				want = 1
			}
			if math.Abs(dot-want) > 1e-4 {
				return fmt.Errorf("volume: direction matrix is not orthonormal")
			}
		}
	}
	return nil
}

// Equal reports whether two grids describe the same voxels within tol.
func (g Grid) Equal(o Grid, tol float64) bool {
	if g.Dim != o.Dim || g.Size != o.Size {
		return false
	}
	for i := 0; i < 3; i++ {
		if math.Abs(g.Spacing[i]-o.Spacing[i]) > tol || math.Abs(g.Origin[i]-o.Origin[i]) > tol {
			return false
		}
	}
	for i := 0; i < 9; i++ {
		if math.Abs(g.Direction[i]-o.Direction[i]) > tol {
			return false
		}
	}
	return true
}

// MeanSquaredSpacing averages the squared spacing over the used axes.
func (g Grid) MeanSquaredSpacing() float64 {
	var s float64
	for i := 0; i < g.Dim; i++ {
		s += g.Spacing[i] * g.Spacing[i]
	}
	return s / float64(g.Dim)
}
