package imaging

import (
	"fmt"

	"volreg/internal/parallel"
	"volreg/pkg/volume"
)

// Gradient returns the physical-space gradient of a scalar image as a Float64
// vector image with one component per dimension. Interior voxels use central
// differences, edge voxels one-sided ones.
func Gradient(img *volume.Image, workers int) (*volume.Image, error) {
	if img.Components() != 1 {
		return nil, fmt.Errorf("imaging: gradient needs a scalar image, got %d components", img.Components())
	}
	g := img.Grid()
	dim := g.Dim
	n := g.NumVoxels()
	src := img.Samples()
	out := make([]float64, n*dim)
	d := g.Direction

	parallel.For(n, parallel.Workers(workers), func(_, lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			x, y, z := g.Coords(idx)
			c := [3]int{x, y, z}
			var di [3]float64 // derivative along index axes, per mm
			for a := 0; a < dim; a++ {
				size := g.Size[a]
				if size < 2 {
					continue
				}
				prev, next := c, c
				prev[a]--
				next[a]++
				h := 2.0
				if prev[a] < 0 {
					prev[a] = 0
					h = 1
				}
				if next[a] >= size {
					next[a] = size - 1
					h = 1
				}
				vlo := src[g.Offset(prev[0], prev[1], prev[2])]
				vhi := src[g.Offset(next[0], next[1], next[2])]
				di[a] = (vhi - vlo) / (h * g.Spacing[a])
			}
			for r := 0; r < dim; r++ {
				out[idx*dim+r] = d[3*r]*di[0] + d[3*r+1]*di[1] + d[3*r+2]*di[2]
			}
		}
	})
	return volume.FromData(g, volume.Float64, dim, out)
}
