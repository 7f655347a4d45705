// Package imaging holds the image filters the registration stages are built
// from: resampling through a transform, Gaussian smoothing, signed distance
// maps, thresholds and gradients.
package imaging

import (
	"fmt"

	"volreg/internal/parallel"
	"volreg/pkg/interpolation"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// Resample maps img onto grid: every output voxel x takes the value of img at
// t(x). Voxels mapped outside img get fill. A nil transform means identity.
// The output keeps the pixel type and component count of img.
func Resample(img *volume.Image, grid volume.Grid, t transform.Transform, method interpolation.Method, fill float64) (*volume.Image, error) {
	return ResampleWorkers(img, grid, t, method, fill, 0)
}

// ResampleWorkers is Resample with an explicit worker count (0 means one per
// CPU).
func ResampleWorkers(img *volume.Image, grid volume.Grid, t transform.Transform, method interpolation.Method, fill float64, workers int) (*volume.Image, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if grid.Dim != img.Dim() {
		return nil, fmt.Errorf("%w: cannot resample a %d-D image onto a %d-D grid", volume.ErrGeometryMismatch, img.Dim(), grid.Dim)
	}
	if t != nil && t.Dim() != grid.Dim {
		return nil, fmt.Errorf("%w: %d-D transform for %d-D images", volume.ErrGeometryMismatch, t.Dim(), grid.Dim)
	}
	ip, err := interpolation.New(img, method)
	if err != nil {
		return nil, err
	}

	comps := img.Components()
	pt := img.PixelType()
	fillValue := pt.Convert(fill)
	src := img.Grid()
	out := make([]float64, grid.NumVoxels()*comps)

	// z-slabs, or rows for 2-D grids
	rows := grid.Size[1] * grid.Size[2]
	parallel.For(rows, parallel.Workers(workers), func(_, lo, hi int) {
		buf := make([]float64, comps)
		for row := lo; row < hi; row++ {
			y, z := row%grid.Size[1], row/grid.Size[1]
			for x := 0; x < grid.Size[0]; x++ {
				idx := grid.Offset(x, y, z)
				p := grid.IndexToPhysical([3]float64{float64(x), float64(y), float64(z)})
				if t != nil {
					p = t.TransformPoint(p)
				}
				dst := out[idx*comps : idx*comps+comps]
				if !ip.Evaluate(src.PhysicalToIndex(p), buf) {
					for c := range dst {
						dst[c] = fillValue
					}
					continue
				}
				for c := range dst {
					dst[c] = pt.Convert(buf[c])
				}
			}
		}
	})
	return volume.FromData(grid, pt, comps, out)
}
