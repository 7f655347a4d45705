package transform

import (
	"fmt"

	"volreg/internal/parallel"
	"volreg/pkg/interpolation"
	"volreg/pkg/volume"
)

// DisplacementField maps x to x + u(x), with u linearly interpolated from a
// dense vector image. Points outside the field are not displaced.
type DisplacementField struct {
	field  *volume.Image
	interp *interpolation.Interpolator
}

// NewDisplacementField wraps a vector image with one component per dimension.
func NewDisplacementField(field *volume.Image) (*DisplacementField, error) {
	if field.Components() != field.Dim() {
		return nil, fmt.Errorf("transform: displacement field needs %d components, got %d", field.Dim(), field.Components())
	}
	ip, err := interpolation.New(field, interpolation.Linear)
	if err != nil {
		return nil, err
	}
	return &DisplacementField{field: field, interp: ip}, nil
}

func (f *DisplacementField) Dim() int   { return f.field.Dim() }
func (f *DisplacementField) Kind() Kind { return KindDisplacementField }

// Field returns the underlying vector image.
func (f *DisplacementField) Field() *volume.Image { return f.field }

func (f *DisplacementField) TransformPoint(p [3]float64) [3]float64 {
	var u [3]float64
	ci := f.field.Grid().PhysicalToIndex(p)
	if !f.interp.Evaluate(ci, u[:f.field.Components()]) {
		return p
	}
	return [3]float64{p[0] + u[0], p[1] + u[1], p[2] + u[2]}
}

// ToDisplacementField samples t - x at every voxel of grid.
func ToDisplacementField(t Transform, grid volume.Grid, workers int) (*volume.Image, error) {
	if t.Dim() != grid.Dim {
		return nil, fmt.Errorf("%w: %d-D transform on a %d-D grid", volume.ErrGeometryMismatch, t.Dim(), grid.Dim)
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	dim := grid.Dim
	n := grid.NumVoxels()
	data := make([]float64, n*dim)
	parallel.For(n, parallel.Workers(workers), func(_, lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			x := grid.VoxelPoint(idx)
			y := t.TransformPoint(x)
			for c := 0; c < dim; c++ {
				data[idx*dim+c] = y[c] - x[c]
			}
		}
	})
	return volume.FromData(grid, volume.Float64, dim, data)
}

// ZeroField returns a zero displacement field on grid.
func ZeroField(grid volume.Grid) (*volume.Image, error) {
	return volume.New(grid, volume.Float64, grid.Dim)
}
