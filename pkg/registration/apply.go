package registration

import (
	"fmt"

	"volreg/pkg/imaging"
	"volreg/pkg/interpolation"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// ApplyOptions controls Apply.
type ApplyOptions struct {
	// Structure marks img as a label image.
	Structure bool

	// Interpolation defaults to nearest neighbour. Structures accept nothing
	// else.
	Interpolation interpolation.Method

	DefaultValue float64

	// Reference is the output grid; nil means the grid of the input image.
	Reference *volume.Grid

	Workers int
}

// Apply resamples img through t. Every output voxel x takes the value of img
// at t(x). The input is processed as float and the result cast back to the
// pixel type of img.
func Apply(img *volume.Image, t transform.Transform, opts ApplyOptions) (*volume.Image, error) {
	method := opts.Interpolation.Or(interpolation.NearestNeighbor)
	if opts.Structure && method != interpolation.NearestNeighbor {
		return nil, fmt.Errorf("%w: got %v", ErrConstraintViolation, method)
	}
	if !method.Valid() {
		return nil, configErr("interpolation", method, "", interpolation.MethodNames...)
	}
	grid := img.Grid()
	if opts.Reference != nil {
		grid = *opts.Reference
	}
	out, err := imaging.ResampleWorkers(img.AsFloat(), grid, t, method, opts.DefaultValue, opts.Workers)
	if err != nil {
		return nil, err
	}
	return out.CastTo(img.PixelType()), nil
}
