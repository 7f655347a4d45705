// Package pyramid builds the smoothed, downsampled copies of an image used by
// the multi-resolution registration stages.
package pyramid

import (
	"fmt"
	"math"

	"volreg/pkg/imaging"
	"volreg/pkg/interpolation"
	"volreg/pkg/volume"
)

// Shrink is a per-axis shrink factor. In isotropic mode it is read as the
// target voxel size in mm instead.
type Shrink [3]float64

// Uniform returns the same factor on every axis.
func Uniform(f float64) Shrink { return Shrink{f, f, f} }

// Level describes one pyramid level.
type Level struct {
	Shrink Shrink
	Sigma  float64 // physical units
}

// LevelGrid returns the grid BuildLevel resamples onto, without touching any
// voxel data.
func LevelGrid(g volume.Grid, shrink Shrink, isotropic bool) (volume.Grid, error) {
	out := g
	for i := 0; i < g.Dim; i++ {
		if shrink[i] <= 0 {
			return volume.Grid{}, fmt.Errorf("pyramid: shrink factor %v on axis %d must be positive", shrink[i], i)
		}
		size := float64(g.Size[i])
		factor := shrink[i]
		if isotropic {
			factor = shrink[i] / g.Spacing[i]
		}
		n := int(size/factor + 0.5)
		if n < 1 {
			n = 1
		}
		out.Size[i] = n
		switch {
		case g.Size[i] == 1:
			// nothing to shrink
		case n == 1:
			out.Spacing[i] = size * g.Spacing[i]
		default:
			out.Spacing[i] = float64(g.Size[i]-1) * g.Spacing[i] / float64(n-1)
		}
	}
	return out, out.Validate()
}

// BuildLevel smooths img with a Gaussian of physical standard deviation sigma
// and resamples it onto the shrunken grid. Origin and direction are kept and
// the output has the pixel type of img. An unspecified interp means linear.
func BuildLevel(img *volume.Image, shrink Shrink, sigma float64, isotropic bool, interp interpolation.Method) (*volume.Image, error) {
	grid, err := LevelGrid(img.Grid(), shrink, isotropic)
	if err != nil {
		return nil, err
	}

	smoothed := img
	if sigma > 0 {
		var maxSpacing float64
		for i := 0; i < img.Dim(); i++ {
			maxSpacing = math.Max(maxSpacing, img.Spacing()[i])
		}
		smoothed = imaging.DiscreteGaussian(img, sigma*sigma, int(8*sigma*maxSpacing))
	}

	out, err := imaging.Resample(smoothed, grid, nil, interp.Or(interpolation.Linear), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to resample pyramid level: %w", err)
	}
	if out.PixelType() != img.PixelType() {
		out = out.CastTo(img.PixelType())
	}
	return out, nil
}

// Build returns one image per level, ordered as levels (coarse to fine).
func Build(img *volume.Image, levels []Level, isotropic bool, interp interpolation.Method) ([]*volume.Image, error) {
	out := make([]*volume.Image, 0, len(levels))
	for k, l := range levels {
		lvl, err := BuildLevel(img, l.Shrink, l.Sigma, isotropic, interp)
		if err != nil {
			return nil, fmt.Errorf("pyramid level %d: %w", k, err)
		}
		out = append(out, lvl)
	}
	return out, nil
}
