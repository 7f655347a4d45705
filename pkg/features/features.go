// Package features turns binary structure masks into smooth images that can
// drive or guide a registration.
package features

import (
	"errors"
	"fmt"

	"volreg/pkg/imaging"
	"volreg/pkg/volume"
)

var (
	// ErrNotBinary is returned for masks with more than one non-zero value.
	ErrNotBinary = errors.New("features: mask is not binary")

	// ErrEmptyBoundary is returned for masks that are empty or fill the image.
	ErrEmptyBoundary = fmt.Errorf("features: %w", imaging.ErrNoBoundary)

	// ErrEmptyStructure is returned when the guidance image is zero everywhere.
	ErrEmptyStructure = errors.New("features: structure guidance is zero everywhere")
)

// DistanceMap returns the signed Euclidean distance map of mask in physical
// units: positive inside, negative outside and 0 on the boundary voxels.
// squared squares the magnitude, keeping the sign; normalise divides by the
// largest absolute value. The output is Float64.
func DistanceMap(mask *volume.Image, squared, normalise bool) (*volume.Image, error) {
	return DistanceMapWorkers(mask, squared, normalise, 0)
}

// DistanceMapWorkers is DistanceMap on at most workers goroutines (0 means
// one per CPU).
func DistanceMapWorkers(mask *volume.Image, squared, normalise bool, workers int) (*volume.Image, error) {
	if !mask.IsBinary() {
		return nil, ErrNotBinary
	}
	dist, err := imaging.SignedDistance(mask, squared, workers)
	if errors.Is(err, imaging.ErrNoBoundary) {
		return nil, ErrEmptyBoundary
	}
	if err != nil {
		return nil, err
	}
	if !normalise {
		return dist, nil
	}
	m := imaging.MaxAbs(dist)
	if m == 0 {
		return dist, nil
	}
	return dist.Map(volume.Float64, func(v float64) float64 { return v / m }), nil
}

// StructureGuidance builds the image used for structure-guided deformable
// registration: the inside distance of mask, raised by expansionMM close to
// and outside the surface, clipped to [0, 1000], divided by its maximum and
// passed through scale (identity when nil).
func StructureGuidance(mask *volume.Image, expansionMM float64, scale func(float64) float64) (*volume.Image, error) {
	return StructureGuidanceWorkers(mask, expansionMM, scale, 0)
}

// StructureGuidanceWorkers is StructureGuidance with a worker count.
func StructureGuidanceWorkers(mask *volume.Image, expansionMM float64, scale func(float64) float64, workers int) (*volume.Image, error) {
	dist, err := DistanceMapWorkers(mask, false, false, workers)
	if err != nil {
		return nil, err
	}
	guided := dist.Map(volume.Float64, func(d float64) float64 {
		if d < expansionMM {
			d += expansionMM
		}
		if d < 0 || d > 1000 {
			return 0
		}
		return d
	})
	_, hi := guided.MinMax()
	if hi <= 0 {
		return nil, ErrEmptyStructure
	}
	return guided.Map(volume.Float64, func(v float64) float64 {
		v /= hi
		if scale != nil {
			v = scale(v)
		}
		return v
	}), nil
}
