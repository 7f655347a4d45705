// Package demons implements the symmetric-forces demons algorithm on a dense
// displacement field defined on the fixed image grid.
package demons

import (
	"fmt"
	"math"

	"volreg/internal/parallel"
	"volreg/pkg/imaging"
	"volreg/pkg/interpolation"
	"volreg/pkg/volume"
)

// Solver holds the demons parameters. The zero value is not useful; start from
// DefaultSolver.
type Solver struct {
	Iterations int

	SmoothUpdateField bool
	UpdateFieldSigma  float64 // voxels

	SmoothDisplacementField bool
	DisplacementFieldSigma  float64 // voxels

	// MaxStepLength bounds each voxel update, in units of the smallest
	// spacing.
	MaxStepLength float64

	// Voxels whose intensity difference is below this are left alone.
	IntensityDifferenceThreshold float64

	Workers  int
	Observer func(iteration int, metric float64)
}

// DefaultSolver returns the standard settings for iterations steps.
func DefaultSolver(iterations int) Solver {
	return Solver{
		Iterations:                   iterations,
		SmoothUpdateField:            true,
		UpdateFieldSigma:             1.0,
		SmoothDisplacementField:      true,
		DisplacementFieldSigma:       1.5,
		MaxStepLength:                0.5,
		IntensityDifferenceThreshold: 0.001,
		Workers:                      1,
	}
}

// Result is the outcome of Run.
type Result struct {
	Field  *volume.Image
	Metric float64 // mean squared difference after the last iteration
}

// Run refines field (or a zero field when nil) so that moving(x + u(x))
// matches fixed(x). The field must live on the fixed grid.
func (s Solver) Run(fixed, moving, field *volume.Image) (*Result, error) {
	if err := volume.SameDimension(fixed, moving); err != nil {
		return nil, err
	}
	g := fixed.Grid()
	dim := g.Dim
	if field == nil {
		f, err := volume.New(g, volume.Float64, dim)
		if err != nil {
			return nil, err
		}
		field = f
	}
	if !field.Grid().Equal(g, 1e-6) || field.Components() != dim {
		return nil, fmt.Errorf("%w: demons field must be a %d-component image on the fixed grid", volume.ErrGeometryMismatch, dim)
	}

	fixedGrad, err := imaging.Gradient(fixed, s.Workers)
	if err != nil {
		return nil, err
	}
	mov, err := interpolation.New(moving, interpolation.Linear)
	if err != nil {
		return nil, err
	}
	workers := parallel.Workers(s.Workers)
	n := g.NumVoxels()
	normaliser := g.MeanSquaredSpacing()
	minSpacing := math.Inf(1)
	for i := 0; i < dim; i++ {
		minSpacing = math.Min(minSpacing, g.Spacing[i])
	}
	maxStep := s.MaxStepLength * minSpacing

	u := append([]float64(nil), field.Samples()...)
	warped := make([]float64, n)
	valid := make([]bool, n)
	metric := math.NaN()

	for it := 1; it <= s.Iterations; it++ {
		s.warp(g, mov, u, warped, valid, workers)
		warpedImg := volume.MustFromData(g, volume.Float64, 1, warped)
		movingGrad, err := imaging.Gradient(warpedImg, s.Workers)
		if err != nil {
			return nil, err
		}

		update := make([]float64, n*dim)
		chunks := parallel.Chunks(n, workers)
		sums := make([]float64, chunks)
		counts := make([]int, chunks)
		fg, mg := fixedGrad.Samples(), movingGrad.Samples()
		parallel.For(n, workers, func(chunk, lo, hi int) {
			for idx := lo; idx < hi; idx++ {
				if !valid[idx] {
					continue
				}
				diff := fixed.Value(idx) - warped[idx]
				sums[chunk] += diff * diff
				counts[chunk]++
				if math.Abs(diff) < s.IntensityDifferenceThreshold {
					continue
				}
				var gv [3]float64
				var g2 float64
				for c := 0; c < dim; c++ {
					gv[c] = (fg[idx*dim+c] + mg[idx*dim+c]) / 2
					g2 += gv[c] * gv[c]
				}
				denom := g2 + diff*diff/normaliser
				if denom < 1e-9 {
					continue
				}
				scale := diff / denom
				var norm float64
				for c := 0; c < dim; c++ {
					gv[c] *= scale
					norm += gv[c] * gv[c]
				}
				if norm = math.Sqrt(norm); maxStep > 0 && norm > maxStep {
					for c := 0; c < dim; c++ {
						gv[c] *= maxStep / norm
					}
				}
				copy(update[idx*dim:idx*dim+dim], gv[:dim])
			}
		})

		var sum float64
		var count int
		for c := range sums {
			sum += sums[c]
			count += counts[c]
		}
		if count == 0 {
			return nil, fmt.Errorf("demons: moving image does not overlap the fixed grid")
		}
		metric = sum / float64(count)

		upd := volume.MustFromData(g, volume.Float64, dim, update)
		if s.SmoothUpdateField && s.UpdateFieldSigma > 0 {
			upd = imaging.GaussianVoxels(upd, s.UpdateFieldSigma, s.Workers)
		}
		for i, v := range upd.Samples() {
			u[i] += v
		}
		if s.SmoothDisplacementField && s.DisplacementFieldSigma > 0 {
			u = imaging.GaussianVoxels(volume.MustFromData(g, volume.Float64, dim, u), s.DisplacementFieldSigma, s.Workers).Samples()
		}
		if s.Observer != nil {
			s.Observer(it, metric)
		}
	}

	out, err := volume.FromData(g, volume.Float64, dim, u)
	if err != nil {
		return nil, err
	}
	return &Result{Field: out, Metric: metric}, nil
}

// warp samples moving at x + u(x) for every fixed voxel.
func (s Solver) warp(g volume.Grid, mov *interpolation.Interpolator, u, out []float64, valid []bool, workers int) {
	dim := g.Dim
	mg := mov.Grid()
	parallel.For(g.NumVoxels(), workers, func(_, lo, hi int) {
		var v [1]float64
		for idx := lo; idx < hi; idx++ {
			p := g.VoxelPoint(idx)
			for c := 0; c < dim; c++ {
				p[c] += u[idx*dim+c]
			}
			valid[idx] = mov.Evaluate(mg.PhysicalToIndex(p), v[:])
			if valid[idx] {
				out[idx] = v[0]
			} else {
				out[idx] = 0
			}
		}
	})
}
