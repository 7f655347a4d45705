package interpolation

import (
	"fmt"
	"math"

	"volreg/pkg/volume"
)

// Interpolator samples one image at continuous indices. It is read-only after
// construction and safe for concurrent use.
type Interpolator struct {
	method Method
	grid   volume.Grid
	comps  int
	data   []float64 // samples, or B-spline coefficients for BSpline
}

// New prepares an interpolator. BSpline prefilters the image once.
func New(img *volume.Image, method Method) (*Interpolator, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("interpolation: invalid method %v", method)
	}
	ip := &Interpolator{
		method: method,
		grid:   img.Grid(),
		comps:  img.Components(),
		data:   img.Samples(),
	}
	if method == BSpline {
		ip.data = bsplineCoefficients(img)
	}
	return ip, nil
}

// Method returns the configured method.
func (ip *Interpolator) Method() Method { return ip.method }

// Grid returns the geometry of the sampled image.
func (ip *Interpolator) Grid() volume.Grid { return ip.grid }

// Components returns the number of values written by Evaluate.
func (ip *Interpolator) Components() int { return ip.comps }

// Inside reports whether ci falls inside the image buffer.
func (ip *Interpolator) Inside(ci [3]float64) bool {
	return ip.grid.Contains(ci)
}

// Evaluate writes the interpolated components at ci into out and reports
// whether ci was inside the image. out must hold Components() values.
func (ip *Interpolator) Evaluate(ci [3]float64, out []float64) bool {
	if !ip.grid.Contains(ci) {
		return false
	}
	switch ip.method {
	case NearestNeighbor:
		ip.nearest(ci, out)
	case Linear:
		ip.linear(ci, out)
	default:
		ip.cubic(ci, out)
	}
	return true
}

// EvaluateAt samples the first component at a physical point.
func (ip *Interpolator) EvaluateAt(p [3]float64) (float64, bool) {
	ci := ip.grid.PhysicalToIndex(p)
	if !ip.grid.Contains(ci) {
		return 0, false
	}
	if ip.comps == 1 {
		var v [1]float64
		ip.Evaluate(ci, v[:])
		return v[0], true
	}
	out := make([]float64, ip.comps)
	ip.Evaluate(ci, out)
	return out[0], true
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (ip *Interpolator) nearest(ci [3]float64, out []float64) {
	var idx [3]int
	for a := 0; a < 3; a++ {
		idx[a] = clampIndex(int(math.Floor(ci[a]+0.5)), ip.grid.Size[a])
	}
	base := ip.grid.Offset(idx[0], idx[1], idx[2]) * ip.comps
	copy(out[:ip.comps], ip.data[base:base+ip.comps])
}

func (ip *Interpolator) linear(ci [3]float64, out []float64) {
	var lo, hi [3]int
	var frac [3]float64
	for a := 0; a < 3; a++ {
		f := math.Floor(ci[a])
		frac[a] = ci[a] - f
		lo[a] = clampIndex(int(f), ip.grid.Size[a])
		hi[a] = clampIndex(int(f)+1, ip.grid.Size[a])
	}
	for c := 0; c < ip.comps; c++ {
		out[c] = 0
	}
	nz := 2
	if ip.grid.Dim == 2 {
		nz = 1
		frac[2] = 0
	}
	for dz := 0; dz < nz; dz++ {
		z, wz := lo[2], 1-frac[2]
		if dz == 1 {
			z, wz = hi[2], frac[2]
		}
		if wz == 0 {
			continue
		}
		for dy := 0; dy < 2; dy++ {
			y, wy := lo[1], 1-frac[1]
			if dy == 1 {
				y, wy = hi[1], frac[1]
			}
			if wy == 0 {
				continue
			}
			for dx := 0; dx < 2; dx++ {
				x, wx := lo[0], 1-frac[0]
				if dx == 1 {
					x, wx = hi[0], frac[0]
				}
				w := wx * wy * wz
				if w == 0 {
					continue
				}
				base := ip.grid.Offset(x, y, z) * ip.comps
				for c := 0; c < ip.comps; c++ {
					out[c] += w * ip.data[base+c]
				}
			}
		}
	}
}

func (ip *Interpolator) cubic(ci [3]float64, out []float64) {
	var idx [3][4]int
	var w [3][4]float64
	n := [3]int{4, 4, 4}
	for a := 0; a < 3; a++ {
		if a >= ip.grid.Dim {
			n[a] = 1
			idx[a][0], w[a][0] = 0, 1
			continue
		}
		f := math.Floor(ci[a])
		CubicWeights(ci[a]-f, &w[a])
		for k := 0; k < 4; k++ {
			idx[a][k] = mirrorIndex(int(f)-1+k, ip.grid.Size[a])
		}
	}
	for c := 0; c < ip.comps; c++ {
		out[c] = 0
	}
	for kz := 0; kz < n[2]; kz++ {
		for ky := 0; ky < n[1]; ky++ {
			wyz := w[1][ky] * w[2][kz]
			for kx := 0; kx < n[0]; kx++ {
				ww := w[0][kx] * wyz
				base := ip.grid.Offset(idx[0][kx], idx[1][ky], idx[2][kz]) * ip.comps
				for c := 0; c < ip.comps; c++ {
					out[c] += ww * ip.data[base+c]
				}
			}
		}
	}
}
