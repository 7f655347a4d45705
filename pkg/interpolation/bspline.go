package interpolation

import (
	"math"

	"volreg/pkg/volume"
)

// cubic B-spline pole and the gain that normalises the recursive filter.
var (
	splinePole = math.Sqrt(3) - 2
	splineGain = (1 - splinePole) * (1 - 1/splinePole)
)

// CubicWeights fills w with the four cubic B-spline weights for a sample at
// fractional offset t in [0, 1) from the second support point.
func CubicWeights(t float64, w *[4]float64) {
	t2 := t * t
	t3 := t2 * t
	w[0] = (1 - 3*t + 3*t2 - t3) / 6
	w[1] = (4 - 6*t2 + 3*t3) / 6
	w[2] = (1 + 3*t + 3*t2 - 3*t3) / 6
	w[3] = t3 / 6
}

// mirrorIndex folds an out-of-range index back into [0, n) with mirror
// (whole-sample symmetric) boundaries.
func mirrorIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// Decompose returns the cubic B-spline coefficients of img as a Float64 image
// on the same grid. Interpolating the coefficients with cubic weights
// reproduces the samples at voxel centres.
func Decompose(img *volume.Image) *volume.Image {
	return volume.MustFromData(img.Grid(), volume.Float64, img.Components(), bsplineCoefficients(img))
}

func bsplineCoefficients(img *volume.Image) []float64 {
	g := img.Grid()
	comps := img.Components()
	coef := make([]float64, len(img.Samples()))
	copy(coef, img.Samples())

	line := make([]float64, 0, 256)
	for axis := 0; axis < g.Dim; axis++ {
		n := g.Size[axis]
		if n < 2 {
			continue
		}
		if cap(line) < n {
			line = make([]float64, n)
		}
		line = line[:n]
		forEachLine(g, axis, func(start, stride int) {
			for c := 0; c < comps; c++ {
				for k := 0; k < n; k++ {
					line[k] = coef[(start+k*stride)*comps+c]
				}
				prefilterLine(line)
				for k := 0; k < n; k++ {
					coef[(start+k*stride)*comps+c] = line[k]
				}
			}
		})
	}
	return coef
}

// forEachLine calls fn with the flat offset of the first voxel and the voxel
// stride of every grid line running along axis.
func forEachLine(g volume.Grid, axis int, fn func(start, stride int)) {
	sx, sy, sz := g.Size[0], g.Size[1], g.Size[2]
	switch axis {
	case 0:
		for z := 0; z < sz; z++ {
			for y := 0; y < sy; y++ {
				fn(g.Offset(0, y, z), 1)
			}
		}
	case 1:
		for z := 0; z < sz; z++ {
			for x := 0; x < sx; x++ {
				fn(g.Offset(x, 0, z), sx)
			}
		}
	default:
		for y := 0; y < sy; y++ {
			for x := 0; x < sx; x++ {
				fn(g.Offset(x, y, 0), sx*sy)
			}
		}
	}
}

// prefilterLine converts samples to cubic B-spline coefficients in place
// using the causal/anti-causal recursive filter with mirror boundaries.
func prefilterLine(c []float64) {
	n := len(c)
	if n < 2 {
		return
	}
	z := splinePole
	for k := range c {
		c[k] *= splineGain
	}

	// Causal initialisation.
	horizon := int(math.Ceil(math.Log(1e-10) / math.Log(math.Abs(z))))
	if horizon < n {
		zk := z
		sum := c[0]
		for k := 1; k < horizon; k++ {
			sum += zk * c[k]
			zk *= z
		}
		c[0] = sum
	} else {
		zn := z
		iz := 1 / z
		z2n := math.Pow(z, float64(n-1))
		sum := c[0] + z2n*c[n-1]
		z2n *= z2n * iz
		for k := 1; k < n-1; k++ {
			sum += (zn + z2n) * c[k]
			zn *= z
			z2n *= iz
		}
		c[0] = sum / (1 - zn*zn)
	}
	for k := 1; k < n; k++ {
		c[k] += z * c[k-1]
	}

	// Anti-causal pass.
	c[n-1] = (z / (z*z - 1)) * (z*c[n-2] + c[n-1])
	for k := n - 2; k >= 0; k-- {
		c[k] = z * (c[k+1] - c[k])
	}
}
