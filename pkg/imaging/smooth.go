package imaging

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"volreg/internal/parallel"
	"volreg/pkg/volume"
)

// DiscreteGaussian blurs img with a Gaussian of the given physical variance
// (mm^2). The kernel along each axis is limited to maxKernelWidth voxels;
// values below 1 leave it unbounded. Integer inputs produce Float32 output.
func DiscreteGaussian(img *volume.Image, variance float64, maxKernelWidth int) *volume.Image {
	var sigma [3]float64
	s := math.Sqrt(math.Max(variance, 0))
	for i := 0; i < img.Dim(); i++ {
		sigma[i] = s / img.Spacing()[i]
	}
	return smoothVoxels(img, sigma, maxKernelWidth, 0)
}

// GaussianVoxels blurs every component of img with a Gaussian whose standard
// deviation is given in voxels along all axes.
func GaussianVoxels(img *volume.Image, sigma float64, workers int) *volume.Image {
	var s [3]float64
	for i := 0; i < img.Dim(); i++ {
		s[i] = sigma
	}
	return smoothVoxels(img, s, 0, workers)
}

// gaussianKernel returns the normalised sampled kernel of radius r.
func gaussianKernel(sigma float64, r int) []float64 {
	k := make([]float64, 2*r+1)
	var sum float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func kernelRadius(sigma float64, maxWidth int) int {
	r := int(math.Ceil(4 * sigma))
	if maxWidth > 0 {
		if lim := (maxWidth - 1) / 2; r > lim {
			r = lim
		}
	}
	if r < 1 {
		r = 1
	}
	return r
}

func smoothVoxels(img *volume.Image, sigma [3]float64, maxWidth, workers int) *volume.Image {
	pt := img.PixelType()
	if !pt.IsFloat() {
		pt = volume.Float32
	}
	g := img.Grid()
	comps := img.Components()
	data := append([]float64(nil), img.Samples()...)

	for axis := 0; axis < g.Dim; axis++ {
		n := g.Size[axis]
		if sigma[axis] < 1e-3 || n < 2 {
			continue
		}
		r := kernelRadius(sigma[axis], maxWidth)
		convolveAxis(data, g, comps, axis, gaussianKernel(sigma[axis], r), workers)
	}
	if pt == volume.Float32 {
		for i, v := range data {
			data[i] = float64(float32(v))
		}
	}
	return volume.MustFromData(g, pt, comps, data)
}

// convolveAxis filters every line along axis in place with kernel k using
// FFT products. Lines are padded by replicating the edge samples.
func convolveAxis(data []float64, g volume.Grid, comps, axis int, k []float64, workers int) {
	n := g.Size[axis]
	r := (len(k) - 1) / 2
	size := n + 2*r

	var starts []int
	stride := 1
	switch axis {
	case 0:
		for z := 0; z < g.Size[2]; z++ {
			for y := 0; y < g.Size[1]; y++ {
				starts = append(starts, g.Offset(0, y, z))
			}
		}
	case 1:
		stride = g.Size[0]
		for z := 0; z < g.Size[2]; z++ {
			for x := 0; x < g.Size[0]; x++ {
				starts = append(starts, g.Offset(x, 0, z))
			}
		}
	default:
		stride = g.Size[0] * g.Size[1]
		for y := 0; y < g.Size[1]; y++ {
			for x := 0; x < g.Size[0]; x++ {
				starts = append(starts, g.Offset(x, y, 0))
			}
		}
	}

	// circular kernel, centred on sample 0
	kernelFFT := fourier.NewFFT(size)
	circ := make([]float64, size)
	for m := -r; m <= r; m++ {
		circ[((m%size)+size)%size] += k[m+r]
	}
	kc := kernelFFT.Coefficients(nil, circ)

	parallel.For(len(starts), parallel.Workers(workers), func(_, lo, hi int) {
		fft := fourier.NewFFT(size)
		line := make([]float64, size)
		coef := make([]complex128, size/2+1)
		out := make([]float64, size)
		scale := 1 / float64(size)
		for _, start := range starts[lo:hi] {
			for c := 0; c < comps; c++ {
				first := data[start*comps+c]
				last := data[(start+(n-1)*stride)*comps+c]
				for i := 0; i < r; i++ {
					line[i] = first
					line[r+n+i] = last
				}
				for i := 0; i < n; i++ {
					line[r+i] = data[(start+i*stride)*comps+c]
				}
				coef = fft.Coefficients(coef, line)
				for i := range coef {
					coef[i] *= kc[i]
				}
				out = fft.Sequence(out, coef)
				for i := 0; i < n; i++ {
					data[(start+i*stride)*comps+c] = out[r+i] * scale
				}
			}
		}
	})
}
