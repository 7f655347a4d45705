// Package quality scores how well a registered image matches its reference.
// The numbers are for QC reports and are independent of the metric the
// registration optimized.
package quality

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"volreg/pkg/imaging"
	"volreg/pkg/volume"
)

// ErrGridMismatch is returned when the two images do not share a grid.
var ErrGridMismatch = errors.New("quality: images must share a grid")

// entropyBins is the histogram size of Entropy.
const entropyBins = 256

// Report holds the similarity measures between a reference and a registered
// image.
type Report struct {
	// RMSE is the root mean square intensity difference.
	RMSE float64 `yaml:"rmse"`

	// MI is the Gaussian mutual information estimate
	// 0.5 log(var(X) var(Y) / (var(X) var(Y) - cov(X,Y)^2)).
	MI float64 `yaml:"mi"`

	// SSIM is the global structural similarity, with the dynamic range of
	// the reference.
	SSIM float64 `yaml:"ssim"`

	// EntropyDiff is the absolute difference of the 256-bin Shannon
	// entropies, in bits.
	EntropyDiff float64 `yaml:"entropyDiff"`

	// EdgeCorrelation correlates the gradient magnitudes of both images.
	EdgeCorrelation float64 `yaml:"edgeCorrelation"`
}

// Overlap compares two binary structures.
type Overlap struct {
	Dice    float64 `yaml:"dice"`
	Jaccard float64 `yaml:"jaccard"`
}

func sameGrid(ref, img *volume.Image) error {
	if ref.Components() != 1 || img.Components() != 1 {
		return fmt.Errorf("quality: scalar images required")
	}
	if !ref.Grid().Equal(img.Grid(), 1e-6) {
		return ErrGridMismatch
	}
	return nil
}

// Compare scores img against ref.
func Compare(ref, img *volume.Image, workers int) (Report, error) {
	if err := sameGrid(ref, img); err != nil {
		return Report{}, err
	}
	x, y := ref.AsFloat().Samples(), img.AsFloat().Samples()

	r := Report{
		RMSE:        RMSE(x, y),
		MI:          GaussianMI(x, y),
		EntropyDiff: math.Abs(Entropy(x) - Entropy(y)),
	}
	lo, hi := ref.MinMax()
	r.SSIM = SSIM(x, y, hi-lo)

	ex, err := edgeMagnitude(ref, workers)
	if err != nil {
		return r, err
	}
	ey, err := edgeMagnitude(img, workers)
	if err != nil {
		return r, err
	}
	if c := stat.Correlation(ex, ey, nil); !math.IsNaN(c) {
		r.EdgeCorrelation = c
	}
	return r, nil
}

// RMSE computes the root mean square error
func RMSE(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n == 0 {
		return 0
	}
	mse := 0.0
	for i := range x {
		d := x[i] - y[i]
		mse += d * d
	}
	return math.Sqrt(mse / float64(n))
}

// GaussianMI estimates mutual information from the covariance of x and y.
// It is 0 for constant inputs and +Inf for perfectly correlated ones.
func GaussianMI(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return 0
	}
	vx := stat.Variance(x, nil)
	vy := stat.Variance(y, nil)
	if vx <= 0 || vy <= 0 {
		return 0
	}
	cov := stat.Covariance(x, y, nil)
	det := vx*vy - cov*cov
	if det <= 0 {
		return math.Inf(1)
	}
	return 0.5 * math.Log(vx*vy/det)
}

// SSIM computes the structural similarity of x and y as a single window.
// dynamicRange sets the stabilising constants; a non-positive range uses 1.
func SSIM(x, y []float64, dynamicRange float64) float64 {
	const k1, k2 = 0.01, 0.03
	n := len(x)
	if n != len(y) || n < 2 {
		return 0
	}
	if !(dynamicRange > 0) {
		dynamicRange = 1
	}
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// Entropy computes the Shannon entropy of data over 256 equal bins between
// its minimum and maximum, in bits.
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi <= lo {
		return 0
	}

	hist := make([]float64, entropyBins)
	width := (hi - lo) / entropyBins
	for _, v := range data {
		b := int((v - lo) / width)
		if b >= entropyBins {
			b = entropyBins - 1
		}
		hist[b]++
	}
	h := 0.0
	for _, c := range hist {
		if c > 0 {
			p := c / float64(n)
			h -= p * math.Log2(p)
		}
	}
	return h
}

func edgeMagnitude(img *volume.Image, workers int) ([]float64, error) {
	g, err := imaging.Gradient(img.AsFloat(), workers)
	if err != nil {
		return nil, err
	}
	comps := g.Components()
	s := g.Samples()
	out := make([]float64, g.NumVoxels())
	for i := range out {
		m := 0.0
		for c := 0; c < comps; c++ {
			v := s[i*comps+c]
			m += v * v
		}
		out[i] = math.Sqrt(m)
	}
	return out, nil
}

// CompareStructures measures the overlap of two binary structures. Two
// empty structures overlap perfectly.
func CompareStructures(a, b *volume.Image) (Overlap, error) {
	if err := sameGrid(a, b); err != nil {
		return Overlap{}, err
	}
	if !a.IsBinary() || !b.IsBinary() {
		return Overlap{}, fmt.Errorf("quality: structures must be binary")
	}
	var na, nb, both float64
	sa, sb := a.Samples(), b.Samples()
	for i := range sa {
		ina, inb := sa[i] != 0, sb[i] != 0
		if ina {
			na++
		}
		if inb {
			nb++
		}
		if ina && inb {
			both++
		}
	}
	if na+nb == 0 {
		return Overlap{Dice: 1, Jaccard: 1}, nil
	}
	return Overlap{
		Dice:    2 * both / (na + nb),
		Jaccard: both / (na + nb - both),
	}, nil
}
