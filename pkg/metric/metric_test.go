package metric

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// blob returns a smooth Gaussian blob centred at c (physical mm).
func blob(size int, spacing float64, c [3]float64) *volume.Image {
	g := volume.NewGrid3D([3]int{size, size, size}, [3]float64{spacing, spacing, spacing}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	s := float64(size) * spacing / 5
	for i := range data {
		p := g.VoxelPoint(i)
		d2 := (p[0]-c[0])*(p[0]-c[0]) + (p[1]-c[1])*(p[1]-c[1]) + 1.5*(p[2]-c[2])*(p[2]-c[2])
		data[i] = 100 * math.Exp(-d2/(2*s*s))
	}
	return volume.MustFromData(g, volume.Float32, 1, data)
}

func centre(size int, spacing float64) [3]float64 {
	c := float64(size-1) * spacing / 2
	return [3]float64{c, c, c}
}

func translation(t *testing.T, x, y, z float64) *transform.Linear {
	t.Helper()
	l, err := transform.NewLinearWithParameters(transform.Translation, 3, [3]float64{}, []float64{x, y, z})
	require.NoError(t, err)
	return l
}

func TestIdenticalImagesAtIdentity(t *testing.T) {
	img := blob(16, 1, centre(16, 1))
	id := translation(t, 0, 0, 0)

	cases := []struct {
		m    Metric
		want float64
	}{
		{MeanSquares{}, 0},
		{DemonsMetric{}, 0},
		{Correlation{}, -1},
		{NeighborhoodCorrelation{Radius: 2}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.m.Name(), func(t *testing.T) {
			e, err := NewEvaluator(tc.m, Setup{Fixed: img, Moving: img, Workers: 2})
			require.NoError(t, err)
			v, err := e.Value(id)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, v, 1e-6)
		})
	}
}

func TestMetricsPreferAlignment(t *testing.T) {
	fixed := blob(16, 1, centre(16, 1))
	moving := blob(16, 1, centre(16, 1))
	for _, m := range []Metric{
		MeanSquares{},
		Correlation{},
		MattesMutualInformation{Bins: 32},
		JointHistogramMutualInformation{},
		NeighborhoodCorrelation{Radius: 2},
	} {
		t.Run(m.Name(), func(t *testing.T) {
			e, err := NewEvaluator(m, Setup{Fixed: fixed, Moving: moving, SamplingRate: 0.5})
			require.NoError(t, err)
			aligned, err := e.Value(translation(t, 0, 0, 0))
			require.NoError(t, err)
			shifted, err := e.Value(translation(t, 3, -2, 1))
			require.NoError(t, err)
			assert.Less(t, aligned, shifted)
		})
	}
}

func TestGradientsAgreeWithFiniteDifferences(t *testing.T) {
	fixed := blob(20, 1, centre(20, 1))
	c := centre(20, 1)
	moving := blob(20, 1, [3]float64{c[0] + 1.5, c[1] - 1, c[2] + 0.5})
	start := translation(t, 0.3, -0.2, 0.1)

	for _, m := range []Metric{MeanSquares{}, Correlation{}} {
		t.Run(m.Name(), func(t *testing.T) {
			e, err := NewEvaluator(m, Setup{Fixed: fixed, Moving: moving, Workers: 3})
			require.NoError(t, err)
			analytic := make([]float64, 3)
			_, err = e.ValueAndGradient(start, analytic)
			require.NoError(t, err)

			numeric := fd.Gradient(nil, func(p []float64) float64 {
				tr, err := start.WithParameters(p)
				require.NoError(t, err)
				v, err := e.Value(tr)
				require.NoError(t, err)
				return v
			}, start.Parameters(), &fd.Settings{Formula: fd.Central, Step: 1e-3})

			cos := floats.Dot(analytic, numeric) / (floats.Norm(analytic, 2) * floats.Norm(numeric, 2))
			assert.Greater(t, cos, 0.95, "analytic %v numeric %v", analytic, numeric)
		})
	}
}

func TestGradientIsDeterministic(t *testing.T) {
	fixed := blob(12, 1, centre(12, 1))
	moving := blob(12, 1, [3]float64{6, 5, 5})
	e, err := NewEvaluator(MattesMutualInformation{}, Setup{Fixed: fixed, Moving: moving, Workers: 4})
	require.NoError(t, err)
	tr := translation(t, 0.2, 0.1, 0)
	a := make([]float64, 3)
	b := make([]float64, 3)
	_, err = e.ValueAndGradient(tr, a)
	require.NoError(t, err)
	_, err = e.ValueAndGradient(tr, b)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSamplingStride(t *testing.T) {
	img := blob(10, 1, centre(10, 1))
	e, err := NewEvaluator(MeanSquares{}, Setup{Fixed: img, Moving: img, SamplingRate: 0.25})
	require.NoError(t, err)
	assert.Equal(t, 250, e.NumSamples())

	all, err := NewEvaluator(MeanSquares{}, Setup{Fixed: img, Moving: img, SamplingRate: 1})
	require.NoError(t, err)
	assert.Equal(t, 1000, all.NumSamples())
}

func TestFixedMaskRestrictsSamples(t *testing.T) {
	img := blob(10, 1, centre(10, 1))
	g := img.Grid()
	mask := make([]float64, g.NumVoxels())
	for i := range mask {
		if x, _, _ := g.Coords(i); x < 5 {
			mask[i] = 1
		}
	}
	e, err := NewEvaluator(MeanSquares{}, Setup{
		Fixed:     img,
		Moving:    img,
		FixedMask: volume.MustFromData(g, volume.Uint8, 1, mask),
	})
	require.NoError(t, err)
	assert.Equal(t, 500, e.NumSamples())

	_, err = NewEvaluator(MeanSquares{}, Setup{
		Fixed:     img,
		Moving:    img,
		FixedMask: volume.MustFromData(g, volume.Uint8, 1, make([]float64, g.NumVoxels())),
	})
	assert.True(t, errors.Is(err, ErrNoOverlap))
}

func TestNoOverlap(t *testing.T) {
	img := blob(8, 1, centre(8, 1))
	e, err := NewEvaluator(MeanSquares{}, Setup{Fixed: img, Moving: img})
	require.NoError(t, err)
	_, err = e.Value(translation(t, 100, 0, 0))
	assert.ErrorIs(t, err, ErrNoOverlap)
}

func TestDimensionMismatch(t *testing.T) {
	img := blob(8, 1, centre(8, 1))
	flat := volume.MustFromData(volume.NewGrid2D(8, 8, [2]float64{1, 1}, [2]float64{}), volume.Float32, 1, make([]float64, 64))
	_, err := NewEvaluator(MeanSquares{}, Setup{Fixed: img, Moving: flat})
	assert.ErrorIs(t, err, volume.ErrGeometryMismatch)
}

func TestInitialTransformIsApplied(t *testing.T) {
	c := centre(16, 1)
	fixed := blob(16, 1, c)
	moving := blob(16, 1, [3]float64{c[0] + 2, c[1], c[2]})
	e, err := NewEvaluator(MeanSquares{}, Setup{Fixed: fixed, Moving: moving, Initial: translation(t, 2, 0, 0)})
	require.NoError(t, err)
	v, err := e.Value(translation(t, 0, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-6)
}
