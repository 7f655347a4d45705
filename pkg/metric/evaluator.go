package metric

import (
	"errors"
	"fmt"
	"math"

	"volreg/internal/parallel"
	"volreg/pkg/imaging"
	"volreg/pkg/interpolation"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// ErrNoOverlap is returned when no sample maps inside the moving image.
var ErrNoOverlap = errors.New("metric: no valid samples in the image overlap")

// Setup describes one pyramid level to evaluate on.
type Setup struct {
	Fixed  *volume.Image
	Moving *volume.Image

	// Optional binary masks; nil means no restriction.
	FixedMask  *volume.Image
	MovingMask *volume.Image

	// Initial is applied after the optimized transform and is not optimized.
	Initial *transform.Linear

	// SamplingRate is the fraction of fixed voxels used, taken on a regular
	// stride. Values >= 1 (or <= 0) use every voxel.
	SamplingRate float64

	Workers int
}

// Evaluator computes a metric and its parameter gradient for a fixed pair of
// level images. It is safe for concurrent use.
type Evaluator struct {
	metric  Metric
	fixed   *volume.Image
	moving  *interpolation.Interpolator
	grad    *interpolation.Interpolator
	mask    *interpolation.Interpolator
	initial *transform.Linear
	m0      [9]float64
	workers int

	samples []int        // fixed voxel indices
	points  [][3]float64 // their physical positions
	values  []float64    // fixed intensities at the samples

	fixedRange  [2]float64
	movingRange [2]float64
	denseValid  []bool // fixed mask over the whole grid, NeighborhoodCorrelation only
}

// NewEvaluator prepares the sample set and interpolators for m.
func NewEvaluator(m Metric, s Setup) (*Evaluator, error) {
	if m == nil {
		return nil, fmt.Errorf("metric: no metric given")
	}
	if err := volume.SameDimension(s.Fixed, s.Moving); err != nil {
		return nil, err
	}
	if s.Fixed.Components() != 1 || s.Moving.Components() != 1 {
		return nil, fmt.Errorf("metric: images must be scalar")
	}
	moving, err := interpolation.New(s.Moving, interpolation.Linear)
	if err != nil {
		return nil, err
	}
	gradImg, err := imaging.Gradient(s.Moving, s.Workers)
	if err != nil {
		return nil, err
	}
	grad, err := interpolation.New(gradImg, interpolation.Linear)
	if err != nil {
		return nil, err
	}
	e := &Evaluator{
		metric:  m,
		fixed:   s.Fixed,
		moving:  moving,
		grad:    grad,
		initial: s.Initial,
		m0:      [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		workers: s.Workers,
	}
	if s.Initial != nil {
		if s.Initial.Dim() != s.Fixed.Dim() {
			return nil, fmt.Errorf("%w: %d-D initial transform for %d-D images", volume.ErrGeometryMismatch, s.Initial.Dim(), s.Fixed.Dim())
		}
		e.m0 = s.Initial.Matrix()
	}
	if s.MovingMask != nil {
		if e.mask, err = interpolation.New(s.MovingMask, interpolation.NearestNeighbor); err != nil {
			return nil, err
		}
	}

	var fixedMask *interpolation.Interpolator
	if s.FixedMask != nil {
		if fixedMask, err = interpolation.New(s.FixedMask, interpolation.NearestNeighbor); err != nil {
			return nil, err
		}
	}
	g := s.Fixed.Grid()
	inFixedMask := func(p [3]float64) bool {
		if fixedMask == nil {
			return true
		}
		v, ok := fixedMask.EvaluateAt(p)
		return ok && v != 0
	}

	stride := 1
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		stride = int(math.Round(1 / s.SamplingRate))
	}
	if _, dense := m.(NeighborhoodCorrelation); dense {
		e.denseValid = make([]bool, g.NumVoxels())
	}
	for idx := 0; idx < g.NumVoxels(); idx++ {
		p := g.VoxelPoint(idx)
		if !inFixedMask(p) {
			continue
		}
		if e.denseValid != nil {
			e.denseValid[idx] = true
		}
		if idx%stride != 0 {
			continue
		}
		e.samples = append(e.samples, idx)
		e.points = append(e.points, p)
		e.values = append(e.values, s.Fixed.Value(idx))
	}
	if len(e.samples) == 0 {
		return nil, fmt.Errorf("%w: fixed mask excludes every sample", ErrNoOverlap)
	}

	e.fixedRange[0], e.fixedRange[1] = math.Inf(1), math.Inf(-1)
	for _, v := range e.values {
		e.fixedRange[0] = math.Min(e.fixedRange[0], v)
		e.fixedRange[1] = math.Max(e.fixedRange[1], v)
	}
	e.movingRange[0], e.movingRange[1] = s.Moving.MinMax()
	return e, nil
}

// Metric returns the configured metric.
func (e *Evaluator) Metric() Metric { return e.metric }

// NumSamples returns the number of fixed samples.
func (e *Evaluator) NumSamples() int { return len(e.samples) }

// sampleState holds the per-sample results of the mapping pass.
type sampleState struct {
	valid []bool
	m     []float64
	v     [][3]float64 // d(moving)/d(mapped point) pulled back through Initial
}

func newSampleState(n int, withGrad bool) *sampleState {
	st := &sampleState{valid: make([]bool, n), m: make([]float64, n)}
	if withGrad {
		st.v = make([][3]float64, n)
	}
	return st
}

// mapSample fills slot k of st for the fixed point x.
func (e *Evaluator) mapSample(t transform.Transform, x [3]float64, k int, st *sampleState) {
	y := t.TransformPoint(x)
	if e.initial != nil {
		y = e.initial.TransformPoint(y)
	}
	if e.mask != nil {
		if v, ok := e.mask.EvaluateAt(y); !ok || v == 0 {
			return
		}
	}
	ci := e.moving.Grid().PhysicalToIndex(y)
	var m [1]float64
	if !e.moving.Evaluate(ci, m[:]) {
		return
	}
	st.valid[k] = true
	st.m[k] = m[0]
	if st.v == nil {
		return
	}
	var g [3]float64
	e.grad.Evaluate(ci, g[:e.grad.Components()])
	a := e.m0
	st.v[k] = [3]float64{
		a[0]*g[0] + a[3]*g[1] + a[6]*g[2],
		a[1]*g[0] + a[4]*g[1] + a[7]*g[2],
		a[2]*g[0] + a[5]*g[1] + a[8]*g[2],
	}
}

// Value evaluates the metric at t.
func (e *Evaluator) Value(t transform.Transform) (float64, error) {
	return e.evaluate(t, nil, nil)
}

// ValueAndGradient evaluates the metric at t and writes its gradient with
// respect to the parameters of t into grad.
func (e *Evaluator) ValueAndGradient(t transform.Parametric, grad []float64) (float64, error) {
	if len(grad) != t.NumParameters() {
		return 0, fmt.Errorf("metric: gradient has length %d, transform has %d parameters", len(grad), t.NumParameters())
	}
	return e.evaluate(t, t.Jacobian(), grad)
}

func (e *Evaluator) evaluate(t transform.Transform, jac transform.JacobianProduct, grad []float64) (float64, error) {
	if t.Dim() != e.fixed.Dim() {
		return 0, fmt.Errorf("%w: %d-D transform for %d-D images", volume.ErrGeometryMismatch, t.Dim(), e.fixed.Dim())
	}
	withGrad := jac != nil
	workers := parallel.Workers(e.workers)

	if nc, ok := e.metric.(NeighborhoodCorrelation); ok {
		return e.neighborhoodCorrelation(nc, t, jac, grad, workers)
	}

	n := len(e.samples)
	st := newSampleState(n, withGrad)
	parallel.For(n, workers, func(_, lo, hi int) {
		for k := lo; k < hi; k++ {
			e.mapSample(t, e.points[k], k, st)
		}
	})

	var value float64
	var coef []float64
	var err error
	switch m := e.metric.(type) {
	case MeanSquares, DemonsMetric:
		value, coef, err = meanSquares(e.values, st, withGrad)
	case Correlation:
		value, coef, err = correlation(e.values, st, withGrad)
	case MattesMutualInformation:
		value, coef, err = e.mutualInformation(m.Bins, DefaultLinearBins, false, st, withGrad)
	case JointHistogramMutualInformation:
		value, coef, err = e.mutualInformation(m.Bins, DefaultJointBins, true, st, withGrad)
	default:
		return 0, fmt.Errorf("metric: unsupported metric %T", e.metric)
	}
	if err != nil {
		return 0, err
	}
	if withGrad {
		e.accumulate(jac, n, func(k int) [3]float64 { return e.points[k] }, st, coef, grad, workers)
	}
	return value, nil
}

// accumulate writes sum_k coef_k J(x_k)^T v_k into grad. Chunks are summed in
// order so results do not depend on scheduling.
func (e *Evaluator) accumulate(jac transform.JacobianProduct, n int, point func(int) [3]float64, st *sampleState, coef, grad []float64, workers int) {
	chunks := parallel.Chunks(n, workers)
	partial := make([][]float64, chunks)
	parallel.For(n, workers, func(chunk, lo, hi int) {
		g := make([]float64, len(grad))
		for k := lo; k < hi; k++ {
			if !st.valid[k] || coef[k] == 0 {
				continue
			}
			v := st.v[k]
			c := coef[k]
			jac(point(k), [3]float64{c * v[0], c * v[1], c * v[2]}, g)
		}
		partial[chunk] = g
	})
	for i := range grad {
		grad[i] = 0
	}
	for _, g := range partial {
		for i, v := range g {
			grad[i] += v
		}
	}
}

func countValid(st *sampleState) int {
	n := 0
	for _, ok := range st.valid {
		if ok {
			n++
		}
	}
	return n
}

func meanSquares(f []float64, st *sampleState, withGrad bool) (float64, []float64, error) {
	n := countValid(st)
	if n == 0 {
		return 0, nil, ErrNoOverlap
	}
	var sum float64
	var coef []float64
	if withGrad {
		coef = make([]float64, len(f))
	}
	inv := 1 / float64(n)
	for k, ok := range st.valid {
		if !ok {
			continue
		}
		d := st.m[k] - f[k]
		sum += d * d
		if coef != nil {
			coef[k] = 2 * d * inv
		}
	}
	return sum * inv, coef, nil
}
