package optimizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bowl is f(x) = sum w_i (x_i - c_i)^2.
func bowl(c, w []float64) Objective {
	return func(x, grad []float64) (float64, error) {
		var f float64
		for i := range x {
			d := x[i] - c[i]
			f += w[i] * d * d
			if grad != nil {
				grad[i] = 2 * w[i] * d
			}
		}
		return f, nil
	}
}

func TestGradientMethodsFindMinimum(t *testing.T) {
	c := []float64{3, -1, 0.5}
	w := []float64{1, 2, 0.5}
	for _, opt := range []Optimizer{
		DefaultLBFGSB(),
		DefaultBSplineLBFGSB(),
		GradientDescent{LearningRate: 1},
		GradientDescent{LearningRate: 5, ConvergenceMinimum: 1e-9, ConvergenceWindow: 10},
		GradientDescentLineSearch{LearningRate: 1},
		ConjugateGradientLineSearch{LearningRate: 0.05},
		LBFGS{},
	} {
		t.Run(opt.Name(), func(t *testing.T) {
			res, err := Minimize(opt, bowl(c, w), []float64{0, 0, 0}, Settings{Iterations: 500})
			require.NoError(t, err)
			assert.InDeltaSlice(t, c, res.X, 1e-3, "status %s", res.Status)
			assert.InDelta(t, 0, res.Value, 1e-5)
		})
	}
}

func TestScalesDoNotMoveTheMinimum(t *testing.T) {
	c := []float64{0.05, 20}
	res, err := Minimize(LBFGS{}, bowl(c, []float64{1, 1}), []float64{0, 0}, Settings{
		Iterations: 200,
		Scales:     []float64{1e4, 1},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, c, res.X, 1e-3)
}

func TestObserverSeesEveryIteration(t *testing.T) {
	var iters []int
	var values []float64
	res, err := Minimize(GradientDescent{LearningRate: 1}, bowl([]float64{2, 2}, []float64{1, 1}), []float64{0, 0}, Settings{
		Iterations: 5,
		Observer: func(i int, v float64) {
			iters = append(iters, i)
			values = append(values, v)
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, iters)
	for i, it := range iters {
		assert.Equal(t, i+1, it)
	}
	assert.LessOrEqual(t, values[len(values)-1], values[0])
	assert.LessOrEqual(t, res.Iterations, 6)
}

func TestExhaustiveSearchesGrid(t *testing.T) {
	res, err := Minimize(Exhaustive{Samples: []int{2, 2}, StepLength: 1}, bowl([]float64{1, -1}, []float64{1, 1}), []float64{0, 0}, Settings{Workers: 2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, -1}, res.X, 1e-12)
	assert.InDelta(t, 0, res.Value, 1e-12)
}

func TestExhaustiveRejectsWrongSampleCount(t *testing.T) {
	_, err := Minimize(DefaultExhaustive(), bowl([]float64{0}, []float64{1}), []float64{0}, Settings{})
	assert.Error(t, err)
}

func TestGridRanderOrder(t *testing.T) {
	g := newGridRander([]float64{0, 10}, []int{1, 0}, 2)
	assert.Equal(t, 3, g.size())
	assert.Equal(t, []float64{-2, 10}, g.Rand(nil))
	assert.Equal(t, []float64{0, 10}, g.Rand(nil))
	assert.Equal(t, []float64{2, 10}, g.Rand(nil))
	assert.Equal(t, []float64{-2, 10}, g.Rand(nil))
}

func TestObjectiveErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	_, err := Minimize(LBFGS{}, func(x, grad []float64) (float64, error) { return 0, boom }, []float64{1}, Settings{})
	assert.ErrorIs(t, err, boom)
}

func TestRejectedTrialIsReported(t *testing.T) {
	outside := errors.New("outside overlap")
	f := func(x, grad []float64) (float64, error) {
		if x[0] > 6 {
			return 0, outside
		}
		d := x[0] - 3
		if grad != nil {
			grad[0] = 2 * d
		}
		return d * d, nil
	}
	// the first trial lands on x = 12; backtracking falls back to x = 3
	res, err := Minimize(GradientDescent{LearningRate: 12}, f, []float64{0}, Settings{Iterations: 5})
	require.NoError(t, err)
	assert.InDelta(t, 3, res.X[0], 1e-9)
	assert.Contains(t, res.Status, "rejected trial: outside overlap")
}

func TestFlatObjectiveStopsImmediately(t *testing.T) {
	res, err := Minimize(GradientDescent{LearningRate: 1}, func(x, grad []float64) (float64, error) { return 4, nil }, []float64{1, 2}, Settings{Iterations: 10})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, res.X)
	assert.Equal(t, 4.0, res.Value)
}
