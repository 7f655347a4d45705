package optimizer

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/optimize"
)

// gridRander hands out the points of a regular grid one at a time, in
// odometer order. It wraps around after the last point.
type gridRander struct {
	mu     sync.Mutex
	centre []float64
	half   []int
	step   float64
	pos    []int
}

func newGridRander(centre []float64, half []int, step float64) *gridRander {
	return &gridRander{centre: centre, half: half, step: step, pos: make([]int, len(centre))}
}

func (g *gridRander) size() int {
	n := 1
	for _, h := range g.half {
		n *= 2*h + 1
	}
	return n
}

// Rand implements distmv.Rander.
func (g *gridRander) Rand(x []float64) []float64 {
	if x == nil {
		x = make([]float64, len(g.centre))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range x {
		x[i] = g.centre[i] + float64(g.pos[i]-g.half[i])*g.step
	}
	for i := range g.pos {
		g.pos[i]++
		if g.pos[i] <= 2*g.half[i] {
			break
		}
		g.pos[i] = 0
	}
	return x
}

func runExhaustive(ex Exhaustive, obj *scaledObjective, y0 []float64, settings *optimize.Settings, workers int) (*Result, error) {
	if len(ex.Samples) != len(y0) {
		return nil, fmt.Errorf("optimizer: exhaustive search needs %d sample counts, got %d", len(y0), len(ex.Samples))
	}
	for i, s := range ex.Samples {
		if s < 0 {
			return nil, fmt.Errorf("optimizer: negative sample count %d for parameter %d", s, i)
		}
	}
	step := ex.StepLength
	if step <= 0 {
		step = 1
	}
	grid := newGridRander(append([]float64(nil), y0...), ex.Samples, step)
	settings.FuncEvaluations = grid.size()
	settings.MajorIterations = 0
	settings.Converger = optimize.NeverTerminate{}
	if workers > 1 {
		settings.Concurrent = workers
	}

	res, err := optimize.Minimize(obj.problem(false), y0, settings, &optimize.GuessAndCheck{Rander: grid})
	if err != nil {
		return nil, err
	}
	if obj.err != nil && math.IsInf(res.F, 1) {
		return nil, obj.err
	}
	return &Result{
		X:           obj.unscale(res.X),
		Value:       res.F,
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations,
		Status:      res.Status.String(),
	}, nil
}
