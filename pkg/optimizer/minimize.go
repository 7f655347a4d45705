package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Objective evaluates the function at x. When grad is non-nil it also writes
// the gradient into it.
type Objective func(x, grad []float64) (float64, error)

// Settings bound a single optimization run.
type Settings struct {
	// Iterations caps the number of accepted steps. Zero means no cap.
	Iterations int

	// Scales holds one positive weight per parameter. The optimizer works on
	// y = x * sqrt(scale), so larger scales mean smaller steps in x.
	Scales []float64

	// Workers is the number of concurrent evaluations for Exhaustive.
	Workers int

	// Observer, if set, receives every accepted iterate.
	Observer func(iteration int, value float64)
}

// Result is the best point found.
type Result struct {
	X           []float64
	Value       float64
	Iterations  int
	Evaluations int
	// Status names the stop condition, followed by the first rejected trial
	// error if there was one.
	Status string
}

// stagnation lists the line-search outcomes that end a run normally: the
// method could not find a better point along its direction.
var stagnation = []error{
	optimize.ErrNoProgress,
	optimize.ErrLinesearcherFailure,
	optimize.ErrNonDescentDirection,
	optimize.ErrLinesearcherBound,
}

func isStagnation(err error) bool {
	for _, s := range stagnation {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// scaledObjective runs the caller's objective on unscaled parameters.
type scaledObjective struct {
	f    Objective
	sqrt []float64

	mu  sync.Mutex
	err error

	// last gradient evaluation; gonum asks for Func and Grad separately
	lastY []float64
	lastG []float64
}

func (o *scaledObjective) unscale(y []float64) []float64 {
	x := make([]float64, len(y))
	for i, v := range y {
		x[i] = v / o.sqrt[i]
	}
	return x
}

func (o *scaledObjective) fail(err error) {
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
}

func (o *scaledObjective) valueOnly(y []float64) float64 {
	v, err := o.f(o.unscale(y), nil)
	if err != nil {
		o.fail(err)
		return math.Inf(1)
	}
	return v
}

func (o *scaledObjective) withGradient(y, grad []float64) float64 {
	gx := make([]float64, len(y))
	v, err := o.f(o.unscale(y), gx)
	if err != nil {
		o.fail(err)
		for i := range grad {
			grad[i] = 0
		}
		return math.Inf(1)
	}
	for i := range grad {
		grad[i] = gx[i] / o.sqrt[i]
	}
	return v
}

func (o *scaledObjective) problem(gradient bool) optimize.Problem {
	if !gradient {
		return optimize.Problem{Func: o.valueOnly}
	}
	return optimize.Problem{
		Func: func(y []float64) float64 {
			g := make([]float64, len(y))
			v := o.withGradient(y, g)
			o.lastY = append(o.lastY[:0], y...)
			o.lastG = g
			return v
		},
		Grad: func(grad, y []float64) {
			if o.lastG != nil && floats.Equal(y, o.lastY) {
				copy(grad, o.lastG)
				return
			}
			o.withGradient(y, grad)
		},
	}
}

type observerRecorder struct {
	fn   func(int, float64)
	iter int
}

func (r *observerRecorder) Init() error { return nil }

func (r *observerRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op == optimize.MajorIteration {
		r.iter++
		r.fn(r.iter, loc.F)
	}
	return nil
}

// Minimize runs opt on f starting at x0. A failing evaluation at the start,
// or one that leaves no finite point, is returned as the error. A failing
// trial point is scored +Inf, so the line search steps back from it; the run
// then carries on and the first such error is reported in Result.Status.
func Minimize(opt Optimizer, f Objective, x0 []float64, s Settings) (*Result, error) {
	n := len(x0)
	if n == 0 {
		return nil, fmt.Errorf("optimizer: no parameters to optimize")
	}
	obj := &scaledObjective{f: f, sqrt: make([]float64, n)}
	for i := range obj.sqrt {
		obj.sqrt[i] = 1
		if i < len(s.Scales) && s.Scales[i] > 0 && !math.IsInf(s.Scales[i], 0) {
			obj.sqrt[i] = math.Sqrt(s.Scales[i])
		}
	}
	y0 := make([]float64, n)
	for i, v := range x0 {
		y0[i] = v * obj.sqrt[i]
	}

	settings := &optimize.Settings{MajorIterations: s.Iterations}
	if s.Observer != nil {
		settings.Recorder = &observerRecorder{fn: s.Observer}
	}

	if ex, ok := opt.(Exhaustive); ok {
		return runExhaustive(ex, obj, y0, settings, s.Workers)
	}

	// Evaluate the start once: it seeds gonum and sizes the first step.
	g0 := make([]float64, n)
	f0 := obj.withGradient(y0, g0)
	if obj.err != nil {
		return nil, obj.err
	}
	if math.IsNaN(f0) || math.IsInf(f0, 0) {
		return nil, fmt.Errorf("optimizer: initial value is %v", f0)
	}
	settings.InitValues = &optimize.Location{F: f0, Gradient: g0}
	gmax := floats.Norm(g0, math.Inf(1))
	if gmax == 0 {
		return &Result{X: append([]float64(nil), x0...), Value: f0, Evaluations: 1, Status: "zero gradient"}, nil
	}

	var method optimize.Method
	converger := optimize.Converger(&optimize.FunctionConverge{Relative: 1e-6, Iterations: 10})
	switch o := opt.(type) {
	case LBFGSB:
		store := o.MaxCorrections
		if store < 1 {
			store = 50
		}
		method = &optimize.LBFGS{Store: store}
		settings.GradientThreshold = o.GradientTolerance
		settings.FuncEvaluations = o.MaxFunctionEvaluations
		converger = &optimize.FunctionConverge{Relative: o.CostFactor * 2.220446049250313e-16, Iterations: 1}
	case GradientDescent:
		lr := o.LearningRate
		if lr <= 0 {
			lr = 1
		}
		method = &optimize.GradientDescent{
			Linesearcher: &optimize.Backtracking{},
			StepSizer:    optimize.ConstantStepSize{Size: lr / gmax},
		}
		converger = optimize.NeverTerminate{}
		if o.ConvergenceWindow > 0 {
			converger = &optimize.FunctionConverge{Relative: o.ConvergenceMinimum, Iterations: o.ConvergenceWindow}
		}
	case GradientDescentLineSearch:
		method = &optimize.GradientDescent{
			Linesearcher: &optimize.MoreThuente{},
			StepSizer:    &optimize.QuadraticStepSize{InitialStepFactor: positiveOr(o.LearningRate, 1)},
		}
	case ConjugateGradientLineSearch:
		method = &optimize.CG{
			Linesearcher: &optimize.MoreThuente{},
			InitialStep:  &optimize.FirstOrderStepSize{InitialStepFactor: positiveOr(o.LearningRate, 1)},
		}
	case LBFGS:
		store := o.MaxCorrections
		if store < 1 {
			store = 6
		}
		method = &optimize.LBFGS{Store: store}
	default:
		return nil, fmt.Errorf("optimizer: unsupported optimizer %T", opt)
	}
	settings.Converger = converger

	res, err := optimize.Minimize(obj.problem(true), y0, settings, method)
	if res == nil {
		return nil, err
	}
	if math.IsInf(res.F, 1) && obj.err != nil {
		return nil, obj.err
	}
	status := res.Status.String()
	if err != nil {
		if !isStagnation(err) {
			return nil, err
		}
		status = err.Error()
	}
	if obj.err != nil {
		status += "; rejected trial: " + obj.err.Error()
	}
	return &Result{
		X:           obj.unscale(res.X),
		Value:       res.F,
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations + 1,
		Status:      status,
	}, nil
}

func positiveOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
