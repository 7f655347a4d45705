// Package optimizer configures the gonum optimization methods used by the
// registration stages and runs them on scaled parameter vectors.
package optimizer

// Optimizer is the closed set of optimization strategies.
type Optimizer interface {
	Name() string
	optimizer()
}

// LinearOptimizer is an optimizer accepted by the linear stage.
type LinearOptimizer interface {
	Optimizer
	linearOptimizer()
}

// BSplineOptimizer is an optimizer accepted by the B-spline stage.
type BSplineOptimizer interface {
	Optimizer
	bsplineOptimizer()
}

// LBFGSB is a limited-memory quasi-Newton method. Parameters are unbounded,
// so it runs as plain L-BFGS with the same stopping criteria.
type LBFGSB struct {
	GradientTolerance      float64
	MaxCorrections         int
	MaxFunctionEvaluations int
	// CostFactor scales machine epsilon into the relative function-change
	// tolerance.
	CostFactor float64
}

// GradientDescent takes steps of LearningRate along the normalised negative
// gradient, shortened by backtracking when they fail to decrease the metric.
type GradientDescent struct {
	LearningRate float64
	// ConvergenceMinimum and ConvergenceWindow stop the run when the metric
	// improves by less than ConvergenceMinimum (relative) over that many
	// iterations. Zero disables the check.
	ConvergenceMinimum float64
	ConvergenceWindow  int
}

// GradientDescentLineSearch picks each step with a More-Thuente line search.
type GradientDescentLineSearch struct {
	LearningRate float64
}

// ConjugateGradientLineSearch is nonlinear conjugate gradient with a
// More-Thuente line search.
type ConjugateGradientLineSearch struct {
	LearningRate float64
}

// LBFGS is limited-memory BFGS with a small history.
type LBFGS struct {
	MaxCorrections int
}

// Exhaustive evaluates every point of a regular grid of 2*Samples[i]+1
// positions per parameter, StepLength apart in scaled units. It is
// experimental: the grid grows exponentially with the parameter count.
type Exhaustive struct {
	Samples    []int
	StepLength float64
}

// DefaultLBFGSB returns the linear-stage L-BFGS-B settings.
func DefaultLBFGSB() LBFGSB {
	return LBFGSB{GradientTolerance: 1e-5, MaxCorrections: 50, MaxFunctionEvaluations: 1024, CostFactor: 1e7}
}

// DefaultBSplineLBFGSB returns the B-spline-stage L-BFGS-B settings.
func DefaultBSplineLBFGSB() LBFGSB {
	o := DefaultLBFGSB()
	o.MaxCorrections = 5
	return o
}

// DefaultExhaustive returns ten samples on each side for the six rigid
// parameters.
func DefaultExhaustive() Exhaustive {
	return Exhaustive{Samples: []int{10, 10, 10, 10, 10, 10}, StepLength: 1}
}

func (LBFGSB) Name() string                      { return "lbfgsb" }
func (GradientDescent) Name() string             { return "gradient_descent" }
func (GradientDescentLineSearch) Name() string   { return "gradient_descent_line_search" }
func (ConjugateGradientLineSearch) Name() string { return "cgls" }
func (LBFGS) Name() string                       { return "lbfgs" }
func (Exhaustive) Name() string                  { return "exhaustive" }

func (LBFGSB) optimizer()                      {}
func (GradientDescent) optimizer()             {}
func (GradientDescentLineSearch) optimizer()   {}
func (ConjugateGradientLineSearch) optimizer() {}
func (LBFGS) optimizer()                       {}
func (Exhaustive) optimizer()                  {}

func (LBFGSB) linearOptimizer()                    {}
func (GradientDescent) linearOptimizer()           {}
func (GradientDescentLineSearch) linearOptimizer() {}
func (Exhaustive) linearOptimizer()                {}

func (LBFGSB) bsplineOptimizer()                      {}
func (GradientDescent) bsplineOptimizer()             {}
func (GradientDescentLineSearch) bsplineOptimizer()   {}
func (ConjugateGradientLineSearch) bsplineOptimizer() {}
func (LBFGS) bsplineOptimizer()                       {}
