package registration

import (
	"strings"

	"volreg/pkg/interpolation"
	"volreg/pkg/metric"
	"volreg/pkg/optimizer"
	"volreg/pkg/transform"
)

func normalise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseFamily maps a transform family name to its value.
func ParseFamily(name string) (transform.Family, error) {
	f, ok := transform.FamilyByName(name)
	if !ok {
		return 0, configErr("transform family", name, "", transform.FamilyNames...)
	}
	return f, nil
}

// LinearMetricNames are the names accepted by ParseLinearMetric.
var LinearMetricNames = []string{"mean_squares", "correlation", "mattes_mi", "joint_hist_mi", "ants"}

// ParseLinearMetric maps a metric name to a linear-stage metric. bins and
// radius replace the defaults when positive.
func ParseLinearMetric(name string, bins, radius int) (metric.LinearMetric, error) {
	switch normalise(name) {
	case "mean_squares":
		return metric.MeanSquares{}, nil
	case "correlation":
		return metric.Correlation{}, nil
	case "mattes_mi", "mattes_mutual_information":
		return metric.MattesMutualInformation{Bins: positive(bins, metric.DefaultLinearBins)}, nil
	case "joint_hist_mi", "joint_histogram_mutual_information":
		return metric.JointHistogramMutualInformation{Bins: positive(bins, metric.DefaultJointBins)}, nil
	case "ants", "ants_neighborhood_correlation":
		return metric.NeighborhoodCorrelation{Radius: positive(radius, metric.DefaultRadius)}, nil
	}
	return nil, configErr("linear metric", name, "", LinearMetricNames...)
}

// BSplineMetricNames are the names accepted by ParseBSplineMetric.
var BSplineMetricNames = []string{"mean_squares", "correlation", "demons", "mutual_information"}

// ParseBSplineMetric maps a metric name to a B-spline-stage metric.
func ParseBSplineMetric(name string, bins int) (metric.BSplineMetric, error) {
	switch normalise(name) {
	case "mean_squares":
		return metric.MeanSquares{}, nil
	case "correlation":
		return metric.Correlation{}, nil
	case "demons":
		return metric.DemonsMetric{}, nil
	case "mutual_information", "mattes_mi", "mattes_mutual_information":
		return metric.MattesMutualInformation{Bins: positive(bins, metric.DefaultBSplineBins)}, nil
	}
	return nil, configErr("B-spline metric", name, "", BSplineMetricNames...)
}

// LinearOptimizerNames are the names accepted by ParseLinearOptimizer.
var LinearOptimizerNames = []string{"gradient_descent", "gradient_descent_line_search", "lbfgsb", "exhaustive"}

// ParseLinearOptimizer maps an optimizer name to its linear-stage settings.
func ParseLinearOptimizer(name string) (optimizer.LinearOptimizer, error) {
	switch normalise(name) {
	case "gradient_descent":
		return optimizer.GradientDescent{LearningRate: 1.0}, nil
	case "gradient_descent_line_search":
		return optimizer.GradientDescentLineSearch{LearningRate: 1.0}, nil
	case "lbfgsb":
		return optimizer.DefaultLBFGSB(), nil
	case "exhaustive":
		return optimizer.DefaultExhaustive(), nil
	}
	return nil, configErr("linear optimizer", name, "", LinearOptimizerNames...)
}

// BSplineOptimizerNames are the names accepted by ParseBSplineOptimizer.
var BSplineOptimizerNames = []string{"lbfgsb", "lbfgs", "cgls", "gradient_descent", "gradient_descent_line_search"}

// ParseBSplineOptimizer maps an optimizer name to its B-spline-stage settings.
func ParseBSplineOptimizer(name string) (optimizer.BSplineOptimizer, error) {
	switch normalise(name) {
	case "lbfgsb":
		return optimizer.DefaultBSplineLBFGSB(), nil
	case "lbfgs":
		return optimizer.LBFGS{}, nil
	case "cgls":
		return optimizer.ConjugateGradientLineSearch{LearningRate: 0.05}, nil
	case "gradient_descent":
		return optimizer.GradientDescent{LearningRate: 5.0, ConvergenceMinimum: 1e-6, ConvergenceWindow: 10}, nil
	case "gradient_descent_line_search":
		return optimizer.GradientDescentLineSearch{LearningRate: 1.0}, nil
	}
	return nil, configErr("B-spline optimizer", name, "", BSplineOptimizerNames...)
}

// ParseInterpolation accepts a method name or its order (1, 2, 3).
func ParseInterpolation(name string) (interpolation.Method, error) {
	m, err := interpolation.ParseMethod(name)
	if err != nil {
		return 0, configErr("interpolation", name, "", interpolation.MethodNames...)
	}
	return m, nil
}

// ParseInitializer maps an initializer name to its value.
func ParseInitializer(name string) (Initializer, error) {
	for i, n := range InitializerNames {
		if normalise(name) == n {
			return Initializer(i), nil
		}
	}
	return 0, configErr("initializer", name, "", InitializerNames...)
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
