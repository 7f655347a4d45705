// Package metric measures how well a transformed moving image matches a fixed
// image and differentiates that measure with respect to transform
// parameters. Lower values are better for every metric.
package metric

// Metric is the closed set of similarity measures.
type Metric interface {
	Name() string
	metric()
}

// LinearMetric is a metric accepted by the linear stage.
type LinearMetric interface {
	Metric
	linearMetric()
}

// BSplineMetric is a metric accepted by the B-spline stage.
type BSplineMetric interface {
	Metric
	bsplineMetric()
}

// MeanSquares is the mean squared intensity difference.
type MeanSquares struct{}

// Correlation is minus the squared normalised cross-correlation.
type Correlation struct{}

// MattesMutualInformation is minus the mutual information of a joint
// histogram with hard fixed bins and linear Parzen windows on the moving
// intensities.
type MattesMutualInformation struct {
	Bins int
}

// JointHistogramMutualInformation smooths both marginals with linear
// Parzen windows.
type JointHistogramMutualInformation struct {
	Bins int
}

// NeighborhoodCorrelation is minus the mean local squared correlation over
// (2*Radius+1)^dim windows.
type NeighborhoodCorrelation struct {
	Radius int
}

// DemonsMetric is the intensity-difference measure used with deformable
// models. It evaluates like MeanSquares.
type DemonsMetric struct{}

func (MeanSquares) Name() string                     { return "mean_squares" }
func (Correlation) Name() string                     { return "correlation" }
func (MattesMutualInformation) Name() string         { return "mattes_mutual_information" }
func (JointHistogramMutualInformation) Name() string { return "joint_histogram_mutual_information" }
func (NeighborhoodCorrelation) Name() string         { return "ants_neighborhood_correlation" }
func (DemonsMetric) Name() string                    { return "demons" }

func (MeanSquares) metric()                     {}
func (Correlation) metric()                     {}
func (MattesMutualInformation) metric()         {}
func (JointHistogramMutualInformation) metric() {}
func (NeighborhoodCorrelation) metric()         {}
func (DemonsMetric) metric()                    {}

func (MeanSquares) linearMetric()                     {}
func (Correlation) linearMetric()                     {}
func (MattesMutualInformation) linearMetric()         {}
func (JointHistogramMutualInformation) linearMetric() {}
func (NeighborhoodCorrelation) linearMetric()         {}

func (MeanSquares) bsplineMetric()             {}
func (Correlation) bsplineMetric()             {}
func (MattesMutualInformation) bsplineMetric() {}
func (DemonsMetric) bsplineMetric()            {}

// Default histogram sizes.
const (
	DefaultLinearBins  = 50
	DefaultBSplineBins = 30
	DefaultJointBins   = 20
	DefaultRadius      = 3
)
