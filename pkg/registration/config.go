// Package registration runs multi-resolution registrations of a moving image
// onto a fixed image: linear, demons and B-spline stages, the transform
// initializers they start from, and the applier that propagates images and
// structures through the results.
//
// Each stage is a single blocking call. Levels run one after another from
// coarse to fine; the optional Workers hint is handed to the metric
// evaluator, the optimizer and the demons solver.
package registration

import (
	"fmt"

	"volreg/pkg/demons"
	"volreg/pkg/interpolation"
	"volreg/pkg/metric"
	"volreg/pkg/optimizer"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// Pair is the input of a stage. Masks are optional: nil means every voxel
// takes part in the metric.
type Pair struct {
	Fixed  *volume.Image
	Moving *volume.Image

	FixedMask  *volume.Image
	MovingMask *volume.Image
}

// Progress is what an Observer receives after every optimizer iteration.
type Progress struct {
	Stage     string
	Level     int
	Iteration int
	Metric    float64
}

// Observer is called synchronously from inside the optimization loop. It
// must not modify anything the stage owns.
type Observer func(Progress)

func (o Observer) notify(stage string, level int) func(int, float64) {
	if o == nil {
		return nil
	}
	return func(it int, v float64) {
		o(Progress{Stage: stage, Level: level, Iteration: it, Metric: v})
	}
}

// Initializer selects how the linear stage seeds its transform.
type Initializer int

const (
	// InitMoments aligns the intensity centres of mass.
	InitMoments Initializer = iota
	// InitGeometry aligns the geometric centres of the images.
	InitGeometry
	// InitSecondMoments aligns centres of mass and principal axes.
	InitSecondMoments
)

// InitializerNames lists the accepted initializer names.
var InitializerNames = []string{"moments", "geometry", "second_moments"}

func (i Initializer) String() string {
	if int(i) >= 0 && int(i) < len(InitializerNames) {
		return InitializerNames[i]
	}
	return fmt.Sprintf("Initializer(%d)", int(i))
}

// LinearConfig configures Linear.
type LinearConfig struct {
	Family    transform.Family
	Metric    metric.LinearMetric
	Optimizer optimizer.LinearOptimizer
	Schedule  Schedule

	// SamplingRate is the fraction of fixed voxels, taken on a regular grid.
	SamplingRate float64

	Initializer Initializer

	FinalInterpolation interpolation.Method
	DefaultValue       float64

	// AllowExperimental must be set to use optimizer.Exhaustive.
	AllowExperimental bool

	Workers int
}

// DefaultLinearConfig returns a similarity registration driven by mean
// squares and gradient descent over three levels.
func DefaultLinearConfig() LinearConfig {
	return LinearConfig{
		Family:             transform.Similarity,
		Metric:             metric.MeanSquares{},
		Optimizer:          optimizer.GradientDescent{LearningRate: 1.0},
		Schedule:           mustSchedule([]float64{8, 2, 1}, []float64{4, 2, 0}, UniformIterations(3, 50)),
		SamplingRate:       0.25,
		Initializer:        InitMoments,
		FinalInterpolation: interpolation.Linear,
		DefaultValue:       -1000,
	}
}

// DemonsConfig configures Demons.
type DemonsConfig struct {
	// Schedule shrink factors are the resolution staging. In isotropic mode
	// they are voxel sizes in mm.
	Schedule  Schedule
	Isotropic bool

	// InitialField takes precedence over InitialTransform.
	InitialField     *volume.Image
	InitialTransform transform.Transform

	// Structure marks the moving image as a label image: it is resampled
	// with nearest neighbour, filled with 0 and binarised.
	Structure bool

	// Interpolation of the final resample. Unspecified means linear, or
	// nearest neighbour for structures.
	Interpolation interpolation.Method
	DefaultValue  float64

	// Solver carries the per-level demons settings; its Iterations and
	// Observer are set per level.
	Solver demons.Solver
}

// DemonsSchedule builds a demons schedule whose sigmas are the resolution
// staging times sigmaFactor.
func DemonsSchedule(resolution []float64, iterations []int, sigmaFactor float64) (Schedule, error) {
	sigmas := make([]float64, len(resolution))
	for i, r := range resolution {
		sigmas[i] = r * sigmaFactor
	}
	return NewSchedule(resolution, sigmas, iterations)
}

// DefaultDemonsConfig returns three levels of ten fast symmetric-forces
// demons iterations on one worker.
func DefaultDemonsConfig() DemonsConfig {
	s, err := DemonsSchedule([]float64{8, 4, 1}, []int{10, 10, 10}, 1)
	if err != nil {
		panic(err)
	}
	return DemonsConfig{
		Schedule:     s,
		DefaultValue: -1000,
		Solver:       demons.DefaultSolver(0),
	}
}

// BSplineConfig configures BSpline.
type BSplineConfig struct {
	Metric    metric.BSplineMetric
	Optimizer optimizer.BSplineOptimizer
	Schedule  Schedule

	// SamplingRates holds one rate per level, or a single rate for all.
	SamplingRates []float64

	// GridSpacing is the control point spacing of the first level in mm.
	GridSpacing float64
	// GridScaleFactors multiply the initial mesh at each level.
	GridScaleFactors []int

	// Isotropic resamples both images to IsotropicSize mm voxels first. The
	// result is still resampled into the original fixed grid.
	Isotropic     bool
	IsotropicSize float64

	FinalInterpolation interpolation.Method
	DefaultValue       float64

	Workers int
}

// DefaultBSplineConfig returns the three level free-form deformation setup
// with a 64 mm initial control grid.
func DefaultBSplineConfig() BSplineConfig {
	return BSplineConfig{
		Metric:             metric.MeanSquares{},
		Optimizer:          optimizer.DefaultBSplineLBFGSB(),
		Schedule:           mustSchedule([]float64{8, 4, 2}, []float64{4, 2, 1}, UniformIterations(3, 20)),
		SamplingRates:      []float64{0.1},
		GridSpacing:        64,
		GridScaleFactors:   []int{1, 2, 4},
		IsotropicSize:      1,
		FinalInterpolation: interpolation.BSpline,
		DefaultValue:       -1000,
		Workers:            8,
	}
}

// validatePair checks the images and the optional masks.
func validatePair(p Pair) error {
	if p.Fixed == nil || p.Moving == nil {
		return configErr("images", "nil", "fixed and moving images are required")
	}
	if err := volume.SameDimension(p.Fixed, p.Moving); err != nil {
		return err
	}
	if p.Fixed.Components() != 1 || p.Moving.Components() != 1 {
		return configErr("images", fmt.Sprintf("%d/%d components", p.Fixed.Components(), p.Moving.Components()), "images must be scalar")
	}
	for _, m := range []struct {
		name  string
		mask  *volume.Image
		image *volume.Image
	}{{"fixed mask", p.FixedMask, p.Fixed}, {"moving mask", p.MovingMask, p.Moving}} {
		if m.mask == nil {
			continue
		}
		if m.mask.Dim() != m.image.Dim() {
			return configErr(m.name, fmt.Sprintf("%d-D", m.mask.Dim()), fmt.Sprintf("the image is %d-D", m.image.Dim()))
		}
		if !m.mask.IsBinary() {
			return configErr(m.name, "labels", "mask must be binary")
		}
	}
	return nil
}

func validateSampling(field string, rate float64) error {
	if !(rate > 0) || rate > 1 {
		return configErr(field, rate, "must be in (0, 1]")
	}
	return nil
}

func validateInterpolation(field string, m interpolation.Method, allowUnspecified bool) error {
	if m.Valid() || (allowUnspecified && m == interpolation.Unspecified) {
		return nil
	}
	return configErr(field, m, "", interpolation.MethodNames...)
}
