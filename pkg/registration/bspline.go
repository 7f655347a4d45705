package registration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"volreg/internal/ctxlog"
	"volreg/internal/tracing"
	"volreg/pkg/interpolation"
	"volreg/pkg/metric"
	"volreg/pkg/optimizer"
	"volreg/pkg/pyramid"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// BSplineResult is the outcome of BSpline.
type BSplineResult struct {
	// Image is the moving image resampled into the original fixed grid.
	Image     *volume.Image
	Transform *transform.BSpline
	Metric    float64
	Levels    []LevelReport
}

// ControlPointSpacingToNumber converts a control point spacing in mm into
// the number of mesh intervals over the image extent, per axis.
func ControlPointSpacingToNumber(g volume.Grid, spacingMM float64) [3]int {
	var n [3]int
	for i := 0; i < g.Dim; i++ {
		n[i] = int(float64(g.Size[i])*g.Spacing[i]/spacingMM + 0.5)
	}
	return n
}

func (c BSplineConfig) validate() error {
	if c.Metric == nil {
		return configErr("B-spline metric", "none", "", BSplineMetricNames...)
	}
	if c.Optimizer == nil {
		return configErr("B-spline optimizer", "none", "", BSplineOptimizerNames...)
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	n := c.Schedule.Len()
	if len(c.SamplingRates) != 1 && len(c.SamplingRates) != n {
		return configErr("sampling rates", c.SamplingRates, fmt.Sprintf("need 1 or %d values", n))
	}
	for _, r := range c.SamplingRates {
		if err := validateSampling("sampling rate", r); err != nil {
			return err
		}
	}
	if !(c.GridSpacing > 0) {
		return configErr("grid spacing", c.GridSpacing, "must be positive")
	}
	if len(c.GridScaleFactors) != n {
		return configErr("grid scale factors", c.GridScaleFactors, fmt.Sprintf("need %d values", n))
	}
	for _, f := range c.GridScaleFactors {
		if f < 1 {
			return configErr("grid scale factor", f, "must be at least 1")
		}
	}
	if c.Isotropic && !(c.IsotropicSize > 0) {
		return configErr("isotropic size", c.IsotropicSize, "must be positive")
	}
	return validateInterpolation("final interpolation", c.FinalInterpolation, true)
}

func (c BSplineConfig) samplingRate(level int) float64 {
	if len(c.SamplingRates) == 1 {
		return c.SamplingRates[0]
	}
	return c.SamplingRates[level]
}

// BSpline registers pair.Moving onto pair.Fixed with a cubic B-spline
// free-form deformation. The control grid starts at cfg.GridSpacing and is
// refined by cfg.GridScaleFactors from level to level.
func BSpline(ctx context.Context, pair Pair, cfg BSplineConfig, observer Observer) (res *BSplineResult, err error) {
	if err := validatePair(pair); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "registration.bspline",
		attribute.String(tracing.AttrStage, "bspline"),
		attribute.String(tracing.AttrMetric, cfg.Metric.Name()),
		attribute.Int("registration.levels", cfg.Schedule.Len()))
	defer func() { tracing.End(span, err) }()
	log := ctxlog.FromContext(ctx).With("stage", "bspline")

	fixed := pair.Fixed.AsFloat()
	moving := pair.Moving.AsFloat()
	if cfg.Isotropic {
		iso := pyramid.Uniform(cfg.IsotropicSize)
		if fixed, err = pyramid.BuildLevel(fixed, iso, 0, true, interpolation.Linear); err != nil {
			return nil, fmt.Errorf("failed to resample fixed image to isotropic voxels: %w", err)
		}
		if moving, err = pyramid.BuildLevel(moving, iso, 0, true, interpolation.Linear); err != nil {
			return nil, fmt.Errorf("failed to resample moving image to isotropic voxels: %w", err)
		}
	}

	mesh := ControlPointSpacingToNumber(fixed.Grid(), cfg.GridSpacing)
	for i := 0; i < fixed.Dim(); i++ {
		if mesh[i] < 1 {
			mesh[i] = 1
		}
	}
	bs, err := transform.NewBSplineForGrid(fixed.Grid(), mesh)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise B-spline transform: %w", err)
	}
	log.Info("B-spline registration started",
		"metric", cfg.Metric.Name(),
		"optimizer", cfg.Optimizer.Name(),
		"initial_mesh", mesh,
		"levels", cfg.Schedule.Len())

	res = &BSplineResult{}
	for k, lvl := range cfg.Schedule.levels {
		var levelMesh [3]int
		for i := 0; i < fixed.Dim(); i++ {
			levelMesh[i] = mesh[i] * cfg.GridScaleFactors[k]
		}
		if levelMesh != bs.Mesh() {
			if bs, err = bs.Refine(levelMesh); err != nil {
				return nil, fmt.Errorf("B-spline level %d: %w", k, err)
			}
		}
		next, report, err := bsplineLevel(ctx, k, lvl, fixed, moving, pair, bs, cfg, observer)
		if err != nil {
			return nil, fmt.Errorf("B-spline level %d: %w", k, err)
		}
		bs = next
		res.Levels = append(res.Levels, report)
		res.Metric = report.Metric
	}

	ref := pair.Fixed.Grid()
	img, err := Apply(pair.Moving, bs, ApplyOptions{
		Interpolation: cfg.FinalInterpolation.Or(interpolation.BSpline),
		DefaultValue:  cfg.DefaultValue,
		Reference:     &ref,
		Workers:       cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resample registered image: %w", err)
	}
	res.Image = img
	res.Transform = bs
	log.Info("B-spline registration finished", "metric", res.Metric, "mesh", bs.Mesh())
	return res, nil
}

func bsplineLevel(ctx context.Context, k int, lvl Level, fixed, moving *volume.Image, pair Pair, bs *transform.BSpline, cfg BSplineConfig, observer Observer) (next *transform.BSpline, report LevelReport, err error) {
	ctx, span := tracing.Start(ctx, "registration.bspline.level",
		attribute.Int(tracing.AttrLevel, k),
		attribute.Float64(tracing.AttrShrink, lvl.Shrink),
		attribute.Float64(tracing.AttrSigma, lvl.Sigma),
		attribute.Int(tracing.AttrParameters, bs.NumParameters()))
	defer func() { tracing.End(span, err) }()
	log := ctxlog.FromContext(ctx).With("stage", "bspline", "level", k)

	fl, err := pyramid.BuildLevel(fixed, pyramid.Uniform(lvl.Shrink), lvl.Sigma, false, interpolation.Linear)
	if err != nil {
		return nil, report, err
	}
	ml, err := pyramid.BuildLevel(moving, pyramid.Uniform(lvl.Shrink), lvl.Sigma, false, interpolation.Linear)
	if err != nil {
		return nil, report, err
	}
	ev, err := metric.NewEvaluator(cfg.Metric, metric.Setup{
		Fixed:        fl,
		Moving:       ml,
		FixedMask:    pair.FixedMask,
		MovingMask:   pair.MovingMask,
		SamplingRate: cfg.samplingRate(k),
		Workers:      cfg.Workers,
	})
	if err != nil {
		return nil, report, err
	}
	log.Info("stage iteration", "number_of_parameters", bs.NumParameters(), "mesh", bs.Mesh(), "samples", ev.NumSamples())

	objective := func(x, grad []float64) (float64, error) {
		p, err := bs.WithParameters(x)
		if err != nil {
			return 0, err
		}
		if grad == nil {
			return ev.Value(p)
		}
		return ev.ValueAndGradient(p, grad)
	}
	out, err := optimizer.Minimize(cfg.Optimizer, objective, bs.Parameters(), optimizer.Settings{
		Iterations: lvl.Iterations,
		Workers:    cfg.Workers,
		Observer:   observer.notify("bspline", k),
	})
	if err != nil {
		return nil, report, err
	}
	p, err := bs.WithParameters(out.X)
	if err != nil {
		return nil, report, err
	}
	next = p.(*transform.BSpline)

	report = LevelReport{
		Level:       k,
		Shrink:      lvl.Shrink,
		Sigma:       lvl.Sigma,
		Size:        fl.Size(),
		Parameters:  bs.NumParameters(),
		Samples:     ev.NumSamples(),
		Iterations:  out.Iterations,
		Evaluations: out.Evaluations,
		Metric:      out.Value,
		Status:      out.Status,
	}
	log.Info("level finished", "metric", out.Value, "iterations", out.Iterations, "status", out.Status)
	return next, report, nil
}
