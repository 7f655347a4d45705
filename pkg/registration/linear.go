package registration

import (
	"context"
	"fmt"
	"math"

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

// LevelReport summarises one pyramid level of a stage.
type LevelReport struct {
	Level       int
	Shrink      float64
	Sigma       float64
	Size        [3]int // fixed level size
	Parameters  int
	Samples     int
	Iterations  int
	Evaluations int
	Metric      float64
	Status      string
}

// LinearResult is the outcome of Linear.
type LinearResult struct {
	// Image is the moving image resampled into the fixed grid, with the
	// moving pixel type.
	Image *volume.Image

	// Transform is Compose(Initial, Optimized).
	Transform *transform.Composite
	Initial   *transform.Linear
	Optimized *transform.Linear

	Metric float64
	Levels []LevelReport
}

func (c LinearConfig) validate(dim int) error {
	if !c.Family.Valid() {
		return configErr("transform family", c.Family, "", transform.FamilyNames...)
	}
	if !c.Family.SupportsDim(dim) {
		return configErr("transform family", c.Family, fmt.Sprintf("not available for %d-D images", dim))
	}
	if c.Metric == nil {
		return configErr("linear metric", "none", "", LinearMetricNames...)
	}
	if c.Optimizer == nil {
		return configErr("linear optimizer", "none", "", LinearOptimizerNames...)
	}
	if ex, ok := c.Optimizer.(optimizer.Exhaustive); ok {
		if !c.AllowExperimental {
			return configErr("linear optimizer", ex.Name(), "exhaustive search is experimental and disabled")
		}
		probe, err := transform.NewLinear(c.Family, dim, [3]float64{})
		if err != nil {
			return err
		}
		if len(ex.Samples) != probe.NumParameters() {
			return configErr("exhaustive samples", ex.Samples,
				fmt.Sprintf("%v has %d parameters", c.Family, probe.NumParameters()))
		}
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	if err := validateSampling("sampling rate", c.SamplingRate); err != nil {
		return err
	}
	if c.Initializer < InitMoments || c.Initializer > InitSecondMoments {
		return configErr("initializer", c.Initializer, "", InitializerNames...)
	}
	return validateInterpolation("final interpolation", c.FinalInterpolation, true)
}

// physicalShiftScales returns, per parameter, the squared largest
// displacement of the corner points caused by a unit parameter change.
func physicalShiftScales(t *transform.Linear, corners [][3]float64) []float64 {
	const delta = 1e-3
	p := t.Parameters()
	base := make([][3]float64, len(corners))
	for i, c := range corners {
		base[i] = t.TransformPoint(c)
	}
	scales := make([]float64, len(p))
	for i := range p {
		q := append([]float64(nil), p...)
		q[i] += delta
		moved, err := t.WithParameters(q)
		if err != nil {
			scales[i] = 1
			continue
		}
		var shift float64
		for j, c := range corners {
			m := moved.TransformPoint(c)
			var d float64
			for a := 0; a < t.Dim(); a++ {
				d += (m[a] - base[j][a]) * (m[a] - base[j][a])
			}
			shift = math.Max(shift, math.Sqrt(d))
		}
		s := shift / delta
		scales[i] = s * s
		if scales[i] < 1e-12 {
			scales[i] = 1
		}
	}
	return scales
}

// Linear registers pair.Moving onto pair.Fixed with a linear transform. The
// transform is seeded by cfg.Initializer, which stays fixed, and a transform
// of cfg.Family centred on the fixed image is optimized level by level.
func Linear(ctx context.Context, pair Pair, cfg LinearConfig, observer Observer) (res *LinearResult, err error) {
	if err := validatePair(pair); err != nil {
		return nil, err
	}
	dim := pair.Fixed.Dim()
	if err := cfg.validate(dim); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "registration.linear",
		attribute.String(tracing.AttrStage, "linear"),
		attribute.String(tracing.AttrMetric, cfg.Metric.Name()),
		attribute.Int("registration.levels", cfg.Schedule.Len()))
	defer func() { tracing.End(span, err) }()
	log := ctxlog.FromContext(ctx).With("stage", "linear")

	fixed := pair.Fixed.AsFloat()
	moving := pair.Moving.AsFloat()

	initial, err := initialTransform(cfg.Initializer, fixed, moving)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise linear registration: %w", err)
	}
	current, err := transform.NewLinear(cfg.Family, dim, fixed.Grid().Center())
	if err != nil {
		return nil, err
	}
	log.Info("linear registration started",
		"family", cfg.Family.String(),
		"metric", cfg.Metric.Name(),
		"optimizer", cfg.Optimizer.Name(),
		"initializer", cfg.Initializer.String(),
		"levels", cfg.Schedule.Len())

	res = &LinearResult{Initial: initial}
	for k, lvl := range cfg.Schedule.levels {
		next, report, err := linearLevel(ctx, k, lvl, fixed, moving, pair, initial, current, cfg, observer)
		if err != nil {
			return nil, fmt.Errorf("linear registration level %d: %w", k, err)
		}
		current = next
		res.Levels = append(res.Levels, report)
		res.Metric = report.Metric
	}

	composite, err := transform.Compose(initial, current)
	if err != nil {
		return nil, err
	}
	ref := pair.Fixed.Grid()
	img, err := Apply(pair.Moving, composite, ApplyOptions{
		Interpolation: cfg.FinalInterpolation.Or(interpolation.Linear),
		DefaultValue:  cfg.DefaultValue,
		Reference:     &ref,
		Workers:       cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resample registered image: %w", err)
	}
	res.Image = img
	res.Transform = composite
	res.Optimized = current
	log.Info("linear registration finished", "metric", res.Metric, "parameters", current.Parameters())
	return res, nil
}

func linearLevel(ctx context.Context, k int, lvl Level, fixed, moving *volume.Image, pair Pair, initial, current *transform.Linear, cfg LinearConfig, observer Observer) (next *transform.Linear, report LevelReport, err error) {
	ctx, span := tracing.Start(ctx, "registration.linear.level",
		attribute.Int(tracing.AttrLevel, k),
		attribute.Float64(tracing.AttrShrink, lvl.Shrink),
		attribute.Float64(tracing.AttrSigma, lvl.Sigma),
		attribute.Int(tracing.AttrIterations, lvl.Iterations))
	defer func() { tracing.End(span, err) }()
	log := ctxlog.FromContext(ctx).With("stage", "linear", "level", k)

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
		Initial:      initial,
		SamplingRate: cfg.SamplingRate,
		Workers:      cfg.Workers,
	})
	if err != nil {
		return nil, report, err
	}
	log.Debug("level prepared", "size", fl.Size(), "samples", ev.NumSamples(), "parameters", current.NumParameters())

	objective := func(x, grad []float64) (float64, error) {
		p, err := current.WithParameters(x)
		if err != nil {
			return 0, err
		}
		if grad == nil {
			return ev.Value(p)
		}
		return ev.ValueAndGradient(p, grad)
	}
	out, err := optimizer.Minimize(cfg.Optimizer, objective, current.Parameters(), optimizer.Settings{
		Iterations: lvl.Iterations,
		Scales:     physicalShiftScales(current, fl.Grid().Corners()),
		Workers:    cfg.Workers,
		Observer:   observer.notify("linear", k),
	})
	if err != nil {
		return nil, report, err
	}
	p, err := current.WithParameters(out.X)
	if err != nil {
		return nil, report, err
	}
	next = p.(*transform.Linear)

	report = LevelReport{
		Level:       k,
		Shrink:      lvl.Shrink,
		Sigma:       lvl.Sigma,
		Size:        fl.Size(),
		Parameters:  current.NumParameters(),
		Samples:     ev.NumSamples(),
		Iterations:  out.Iterations,
		Evaluations: out.Evaluations,
		Metric:      out.Value,
		Status:      out.Status,
	}
	span.SetAttributes(attribute.Float64(tracing.AttrMetric+".value", out.Value))
	log.Info("level finished", "metric", out.Value, "iterations", out.Iterations, "status", out.Status)
	return next, report, nil
}
