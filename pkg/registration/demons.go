package registration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"volreg/internal/ctxlog"
	"volreg/internal/tracing"
	"volreg/pkg/imaging"
	"volreg/pkg/interpolation"
	"volreg/pkg/pyramid"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// DemonsResult is the outcome of Demons.
type DemonsResult struct {
	// Image is the moving image resampled into the fixed grid. Structures
	// come back binarised.
	Image *volume.Image

	Transform *transform.DisplacementField

	// Field is the displacement field resampled onto the fixed grid.
	Field *volume.Image

	Metric float64
	Levels []LevelReport
}

func (c DemonsConfig) validate(dim int) error {
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	if c.InitialField != nil {
		if c.InitialField.Dim() != dim || c.InitialField.Components() != dim {
			return fmt.Errorf("%w: initial field must be a %d-component %d-D image", ErrGeometryMismatch, dim, dim)
		}
	}
	if c.InitialTransform != nil && c.InitialTransform.Dim() != dim {
		return fmt.Errorf("%w: %d-D initial transform for %d-D images", ErrGeometryMismatch, c.InitialTransform.Dim(), dim)
	}
	if c.Structure && c.Interpolation != interpolation.Unspecified && c.Interpolation != interpolation.NearestNeighbor {
		return fmt.Errorf("%w: got %v", ErrConstraintViolation, c.Interpolation)
	}
	if c.Solver.MaxStepLength < 0 || c.Solver.UpdateFieldSigma < 0 || c.Solver.DisplacementFieldSigma < 0 {
		return configErr("demons solver", "negative setting", "step length and sigmas must not be negative")
	}
	return validateInterpolation("interpolation", c.Interpolation, true)
}

// Demons runs multi-resolution fast symmetric-forces demons. The field found
// at each level is resampled onto the next level's fixed grid and refined
// there.
func Demons(ctx context.Context, pair Pair, cfg DemonsConfig, observer Observer) (res *DemonsResult, err error) {
	if err := validatePair(pair); err != nil {
		return nil, err
	}
	dim := pair.Fixed.Dim()
	if err := cfg.validate(dim); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "registration.demons",
		attribute.String(tracing.AttrStage, "demons"),
		attribute.Int("registration.levels", cfg.Schedule.Len()),
		attribute.Bool("registration.structure", cfg.Structure))
	defer func() { tracing.End(span, err) }()
	log := ctxlog.FromContext(ctx).With("stage", "demons")
	if pair.FixedMask != nil || pair.MovingMask != nil {
		log.Warn("masks are not used by demons registration")
	}

	fixed := pair.Fixed.AsFloat()
	moving := pair.Moving.AsFloat()
	levels := cfg.Schedule.pyramid()
	fixedLevels, err := pyramid.Build(fixed, levels, cfg.Isotropic, interpolation.Linear)
	if err != nil {
		return nil, fmt.Errorf("failed to build fixed pyramid: %w", err)
	}
	movingLevels, err := pyramid.Build(moving, levels, cfg.Isotropic, interpolation.Linear)
	if err != nil {
		return nil, fmt.Errorf("failed to build moving pyramid: %w", err)
	}

	field, err := initialField(cfg, fixedLevels[0].Grid())
	if err != nil {
		return nil, fmt.Errorf("failed to build initial displacement field: %w", err)
	}
	log.Info("demons registration started", "levels", len(levels), "isotropic", cfg.Isotropic, "initial_field", field != nil)

	res = &DemonsResult{}
	for k, lvl := range cfg.Schedule.levels {
		g := fixedLevels[k].Grid()
		_, levelSpan := tracing.Start(ctx, "registration.demons.level",
			attribute.Int(tracing.AttrLevel, k),
			attribute.Float64(tracing.AttrShrink, lvl.Shrink),
			attribute.Int(tracing.AttrIterations, lvl.Iterations))
		if field != nil && !field.Grid().Equal(g, 1e-9) {
			field, err = imaging.ResampleWorkers(field, g, nil, interpolation.Linear, 0, cfg.Solver.Workers)
			if err != nil {
				tracing.End(levelSpan, err)
				return nil, fmt.Errorf("demons level %d: %w", k, err)
			}
		}
		solver := cfg.Solver
		solver.Iterations = lvl.Iterations
		solver.Observer = observer.notify("demons", k)
		out, err := solver.Run(fixedLevels[k], movingLevels[k], field)
		tracing.End(levelSpan, err)
		if err != nil {
			return nil, fmt.Errorf("demons level %d: %w", k, err)
		}
		field = out.Field
		res.Metric = out.Metric
		res.Levels = append(res.Levels, LevelReport{
			Level:      k,
			Shrink:     lvl.Shrink,
			Sigma:      lvl.Sigma,
			Size:       g.Size,
			Parameters: g.NumVoxels() * dim,
			Samples:    g.NumVoxels(),
			Iterations: lvl.Iterations,
			Metric:     out.Metric,
		})
		log.Info("level finished", "level", k, "size", g.Size, "metric", out.Metric)
	}

	field, err = imaging.ResampleWorkers(field, field.Grid(), nil, interpolation.Linear, 0, cfg.Solver.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to resample final displacement field: %w", err)
	}
	dft, err := transform.NewDisplacementField(field)
	if err != nil {
		return nil, err
	}
	ref := pair.Fixed.Grid()
	method := cfg.Interpolation.Or(interpolation.Linear)
	fill := cfg.DefaultValue
	if cfg.Structure {
		method = interpolation.NearestNeighbor
		fill = 0
	}
	img, err := Apply(pair.Moving, dft, ApplyOptions{
		Structure:     cfg.Structure,
		Interpolation: method,
		DefaultValue:  fill,
		Reference:     &ref,
		Workers:       cfg.Solver.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resample registered image: %w", err)
	}
	if cfg.Structure {
		img = imaging.BinaryThreshold(img.AsFloat(), 1e-5, 100).CastTo(pair.Moving.PixelType())
	}
	resampled, err := imaging.ResampleWorkers(field, ref, nil, interpolation.Linear, 0, cfg.Solver.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to resample displacement field: %w", err)
	}

	res.Image = img
	res.Transform = dft
	res.Field = resampled
	log.Info("demons registration finished", "metric", res.Metric)
	return res, nil
}

// initialField returns the coarsest-level starting field, or nil for zero.
func initialField(cfg DemonsConfig, g volume.Grid) (*volume.Image, error) {
	switch {
	case cfg.InitialField != nil:
		return imaging.ResampleWorkers(cfg.InitialField.CastTo(volume.Float64), g, nil, interpolation.Linear, 0, cfg.Solver.Workers)
	case cfg.InitialTransform != nil:
		return transform.ToDisplacementField(cfg.InitialTransform, g, cfg.Solver.Workers)
	}
	return nil, nil
}
