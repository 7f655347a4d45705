package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"volreg/pkg/imageio"
	"volreg/pkg/registration"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// pairFlags are shared by the registration commands.
type pairFlags struct {
	fixed, moving         string
	fixedMask, movingMask string
	output, transform     string
}

func (p *pairFlags) register(cmd *cobra.Command, masks bool) {
	f := cmd.Flags()
	f.StringVarP(&p.fixed, "fixed", "f", "", "fixed image")
	f.StringVarP(&p.moving, "moving", "m", "", "moving image")
	f.StringVarP(&p.output, "output", "o", "", "registered image")
	f.StringVarP(&p.transform, "transform", "t", "", "transform file (.yaml)")
	_ = cmd.MarkFlagRequired("fixed")
	_ = cmd.MarkFlagRequired("moving")
	if masks {
		f.StringVar(&p.fixedMask, "fixed-mask", "", "binary mask restricting the metric on the fixed image")
		f.StringVar(&p.movingMask, "moving-mask", "", "binary mask restricting the metric on the moving image")
	}
}

func (p *pairFlags) load() (registration.Pair, error) {
	var pair registration.Pair
	var err error
	if pair.Fixed, err = imageio.Read(p.fixed); err != nil {
		return pair, fmt.Errorf("failed to read fixed image: %w", err)
	}
	if pair.Moving, err = imageio.Read(p.moving); err != nil {
		return pair, fmt.Errorf("failed to read moving image: %w", err)
	}
	if p.fixedMask != "" {
		if pair.FixedMask, err = imageio.Read(p.fixedMask); err != nil {
			return pair, fmt.Errorf("failed to read fixed mask: %w", err)
		}
	}
	if p.movingMask != "" {
		if pair.MovingMask, err = imageio.Read(p.movingMask); err != nil {
			return pair, fmt.Errorf("failed to read moving mask: %w", err)
		}
	}
	return pair, nil
}

// save writes whichever of the image and transform were asked for.
func (p *pairFlags) save(img *volume.Image, t transform.Transform) error {
	if p.output != "" {
		if err := imageio.Write(p.output, img); err != nil {
			return fmt.Errorf("failed to write registered image: %w", err)
		}
	}
	if p.transform != "" {
		if err := imageio.WriteTransform(p.transform, t); err != nil {
			return fmt.Errorf("failed to write transform: %w", err)
		}
	}
	return nil
}

func newAlignCmd(a *app) *cobra.Command {
	var p pairFlags
	var secondMoment bool
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align the moving image onto the fixed image by image moments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := p.load()
			if err != nil {
				return err
			}
			img, t, err := registration.Align(pair.Fixed, pair.Moving, secondMoment)
			if err != nil {
				return err
			}
			a.log.Info("aligned", "parameters", t.Parameters())
			return p.save(img, t)
		},
	}
	p.register(cmd, false)
	cmd.Flags().BoolVar(&secondMoment, "second-moment", false, "also rotate the principal axes")
	return cmd
}

func newLinearCmd(a *app) *cobra.Command {
	var p pairFlags
	cmd := &cobra.Command{
		Use:   "linear",
		Short: "Run multi-resolution linear registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lc, err := a.cfg.LinearConfig()
			if err != nil {
				return err
			}
			pair, err := p.load()
			if err != nil {
				return err
			}
			res, err := registration.Linear(cmd.Context(), pair, lc, a.observer())
			if err != nil {
				return err
			}
			printLevels(cmd, "linear", res.Levels)
			return p.save(res.Image, res.Transform)
		},
	}
	p.register(cmd, true)
	return cmd
}

func newDemonsCmd(a *app) *cobra.Command {
	var p pairFlags
	var field, initialField, initialTransform string
	var structure bool
	cmd := &cobra.Command{
		Use:   "demons",
		Short: "Run multi-resolution fast symmetric-forces demons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dc, err := a.cfg.DemonsConfig()
			if err != nil {
				return err
			}
			dc.Structure = structure
			pair, err := p.load()
			if err != nil {
				return err
			}
			if initialField != "" {
				if dc.InitialField, err = imageio.Read(initialField); err != nil {
					return fmt.Errorf("failed to read initial field: %w", err)
				}
			}
			if initialTransform != "" {
				if dc.InitialTransform, err = imageio.ReadTransform(initialTransform); err != nil {
					return fmt.Errorf("failed to read initial transform: %w", err)
				}
			}
			res, err := registration.Demons(cmd.Context(), pair, dc, a.observer())
			if err != nil {
				return err
			}
			printLevels(cmd, "demons", res.Levels)
			if field != "" {
				if err := imageio.Write(field, res.Field); err != nil {
					return fmt.Errorf("failed to write displacement field: %w", err)
				}
			}
			return p.save(res.Image, res.Transform)
		},
	}
	p.register(cmd, true)
	f := cmd.Flags()
	f.StringVar(&field, "field", "", "displacement field output (.mha or .nii.gz)")
	f.StringVar(&initialField, "initial-field", "", "displacement field to start from")
	f.StringVar(&initialTransform, "initial-transform", "", "transform file to start from; ignored with --initial-field")
	f.BoolVar(&structure, "structure", false, "the moving image is a binary structure")
	return cmd
}

func newBSplineCmd(a *app) *cobra.Command {
	var p pairFlags
	cmd := &cobra.Command{
		Use:   "bspline",
		Short: "Run multi-resolution B-spline free-form registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bc, err := a.cfg.BSplineConfig()
			if err != nil {
				return err
			}
			pair, err := p.load()
			if err != nil {
				return err
			}
			res, err := registration.BSpline(cmd.Context(), pair, bc, a.observer())
			if err != nil {
				return err
			}
			printLevels(cmd, "bspline", res.Levels)
			return p.save(res.Image, res.Transform)
		},
	}
	p.register(cmd, true)
	return cmd
}

func printLevels(cmd *cobra.Command, stage string, levels []registration.LevelReport) {
	out := cmd.OutOrStdout()
	for _, l := range levels {
		fmt.Fprintf(out, "%s level %d: shrink %g sigma %g size %v parameters %d samples %d iterations %d metric %.6g (%s)\n",
			stage, l.Level, l.Shrink, l.Sigma, l.Size, l.Parameters, l.Samples, l.Iterations, l.Metric, l.Status)
	}
}
