package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"volreg/pkg/features"
	"volreg/pkg/imageio"
	"volreg/pkg/registration"
	"volreg/pkg/transform"
	"volreg/pkg/visualization"
	"volreg/pkg/volume"
)

func newApplyCmd(a *app) *cobra.Command {
	var (
		input, reference, output string
		transforms               []string
		interp                   string
		defaultValue             float64
		structure                bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Resample an image through one or more transforms",
		Long: `Resample an image through one or more transforms. With several
--transform flags the transforms are chained in the order given: the last
one is applied to output points first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			img, err := imageio.Read(input)
			if err != nil {
				return fmt.Errorf("failed to read input image: %w", err)
			}
			ts := make([]transform.Transform, 0, len(transforms))
			for _, path := range transforms {
				t, err := imageio.ReadTransform(path)
				if err != nil {
					return fmt.Errorf("failed to read transform %s: %w", path, err)
				}
				ts = append(ts, t)
			}
			t, err := transform.NewComposite(ts...)
			if err != nil {
				return err
			}
			opts := registration.ApplyOptions{
				Structure:    structure,
				DefaultValue: defaultValue,
				Workers:      a.cfg.Processing.NumCores,
			}
			if interp != "" {
				if opts.Interpolation, err = registration.ParseInterpolation(interp); err != nil {
					return err
				}
			}
			if reference != "" {
				ref, err := imageio.Read(reference)
				if err != nil {
					return fmt.Errorf("failed to read reference image: %w", err)
				}
				g := ref.Grid()
				opts.Reference = &g
			}
			out, err := registration.Apply(img, t, opts)
			if err != nil {
				return err
			}
			a.log.Info("transform applied", "transforms", len(ts), "size", out.Size())
			return imageio.Write(output, out)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "image to resample")
	f.StringArrayVarP(&transforms, "transform", "t", nil, "transform file; repeat to chain")
	f.StringVarP(&reference, "reference", "r", "", "image whose grid receives the output (default: the input grid)")
	f.StringVarP(&output, "output", "o", "", "resampled image")
	f.StringVar(&interp, "interpolation", "", "nearest, linear or bspline (default: nearest)")
	f.Float64Var(&defaultValue, "default-value", 0, "value outside the input image")
	f.BoolVar(&structure, "structure", false, "the input is a binary structure")
	for _, name := range []string{"input", "transform", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newDistanceMapCmd(a *app) *cobra.Command {
	var (
		input, output   string
		squared, normal bool
		guidance        bool
		expansion       float64
	)
	cmd := &cobra.Command{
		Use:   "distance-map",
		Short: "Compute the signed distance map or guidance image of a binary structure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mask, err := imageio.Read(input)
			if err != nil {
				return fmt.Errorf("failed to read structure: %w", err)
			}
			var out *volume.Image
			if guidance {
				out, err = features.StructureGuidanceWorkers(mask, expansion, nil, a.cfg.Processing.NumCores)
			} else {
				out, err = features.DistanceMapWorkers(mask, squared, normal, a.cfg.Processing.NumCores)
			}
			if err != nil {
				return err
			}
			st := visualization.Summarise(out)
			a.log.Info("distance map computed", "min", st.Min, "max", st.Max, "mean", st.Mean)
			return imageio.Write(output, out)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "binary structure image")
	f.StringVarP(&output, "output", "o", "", "distance map image")
	f.BoolVar(&squared, "squared", false, "square the distances, keeping the sign")
	f.BoolVar(&normal, "normalise", false, "divide by the largest absolute distance")
	f.BoolVar(&guidance, "guidance", false, "write the structure guidance image instead")
	f.Float64Var(&expansion, "expansion", 2, "guidance expansion in mm")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newSlicesCmd(a *app) *cobra.Command {
	var (
		input, outputDir, axes, format string
		center, width                  float64
	)
	cmd := &cobra.Command{
		Use:   "slices",
		Short: "Save every slice of a volume along the chosen axes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			img, err := imageio.Read(input)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			v, err := visualization.NewViewer(img, center, width)
			if err != nil {
				return err
			}
			for _, axis := range strings.Split(axes, ",") {
				axis = strings.TrimSpace(axis)
				dir := filepath.Join(outputDir, axis)
				fmt.Fprintf(cmd.OutOrStdout(), "Saving %s-axis slices to: %s\n", axis, dir)
				if err := v.SaveSliceSequence(axis, dir, format); err != nil {
					return fmt.Errorf("failed to save %s-axis slices: %w", axis, err)
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "image to slice")
	f.StringVarP(&outputDir, "output-dir", "o", "slices", "directory receiving one sub-directory per axis")
	f.StringVar(&axes, "axes", "x,y,z", "comma separated axes")
	f.StringVar(&format, "format", "png", "png, jpg or tiff")
	f.Float64Var(&center, "window-center", 0, "display window centre")
	f.Float64Var(&width, "window-width", 0, "display window width (default: full range)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
