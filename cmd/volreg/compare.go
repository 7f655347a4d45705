package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"volreg/pkg/imageio"
	"volreg/pkg/quality"
)

func newCompareCmd(a *app) *cobra.Command {
	var reference, image string
	var structures bool
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Score a registered image against its reference",
		Long: `Score a registered image against a reference on the same grid: RMSE,
Gaussian mutual information, SSIM, entropy difference and edge correlation.
With --structures both images are binary and Dice and Jaccard overlap are
reported instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := imageio.Read(reference)
			if err != nil {
				return fmt.Errorf("failed to read reference image: %w", err)
			}
			img, err := imageio.Read(image)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			out := cmd.OutOrStdout()
			if structures {
				o, err := quality.CompareStructures(ref, img)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Dice:    %.4f\nJaccard: %.4f\n", o.Dice, o.Jaccard)
				return nil
			}
			r, err := quality.Compare(ref, img, a.cfg.Processing.NumCores)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Root Mean Square Error (RMSE): %.6f\n", r.RMSE)
			fmt.Fprintf(out, "Mutual Information (MI): %.3f\n", r.MI)
			fmt.Fprintf(out, "Structural Similarity Index (SSIM): %.3f\n", r.SSIM)
			fmt.Fprintf(out, "Entropy Difference: %.3f\n", r.EntropyDiff)
			fmt.Fprintf(out, "Edge Correlation: %.3f\n", r.EdgeCorrelation)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&reference, "reference", "r", "", "reference image, usually the fixed image")
	f.StringVarP(&image, "image", "i", "", "registered image")
	f.BoolVar(&structures, "structures", false, "compare binary structures")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
