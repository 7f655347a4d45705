package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"volreg/internal/models"
	"volreg/pkg/config"
	"volreg/pkg/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	var dicom bool
	var workingDir string
	cmd := &cobra.Command{
		Use:   "run TARGET...",
		Short: "Propagate the configured atlas structures onto each target",
		Long: `Run the atlas pipeline on every target: linear registration of the
atlas onto the target, the configured deformable refinement, and
nearest-neighbour propagation of every atlas structure. Each target gets its
own directory under the working directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workingDir != "" {
				a.cfg.Processing.WorkingDir = workingDir
			}
			typ := models.TypeFile
			if dicom {
				typ = models.TypeDICOM
			}
			objects := make([]*models.DataObject, 0, len(args))
			for _, path := range args {
				obj, err := models.NewDataObject(typ, path)
				if err != nil {
					return err
				}
				objects = append(objects, obj)
			}

			r := pipeline.NewRunner(a.cfg)
			r.Observer = a.observer()
			start := time.Now()
			outputs, err := r.Process(cmd.Context(), objects)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nProcessed %d case(s) in %.2f seconds\n", len(objects), time.Since(start).Seconds())
			for _, o := range outputs {
				fmt.Fprintf(out, "%s  %s (from %s)\n", o.ID, o.Path, o.Root().Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dicom, "dicom", false, "targets are DICOM series directories")
	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", "", "output directory (default: processing.workingDir)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "volreg.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
