package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"volreg/internal/ctxlog"
	"volreg/internal/tracing"
	"volreg/pkg/config"
	"volreg/pkg/registration"
)

// app carries what PersistentPreRunE resolved for the running command.
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log *slog.Logger
	tp  *tracing.Provider
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "volreg",
		Short: "Multi-resolution medical image registration",
		Long: `volreg registers 2-D and 3-D medical images with linear, demons and
B-spline stages, applies the resulting transforms and propagates atlas
structures onto new targets.`,
		Version:            version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default: ./volreg.yaml or ~/.config/volreg/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.Int("cores", 0, "number of worker goroutines (default: all cores)")
	pf.String("trace", "", "write stage spans as JSON lines to this file")
	pf.Bool("verbose", false, "print numbered pipeline steps")

	for _, name := range []string{"config", "log-level", "cores", "trace", "verbose"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}
	a.v.SetEnvPrefix("VOLREG")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newAlignCmd(a),
		newLinearCmd(a),
		newDemonsCmd(a),
		newBSplineCmd(a),
		newApplyCmd(a),
		newDistanceMapCmd(a),
		newSlicesCmd(a),
		newCompareCmd(a),
		newRunCmd(a),
		newConfigCmd(a),
	)
	return root
}

// configPath resolves the config file. Lookup order:
// 1. --config / VOLREG_CONFIG
// 2. ./volreg.yaml
// 3. ~/.config/volreg/config.yaml
func (a *app) configPath() string {
	if p := a.v.GetString("config"); p != "" {
		return p
	}
	if _, err := os.Stat("volreg.yaml"); err == nil {
		return "volreg.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "volreg", "config.yaml")
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath()
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return err
		}
	}

	// flags and environment win over the file
	if a.v.IsSet("cores") && a.v.GetInt("cores") > 0 {
		cfg.Processing.NumCores = a.v.GetInt("cores")
	}
	if a.v.IsSet("log-level") && a.v.GetString("log-level") != "" {
		cfg.Logging.Level = a.v.GetString("log-level")
	}
	if a.v.IsSet("verbose") {
		cfg.Output.Verbose = a.v.GetBool("verbose")
	}
	if p := a.v.GetString("trace"); p != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "file"
		cfg.Tracing.FilePath = p
	}
	a.cfg = cfg

	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: ctxlog.ParseLevel(cfg.Logging.Level),
	}))
	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	a.tp = tp

	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), a.log))
	a.log.Debug("configuration loaded", "path", path, "cores", cfg.Processing.NumCores)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.tp == nil {
		return nil
	}
	return a.tp.Shutdown(cmd.Context())
}

// observer logs every optimizer iteration at debug level.
func (a *app) observer() registration.Observer {
	return func(p registration.Progress) {
		a.log.Debug("iteration",
			"stage", p.Stage,
			"level", p.Level,
			"iteration", p.Iteration,
			"metric", p.Metric)
	}
}
