// Package config provides configuration loading and management for volreg.
// It handles loading the pipeline configuration from YAML files, provides
// default values and turns the YAML sections into typed stage settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"volreg/internal/tracing"
	"volreg/pkg/demons"
	"volreg/pkg/registration"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// WorkingDir receives the output structures of every case
		WorkingDir string `yaml:"workingDir"`

		// OutputFormat is the file extension of output images: nii.gz, nii, mha or mhd
		OutputFormat string `yaml:"outputFormat"`
	} `yaml:"processing"`

	// Atlas describes the labelled image propagated onto each target
	Atlas struct {
		// Image is the atlas intensity image
		Image string `yaml:"image"`

		// Structures maps a structure name to its binary label image
		Structures map[string]string `yaml:"structures"`

		// Guidance replaces the atlas and target intensities with
		// structure guidance images during deformable registration
		Guidance struct {
			Enabled bool `yaml:"enabled"`

			// Structure is the atlas structure used for guidance
			Structure string `yaml:"structure"`

			// TargetMask is the matching binary image on the target side
			TargetMask string `yaml:"targetMask"`

			// ExpansionMM is added inside structures before normalisation
			ExpansionMM float64 `yaml:"expansionMM"`
		} `yaml:"guidance"`
	} `yaml:"atlas"`

	// Linear registration parameters
	Linear struct {
		Family             string    `yaml:"family"`
		Metric             string    `yaml:"metric"`
		HistogramBins      int       `yaml:"histogramBins"`
		Radius             int       `yaml:"radius"`
		Optimizer          string    `yaml:"optimizer"`
		ShrinkFactors      []float64 `yaml:"shrinkFactors"`
		SmoothingSigmas    []float64 `yaml:"smoothingSigmas"`
		Iterations         []int     `yaml:"iterations"`
		SamplingRate       float64   `yaml:"samplingRate"`
		Initializer        string    `yaml:"initializer"`
		FinalInterpolation string    `yaml:"finalInterpolation"`
		DefaultValue       float64   `yaml:"defaultValue"`

		// AllowExperimental enables the exhaustive optimizer
		AllowExperimental bool `yaml:"allowExperimental"`
	} `yaml:"linear"`

	// Deformable selects the refinement after linear registration: demons, bspline or none
	Deformable string `yaml:"deformable"`

	// Demons registration parameters
	Demons struct {
		ResolutionStaging            []float64 `yaml:"resolutionStaging"`
		Iterations                   []int     `yaml:"iterations"`
		SigmaFactor                  float64   `yaml:"sigmaFactor"`
		Isotropic                    bool      `yaml:"isotropic"`
		MaxStepLength                float64   `yaml:"maxStepLength"`
		UpdateFieldSigma             float64   `yaml:"updateFieldSigma"`
		DisplacementFieldSigma       float64   `yaml:"displacementFieldSigma"`
		IntensityDifferenceThreshold float64   `yaml:"intensityDifferenceThreshold"`
		Interpolation                string    `yaml:"interpolation"`
		DefaultValue                 float64   `yaml:"defaultValue"`
	} `yaml:"demons"`

	// B-spline registration parameters
	BSpline struct {
		Metric             string    `yaml:"metric"`
		HistogramBins      int       `yaml:"histogramBins"`
		Optimizer          string    `yaml:"optimizer"`
		ShrinkFactors      []float64 `yaml:"shrinkFactors"`
		SmoothingSigmas    []float64 `yaml:"smoothingSigmas"`
		Iterations         []int     `yaml:"iterations"`
		SamplingRates      []float64 `yaml:"samplingRates"`
		GridSpacing        float64   `yaml:"gridSpacing"`
		GridScaleFactors   []int     `yaml:"gridScaleFactors"`
		Isotropic          bool      `yaml:"isotropic"`
		IsotropicSize      float64   `yaml:"isotropicSize"`
		FinalInterpolation string    `yaml:"finalInterpolation"`
		DefaultValue       float64   `yaml:"defaultValue"`
	} `yaml:"bspline"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes QC slices after each step
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// QCFormat is the image format of QC slices: png, jpeg or tiff
		QCFormat string `yaml:"qcFormat"`

		// WindowCenter and WindowWidth set the QC display window
		WindowCenter float64 `yaml:"windowCenter"`
		WindowWidth  float64 `yaml:"windowWidth"`

		// Verbose prints numbered progress lines
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`
	} `yaml:"logging"`

	// Tracing parameters
	Tracing tracing.Config `yaml:"tracing"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.WorkingDir = "output"
	cfg.Processing.OutputFormat = "nii.gz"

	cfg.Atlas.Structures = map[string]string{}
	cfg.Atlas.Guidance.ExpansionMM = 2

	// Linear defaults mirror registration.DefaultLinearConfig
	cfg.Linear.Family = "similarity"
	cfg.Linear.Metric = "mean_squares"
	cfg.Linear.Optimizer = "gradient_descent"
	cfg.Linear.ShrinkFactors = []float64{8, 2, 1}
	cfg.Linear.SmoothingSigmas = []float64{4, 2, 0}
	cfg.Linear.Iterations = []int{50, 50, 50}
	cfg.Linear.SamplingRate = 0.25
	cfg.Linear.Initializer = "moments"
	cfg.Linear.FinalInterpolation = "linear"
	cfg.Linear.DefaultValue = -1000

	cfg.Deformable = "demons"

	solver := demons.DefaultSolver(0)
	cfg.Demons.ResolutionStaging = []float64{8, 4, 1}
	cfg.Demons.Iterations = []int{10, 10, 10}
	cfg.Demons.SigmaFactor = 1
	cfg.Demons.MaxStepLength = solver.MaxStepLength
	cfg.Demons.UpdateFieldSigma = solver.UpdateFieldSigma
	cfg.Demons.DisplacementFieldSigma = solver.DisplacementFieldSigma
	cfg.Demons.IntensityDifferenceThreshold = solver.IntensityDifferenceThreshold
	cfg.Demons.DefaultValue = -1000

	cfg.BSpline.Metric = "mean_squares"
	cfg.BSpline.Optimizer = "lbfgsb"
	cfg.BSpline.ShrinkFactors = []float64{8, 4, 2}
	cfg.BSpline.SmoothingSigmas = []float64{4, 2, 1}
	cfg.BSpline.Iterations = []int{20, 20, 20}
	cfg.BSpline.SamplingRates = []float64{0.1}
	cfg.BSpline.GridSpacing = 64
	cfg.BSpline.GridScaleFactors = []int{1, 2, 4}
	cfg.BSpline.IsotropicSize = 1
	cfg.BSpline.FinalInterpolation = "bspline"
	cfg.BSpline.DefaultValue = -1000

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.QCFormat = "png"
	cfg.Output.WindowCenter = 40
	cfg.Output.WindowWidth = 400
	cfg.Output.Verbose = true

	cfg.Logging.Level = "info"
	cfg.Tracing = tracing.DefaultConfig()

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// LinearConfig builds the linear stage settings. Unknown names come back as
// *registration.ConfigError.
func (c *Config) LinearConfig() (registration.LinearConfig, error) {
	l := c.Linear
	out := registration.DefaultLinearConfig()
	var err error
	if out.Family, err = registration.ParseFamily(l.Family); err != nil {
		return out, err
	}
	if out.Metric, err = registration.ParseLinearMetric(l.Metric, l.HistogramBins, l.Radius); err != nil {
		return out, err
	}
	if out.Optimizer, err = registration.ParseLinearOptimizer(l.Optimizer); err != nil {
		return out, err
	}
	if out.Schedule, err = registration.NewSchedule(l.ShrinkFactors, l.SmoothingSigmas, iterationsFor(l.Iterations, len(l.ShrinkFactors))); err != nil {
		return out, err
	}
	if out.Initializer, err = registration.ParseInitializer(l.Initializer); err != nil {
		return out, err
	}
	if out.FinalInterpolation, err = registration.ParseInterpolation(l.FinalInterpolation); err != nil {
		return out, err
	}
	out.SamplingRate = l.SamplingRate
	out.DefaultValue = l.DefaultValue
	out.AllowExperimental = l.AllowExperimental
	out.Workers = c.Processing.NumCores
	return out, nil
}

// DemonsConfig builds the demons stage settings.
func (c *Config) DemonsConfig() (registration.DemonsConfig, error) {
	d := c.Demons
	out := registration.DefaultDemonsConfig()
	var err error
	if out.Schedule, err = registration.DemonsSchedule(d.ResolutionStaging, iterationsFor(d.Iterations, len(d.ResolutionStaging)), d.SigmaFactor); err != nil {
		return out, err
	}
	if d.Interpolation != "" {
		if out.Interpolation, err = registration.ParseInterpolation(d.Interpolation); err != nil {
			return out, err
		}
	}
	out.Isotropic = d.Isotropic
	out.DefaultValue = d.DefaultValue
	out.Solver.MaxStepLength = d.MaxStepLength
	out.Solver.UpdateFieldSigma = d.UpdateFieldSigma
	out.Solver.SmoothUpdateField = d.UpdateFieldSigma > 0
	out.Solver.DisplacementFieldSigma = d.DisplacementFieldSigma
	out.Solver.SmoothDisplacementField = d.DisplacementFieldSigma > 0
	out.Solver.IntensityDifferenceThreshold = d.IntensityDifferenceThreshold
	out.Solver.Workers = c.Processing.NumCores
	return out, nil
}

// BSplineConfig builds the B-spline stage settings.
func (c *Config) BSplineConfig() (registration.BSplineConfig, error) {
	b := c.BSpline
	out := registration.DefaultBSplineConfig()
	var err error
	if out.Metric, err = registration.ParseBSplineMetric(b.Metric, b.HistogramBins); err != nil {
		return out, err
	}
	if out.Optimizer, err = registration.ParseBSplineOptimizer(b.Optimizer); err != nil {
		return out, err
	}
	if out.Schedule, err = registration.NewSchedule(b.ShrinkFactors, b.SmoothingSigmas, iterationsFor(b.Iterations, len(b.ShrinkFactors))); err != nil {
		return out, err
	}
	if out.FinalInterpolation, err = registration.ParseInterpolation(b.FinalInterpolation); err != nil {
		return out, err
	}
	out.SamplingRates = append([]float64(nil), b.SamplingRates...)
	out.GridSpacing = b.GridSpacing
	out.GridScaleFactors = append([]int(nil), b.GridScaleFactors...)
	out.Isotropic = b.Isotropic
	out.IsotropicSize = b.IsotropicSize
	out.DefaultValue = b.DefaultValue
	out.Workers = c.Processing.NumCores
	return out, nil
}

// iterationsFor repeats a single iteration count over all levels.
func iterationsFor(iters []int, levels int) []int {
	if len(iters) == 1 && levels > 1 {
		return registration.UniformIterations(levels, iters[0])
	}
	return iters
}
