package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volreg/pkg/interpolation"
	"volreg/pkg/metric"
	"volreg/pkg/optimizer"
	"volreg/pkg/registration"
	"volreg/pkg/transform"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Linear.Family, cfg.Linear.Family)
	assert.Equal(t, "demons", cfg.Deformable)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "volreg.yaml")
	cfg := DefaultConfig()
	cfg.Atlas.Image = "/atlas/ct.nii.gz"
	cfg.Atlas.Structures["heart"] = "/atlas/heart.nii.gz"
	cfg.Tracing.Enabled = true
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volreg.yaml")
	body := "linear:\n  family: rigid\n  iterations: [30]\ndeformable: bspline\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bspline", cfg.Deformable)
	assert.Equal(t, "mean_squares", cfg.Linear.Metric)

	lin, err := cfg.LinearConfig()
	require.NoError(t, err)
	assert.Equal(t, transform.Rigid, lin.Family)
	for _, l := range lin.Schedule.Levels() {
		assert.Equal(t, 30, l.Iterations)
	}
}

func TestBuildersMatchStageDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.NumCores = 3

	lin, err := cfg.LinearConfig()
	require.NoError(t, err)
	want := registration.DefaultLinearConfig()
	want.Workers = 3
	assert.Equal(t, want, lin)

	bs, err := cfg.BSplineConfig()
	require.NoError(t, err)
	wantBS := registration.DefaultBSplineConfig()
	wantBS.Workers = 3
	assert.Equal(t, wantBS, bs)

	dem, err := cfg.DemonsConfig()
	require.NoError(t, err)
	wantDem := registration.DefaultDemonsConfig()
	wantDem.Solver.Workers = 3
	assert.Equal(t, wantDem, dem)
}

func TestBuildersParseNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Linear.Metric = "mattes_mi"
	cfg.Linear.HistogramBins = 32
	cfg.BSpline.Optimizer = "cgls"
	cfg.Demons.Interpolation = "nearest"

	lin, err := cfg.LinearConfig()
	require.NoError(t, err)
	assert.Equal(t, metric.MattesMutualInformation{Bins: 32}, lin.Metric)

	bs, err := cfg.BSplineConfig()
	require.NoError(t, err)
	assert.Equal(t, optimizer.ConjugateGradientLineSearch{LearningRate: 0.05}, bs.Optimizer)

	dem, err := cfg.DemonsConfig()
	require.NoError(t, err)
	assert.Equal(t, interpolation.NearestNeighbor, dem.Interpolation)
}

func TestBuildersRejectUnknownNames(t *testing.T) {
	cases := map[string]func(c *Config) error{
		"family": func(c *Config) error {
			c.Linear.Family = "perspective"
			_, err := c.LinearConfig()
			return err
		},
		"bspline metric": func(c *Config) error {
			c.BSpline.Metric = "ants"
			_, err := c.BSplineConfig()
			return err
		},
		"demons schedule": func(c *Config) error {
			c.Demons.Iterations = []int{10, 10}
			_, err := c.DemonsConfig()
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn(DefaultConfig())
			var ce *registration.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.ErrorIs(t, err, registration.ErrConfiguration)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volreg.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shrinkFactors:")
	assert.Contains(t, string(data), "tracing:")
}
