// Package pipeline runs atlas-based segmentation cases: an atlas with
// labelled structures is registered onto each target image and its
// structures are propagated into the target space.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"volreg/internal/ctxlog"
	"volreg/internal/models"
	"volreg/internal/tracing"
	"volreg/pkg/config"
	"volreg/pkg/features"
	"volreg/pkg/imageio"
	"volreg/pkg/interpolation"
	"volreg/pkg/quality"
	"volreg/pkg/registration"
	"volreg/pkg/transform"
	"volreg/pkg/visualization"
	"volreg/pkg/volume"
)

// Atlas is a reference image with binary structure images in its space.
type Atlas struct {
	Image      *volume.Image
	Structures map[string]*volume.Image
}

// Names returns the structure names in sorted order.
func (a *Atlas) Names() []string {
	names := make([]string, 0, len(a.Structures))
	for n := range a.Structures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadAtlas reads the atlas image and structures named in cfg.
func LoadAtlas(cfg *config.Config) (*Atlas, error) {
	if cfg.Atlas.Image == "" {
		return nil, fmt.Errorf("no atlas image configured")
	}
	img, err := imageio.Read(cfg.Atlas.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to read atlas image: %w", err)
	}
	a := &Atlas{Image: img, Structures: map[string]*volume.Image{}}
	for name, path := range cfg.Atlas.Structures {
		s, err := imageio.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read atlas structure %s: %w", name, err)
		}
		if err := volume.SameDimension(img, s); err != nil {
			return nil, fmt.Errorf("atlas structure %s: %w", name, err)
		}
		a.Structures[name] = s
	}
	if len(a.Structures) == 0 {
		return nil, fmt.Errorf("atlas has no structures")
	}
	return a, nil
}

// CaseResult is what one case produced.
type CaseResult struct {
	Linear     *registration.LinearResult
	Deformable transform.Transform // nil when deformable registration is off

	// Transform maps target points into atlas space.
	Transform  transform.Transform
	Structures map[string]*volume.Image
	Outputs    []*models.DataObject

	// Quality scores the registered atlas against the target after the
	// "linear" and "deformable" stages.
	Quality map[string]quality.Report

	// Overlap compares the guidance structure with the target mask, when
	// a target mask is configured.
	Overlap map[string]quality.Overlap
}

// Runner handles atlas-based cases following the steps:
// 1. Loading the target image
// 2. Loading the atlas image and structures
// 3. Linear registration of the atlas onto the target
// 4. Deformable refinement (demons, B-spline or none)
// 5. Propagating the atlas structures with nearest neighbour
// 6. Writing one image per structure with provenance
type Runner struct {
	// cfg stores the pipeline configuration
	cfg *config.Config

	// atlas is loaded on first use unless set with WithAtlas
	atlas *Atlas

	// Observer receives stage progress; it may be nil
	Observer registration.Observer
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// WithAtlas sets an already loaded atlas.
func (r *Runner) WithAtlas(a *Atlas) *Runner {
	r.atlas = a
	return r
}

func (r *Runner) printf(format string, args ...any) {
	if r.cfg.Output.Verbose {
		fmt.Printf(format, args...)
	}
}

// Process runs one case per input data object and returns the output data
// objects of all cases. A failing case aborts the run.
func (r *Runner) Process(ctx context.Context, objects []*models.DataObject) ([]*models.DataObject, error) {
	if err := os.MkdirAll(r.cfg.Processing.WorkingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	var outputs []*models.DataObject
	for _, obj := range objects {
		res, err := r.RunCase(ctx, obj)
		if err != nil {
			return nil, fmt.Errorf("case %s (%s): %w", obj.ID, obj.Path, err)
		}
		outputs = append(outputs, res.Outputs...)
	}
	return outputs, nil
}

// ReadObject loads the image behind a data object.
func ReadObject(obj *models.DataObject) (*volume.Image, error) {
	switch obj.Type {
	case models.TypeDICOM:
		return imageio.ReadDICOMSeries(obj.Path)
	case models.TypeFile:
		return imageio.Read(obj.Path)
	}
	return nil, fmt.Errorf("unknown data object type %q", obj.Type)
}

// RunCase segments a single target.
func (r *Runner) RunCase(ctx context.Context, obj *models.DataObject) (res *CaseResult, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.case", attribute.String(tracing.AttrCaseID, obj.ID.String()))
	defer func() { tracing.End(span, err) }()
	log := ctxlog.FromContext(ctx).With("case", obj.ID.String())
	ctx = ctxlog.WithLogger(ctx, log)
	log.Info("running case", "path", obj.Path, "type", obj.Type)

	caseDir := filepath.Join(r.cfg.Processing.WorkingDir, obj.ID.String())
	if err := os.MkdirAll(caseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create case directory: %w", err)
	}
	qcDir := filepath.Join(caseDir, "qc")

	// Step 1: Load the target
	r.printf("Step 1: Loading target %s...\n", obj.Path)
	target, err := ReadObject(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to load target: %w", err)
	}
	r.saveQC(qcDir, "01_target", target, nil)

	// Step 2: Load the atlas
	r.printf("Step 2: Loading atlas...\n")
	if r.atlas == nil {
		if r.atlas, err = LoadAtlas(r.cfg); err != nil {
			return nil, err
		}
	}
	atlas := r.atlas

	// Step 3: Linear registration
	r.printf("Step 3: Linear registration of atlas onto target...\n")
	linCfg, err := r.cfg.LinearConfig()
	if err != nil {
		return nil, err
	}
	lin, err := registration.Linear(ctx, registration.Pair{Fixed: target, Moving: atlas.Image}, linCfg, r.Observer)
	if err != nil {
		return nil, fmt.Errorf("linear registration failed: %w", err)
	}
	r.saveQC(qcDir, "03_linear", lin.Image, target)

	res = &CaseResult{
		Linear:     lin,
		Transform:  lin.Transform,
		Structures: map[string]*volume.Image{},
		Quality:    map[string]quality.Report{},
	}
	r.score(ctx, res, "linear", target, lin.Image)

	// Step 4: Deformable refinement
	deformable, err := r.deformable(ctx, qcDir, target, lin, atlas)
	if err != nil {
		return nil, err
	}
	if deformable != nil {
		res.Deformable = deformable
		// deformable first, then the linear chain back into atlas space
		if res.Transform, err = transform.NewComposite(lin.Transform, deformable); err != nil {
			return nil, err
		}
		ref := target.Grid()
		warped, err := registration.Apply(atlas.Image, res.Transform, registration.ApplyOptions{
			Interpolation: interpolation.Linear,
			DefaultValue:  r.cfg.Linear.DefaultValue,
			Reference:     &ref,
			Workers:       r.cfg.Processing.NumCores,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resample atlas through the final transform: %w", err)
		}
		r.score(ctx, res, "deformable", target, warped)
	}

	// Step 5: Propagate structures
	r.printf("Step 5: Propagating %d structures...\n", len(atlas.Structures))
	ref := target.Grid()
	for _, name := range atlas.Names() {
		s, err := registration.Apply(atlas.Structures[name], res.Transform, registration.ApplyOptions{
			Structure: true,
			Reference: &ref,
			Workers:   r.cfg.Processing.NumCores,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to propagate %s: %w", name, err)
		}
		res.Structures[name] = s
		log.Debug("structure propagated", "structure", name)
	}
	if g := r.cfg.Atlas.Guidance; g.TargetMask != "" {
		if s, ok := res.Structures[g.Structure]; ok {
			if err := r.overlap(res, g.Structure, g.TargetMask, s); err != nil {
				log.Warn("structure overlap not computed", "structure", g.Structure, "error", err)
			}
		}
	}

	// Step 6: Write outputs
	r.printf("Step 6: Writing outputs to %s...\n", caseDir)
	ext := strings.TrimPrefix(r.cfg.Processing.OutputFormat, ".")
	for _, name := range atlas.Names() {
		path := filepath.Join(caseDir, fmt.Sprintf("%s.%s", name, ext))
		if err := imageio.Write(path, res.Structures[name]); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		res.Outputs = append(res.Outputs, obj.Derive(path, map[string]string{"structure": name}))
	}
	tpath := filepath.Join(caseDir, "transform.yaml")
	if err := imageio.WriteTransform(tpath, res.Transform); err != nil {
		return nil, err
	}
	res.Outputs = append(res.Outputs, obj.Derive(tpath, map[string]string{"kind": "transform"}))
	qpath := filepath.Join(caseDir, "quality.yaml")
	if err := writeQuality(qpath, res); err != nil {
		return nil, err
	}
	res.Outputs = append(res.Outputs, obj.Derive(qpath, map[string]string{"kind": "quality"}))

	log.Info("case finished", "outputs", len(res.Outputs))
	return res, nil
}

// score records how well img, the atlas in target space, matches target.
// Scoring failures are logged and leave the stage out of the report.
func (r *Runner) score(ctx context.Context, res *CaseResult, stage string, target, img *volume.Image) {
	log := ctxlog.FromContext(ctx)
	rep, err := quality.Compare(target, img, r.cfg.Processing.NumCores)
	if err != nil {
		log.Warn("quality not computed", "stage", stage, "error", err)
		return
	}
	res.Quality[stage] = rep
	log.Info("registration quality",
		"stage", stage,
		"rmse", rep.RMSE,
		"ssim", rep.SSIM,
		"mi", rep.MI,
		"edge_correlation", rep.EdgeCorrelation)
	r.printf("  %s: RMSE %.3f, SSIM %.3f, edge correlation %.3f\n", stage, rep.RMSE, rep.SSIM, rep.EdgeCorrelation)
}

func (r *Runner) overlap(res *CaseResult, name, maskPath string, s *volume.Image) error {
	mask, err := imageio.Read(maskPath)
	if err != nil {
		return err
	}
	o, err := quality.CompareStructures(mask, s)
	if err != nil {
		return err
	}
	res.Overlap = map[string]quality.Overlap{name: o}
	r.printf("  %s: Dice %.3f\n", name, o.Dice)
	return nil
}

func writeQuality(path string, res *CaseResult) error {
	data, err := yaml.Marshal(struct {
		Quality map[string]quality.Report  `yaml:"quality"`
		Overlap map[string]quality.Overlap `yaml:"overlap,omitempty"`
	}{res.Quality, res.Overlap})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write quality report: %w", err)
	}
	return nil
}

// deformable runs the configured refinement between the target and the
// linearly registered atlas, optionally on structure guidance images.
func (r *Runner) deformable(ctx context.Context, qcDir string, target *volume.Image, lin *registration.LinearResult, atlas *Atlas) (transform.Transform, error) {
	method := strings.ToLower(r.cfg.Deformable)
	if method == "" || method == "none" {
		r.printf("Step 4: Deformable registration skipped\n")
		return nil, nil
	}

	pair := registration.Pair{Fixed: target, Moving: lin.Image}
	g := r.cfg.Atlas.Guidance
	if g.Enabled {
		fixedGuide, movingGuide, err := r.guidance(target.Grid(), lin, atlas)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare structure guidance: %w", err)
		}
		pair = registration.Pair{Fixed: fixedGuide, Moving: movingGuide}
	}

	switch method {
	case "demons":
		r.printf("Step 4: Demons registration...\n")
		cfg, err := r.cfg.DemonsConfig()
		if err != nil {
			return nil, err
		}
		out, err := registration.Demons(ctx, pair, cfg, r.Observer)
		if err != nil {
			return nil, fmt.Errorf("demons registration failed: %w", err)
		}
		r.saveQC(qcDir, "04_demons", out.Image, pair.Fixed)
		return out.Transform, nil
	case "bspline":
		r.printf("Step 4: B-spline registration...\n")
		cfg, err := r.cfg.BSplineConfig()
		if err != nil {
			return nil, err
		}
		out, err := registration.BSpline(ctx, pair, cfg, r.Observer)
		if err != nil {
			return nil, fmt.Errorf("B-spline registration failed: %w", err)
		}
		r.saveQC(qcDir, "04_bspline", out.Image, pair.Fixed)
		return out.Transform, nil
	}
	return nil, &registration.ConfigError{
		Field: "deformable", Value: r.cfg.Deformable, Valid: []string{"demons", "bspline", "none"},
	}
}

// guidance builds structure guidance images for the target mask and for the
// atlas structure carried into target space by the linear transform.
func (r *Runner) guidance(ref volume.Grid, lin *registration.LinearResult, atlas *Atlas) (fixed, moving *volume.Image, err error) {
	g := r.cfg.Atlas.Guidance
	structure, ok := atlas.Structures[g.Structure]
	if !ok {
		return nil, nil, fmt.Errorf("guidance structure %q is not in the atlas", g.Structure)
	}
	targetMask, err := imageio.Read(g.TargetMask)
	if err != nil {
		return nil, nil, err
	}
	moved, err := registration.Apply(structure, lin.Transform, registration.ApplyOptions{
		Structure: true,
		Reference: &ref,
		Workers:   r.cfg.Processing.NumCores,
	})
	if err != nil {
		return nil, nil, err
	}
	if fixed, err = features.StructureGuidanceWorkers(targetMask, g.ExpansionMM, nil, r.cfg.Processing.NumCores); err != nil {
		return nil, nil, err
	}
	if moving, err = features.StructureGuidanceWorkers(moved, g.ExpansionMM, nil, r.cfg.Processing.NumCores); err != nil {
		return nil, nil, err
	}
	return fixed, moving, nil
}

// saveQC writes the middle axial slice of img, and a checkerboard against
// ref when given, if intermediary results are enabled. Failures are only
// reported.
func (r *Runner) saveQC(dir, stage string, img, ref *volume.Image) {
	out := r.cfg.Output
	if !out.SaveIntermediaryResults {
		return
	}
	if err := SaveQC(dir, stage, img, ref, out.WindowCenter, out.WindowWidth, out.QCFormat); err != nil {
		fmt.Printf("Warning: Failed to save %s QC slice: %v\n", stage, err)
	}
}

// SaveQC writes <stage>.<format> with the middle slice of img along z and,
// when ref is not nil, <stage>_checker.<format> comparing it with ref.
func SaveQC(dir, stage string, img, ref *volume.Image, center, width float64, format string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	v, err := visualization.NewViewer(img, center, width)
	if err != nil {
		return err
	}
	slice, err := v.MiddleSlice("z")
	if err != nil {
		return err
	}
	if err := visualization.SaveSlice(slice, filepath.Join(dir, stage+"."+format)); err != nil {
		return err
	}
	if ref == nil {
		return nil
	}
	rv, err := visualization.NewViewer(ref, center, width)
	if err != nil {
		return err
	}
	refSlice, err := rv.MiddleSlice("z")
	if err != nil {
		return err
	}
	checker, err := visualization.Checkerboard(refSlice, slice, 16)
	if err != nil {
		return err
	}
	return visualization.SaveSlice(checker, filepath.Join(dir, stage+"_checker."+format))
}
