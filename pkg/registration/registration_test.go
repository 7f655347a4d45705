package registration

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volreg/pkg/interpolation"
	"volreg/pkg/metric"
	"volreg/pkg/optimizer"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// blob is a soft-edged sphere of radius r centred at c (physical mm), stored
// as Int16 so samples are rounded.
func blob(size int, spacing float64, c [3]float64, r float64) *volume.Image {
	g := volume.NewGrid3D([3]int{size, size, size}, [3]float64{spacing, spacing, spacing}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		p := g.VoxelPoint(i)
		d := math.Sqrt((p[0]-c[0])*(p[0]-c[0]) + (p[1]-c[1])*(p[1]-c[1]) + (p[2]-c[2])*(p[2]-c[2]))
		data[i] = 200 / (1 + math.Exp((d-r)/1.5))
	}
	return volume.MustFromData(g, volume.Int16, 1, data)
}

func labels(size int) *volume.Image {
	g := volume.NewGrid3D([3]int{size, size, size}, [3]float64{1, 1, 1}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		x, y, _ := g.Coords(i)
		data[i] = float64((x/2 + y/3) % 4)
	}
	return volume.MustFromData(g, volume.Uint8, 1, data)
}

func TestNewScheduleValidation(t *testing.T) {
	cases := []struct {
		name   string
		shrink []float64
		sigmas []float64
		iters  []int
	}{
		{"empty", nil, nil, nil},
		{"unequal lengths", []float64{4, 2}, []float64{1}, []int{10, 10}},
		{"zero shrink", []float64{2, 0}, []float64{1, 0}, []int{10, 10}},
		{"negative sigma", []float64{2, 1}, []float64{-1, 0}, []int{10, 10}},
		{"zero iterations", []float64{2, 1}, []float64{1, 0}, []int{10, 0}},
		{"fine to coarse", []float64{1, 2}, []float64{0, 1}, []int{10, 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSchedule(tc.shrink, tc.sigmas, tc.iters)
			require.ErrorIs(t, err, ErrConfiguration)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
		})
	}

	s, err := NewSchedule([]float64{4, 2, 2, 1}, []float64{2, 1, 1, 0}, []int{5, 5, 5, 5})
	require.NoError(t, err)
	levels := s.Levels()
	require.Len(t, levels, 4)
	levels[0].Shrink = 100
	assert.Equal(t, 4.0, s.Levels()[0].Shrink, "Levels must return a copy")
}

func TestDefaultsAreFresh(t *testing.T) {
	a := DefaultBSplineConfig()
	a.GridScaleFactors[0] = 9
	a.SamplingRates[0] = 0.9
	b := DefaultBSplineConfig()
	assert.Equal(t, []int{1, 2, 4}, b.GridScaleFactors)
	assert.Equal(t, []float64{0.1}, b.SamplingRates)

	lin := DefaultLinearConfig()
	assert.Equal(t, transform.Similarity, lin.Family)
	assert.Equal(t, metric.MeanSquares{}, lin.Metric)
	assert.Equal(t, optimizer.GradientDescent{LearningRate: 1}, lin.Optimizer)
	assert.Equal(t, 3, lin.Schedule.Len())
	assert.Equal(t, -1000.0, lin.DefaultValue)

	dem := DefaultDemonsConfig()
	for i, l := range dem.Schedule.Levels() {
		assert.Equal(t, l.Shrink, l.Sigma, "level %d sigma is shrink times factor 1", i)
		assert.Equal(t, 10, l.Iterations)
	}
}

func TestParseNames(t *testing.T) {
	f, err := ParseFamily("ScaleSkewVersor")
	require.NoError(t, err)
	assert.Equal(t, transform.ScaleSkewVersor, f)

	_, err = ParseFamily("shear")
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, transform.FamilyNames, ce.Valid)
	assert.Contains(t, err.Error(), "similarity")

	m, err := ParseLinearMetric("ants", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, metric.NeighborhoodCorrelation{Radius: 5}, m)

	bm, err := ParseBSplineMetric("mutual_information", 0)
	require.NoError(t, err)
	assert.Equal(t, metric.MattesMutualInformation{Bins: 30}, bm)

	_, err = ParseBSplineMetric("ants", 0)
	assert.ErrorIs(t, err, ErrConfiguration)

	o, err := ParseBSplineOptimizer("CGLS")
	require.NoError(t, err)
	assert.Equal(t, optimizer.ConjugateGradientLineSearch{LearningRate: 0.05}, o)

	_, err = ParseLinearOptimizer("cgls")
	assert.ErrorIs(t, err, ErrConfiguration)

	im, err := ParseInterpolation("3")
	require.NoError(t, err)
	assert.Equal(t, interpolation.BSpline, im)
}

func TestControlPointSpacingToNumber(t *testing.T) {
	g := volume.NewGrid3D([3]int{256, 256, 64}, [3]float64{1, 1, 1}, [3]float64{})
	assert.Equal(t, [3]int{4, 4, 1}, ControlPointSpacingToNumber(g, 64))

	g.Spacing = [3]float64{0.5, 0.5, 0.5}
	assert.Equal(t, [3]int{2, 2, 1}, ControlPointSpacingToNumber(g, 64))
}

func TestApplyRejectsInterpolatedStructures(t *testing.T) {
	for _, m := range []interpolation.Method{interpolation.Linear, interpolation.BSpline} {
		_, err := Apply(labels(6), transform.NewIdentity(3), ApplyOptions{Structure: true, Interpolation: m})
		assert.ErrorIs(t, err, ErrConstraintViolation, m.String())
	}
}

func TestApplyKeepsIntegerLabels(t *testing.T) {
	img := labels(10)
	shift, err := transform.NewLinearWithParameters(transform.Translation, 3, [3]float64{}, []float64{0.4, -1.3, 0.7})
	require.NoError(t, err)
	out, err := Apply(img, shift, ApplyOptions{Structure: true})
	require.NoError(t, err)
	assert.Equal(t, volume.Uint8, out.PixelType())
	for _, v := range out.Samples() {
		assert.Contains(t, []float64{0, 1, 2, 3}, v)
	}
}

func TestApplyIdentityCompositionRoundTrip(t *testing.T) {
	img := blob(10, 1, [3]float64{4.5, 4.5, 4.5}, 3)
	id := transform.NewIdentity(3)
	c, err := transform.Compose(id, id)
	require.NoError(t, err)
	for _, m := range []interpolation.Method{interpolation.NearestNeighbor, interpolation.Linear, interpolation.BSpline} {
		out, err := Apply(img, c, ApplyOptions{Interpolation: m, DefaultValue: -1})
		require.NoError(t, err)
		assert.Equal(t, img.Samples(), out.Samples(), m.String())
	}
}

func TestApplyIntoReference(t *testing.T) {
	img := blob(8, 1, [3]float64{3.5, 3.5, 3.5}, 2)
	ref := volume.NewGrid3D([3]int{4, 4, 4}, [3]float64{2, 2, 2}, [3]float64{20, 0, 0})
	out, err := Apply(img, nil, ApplyOptions{Reference: &ref, DefaultValue: -5})
	require.NoError(t, err)
	assert.Equal(t, ref.Size, out.Size())
	for _, v := range out.Samples() {
		assert.Equal(t, -5.0, v)
	}
}

func TestInitialFieldPreservesMagnitude(t *testing.T) {
	fine := volume.NewGrid3D([3]int{9, 9, 9}, [3]float64{1, 1, 1}, [3]float64{})
	data := make([]float64, fine.NumVoxels()*3)
	for i := 0; i < fine.NumVoxels(); i++ {
		data[3*i], data[3*i+1], data[3*i+2] = 2, -1, 0.5
	}
	cfg := DefaultDemonsConfig()
	cfg.InitialField = volume.MustFromData(fine, volume.Float64, 3, data)

	coarse := volume.NewGrid3D([3]int{3, 3, 3}, [3]float64{4, 4, 4}, [3]float64{})
	f, err := initialField(cfg, coarse)
	require.NoError(t, err)
	require.Equal(t, 3, f.Components())
	for i := 0; i < coarse.NumVoxels(); i++ {
		assert.InDelta(t, 2, f.At(i%3, (i/3)%3, i/9, 0), 1e-12)
		assert.InDelta(t, -1, f.At(i%3, (i/3)%3, i/9, 1), 1e-12)
		assert.InDelta(t, 0.5, f.At(i%3, (i/3)%3, i/9, 2), 1e-12)
	}

	cfg.InitialField = nil
	shift, _ := transform.NewLinearWithParameters(transform.Translation, 3, [3]float64{}, []float64{1, 2, 3})
	cfg.InitialTransform = shift
	f, err = initialField(cfg, coarse)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, f.Samples()[:3])

	cfg.InitialTransform = nil
	f, err = initialField(cfg, coarse)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestMomentsAlignmentTranslation(t *testing.T) {
	// the soft tails must fit inside the grid or they bias the centroids
	fixed := blob(40, 1, [3]float64{19.5, 19.5, 19.5}, 5)
	moving := blob(40, 1, [3]float64{21.5, 18.5, 20.5}, 5)
	tr, err := MomentsAlignment(fixed.AsFloat(), moving.AsFloat(), false)
	require.NoError(t, err)
	p := tr.TransformPoint([3]float64{19.5, 19.5, 19.5})
	assert.InDelta(t, 21.5, p[0], 0.05)
	assert.InDelta(t, 18.5, p[1], 0.05)
	assert.InDelta(t, 20.5, p[2], 0.05)
}

func ellipsoid(axes [3]float64) *volume.Image {
	g := volume.NewGrid3D([3]int{31, 31, 31}, [3]float64{1, 1, 1}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		p := g.VoxelPoint(i)
		var s float64
		for a := 0; a < 3; a++ {
			d := (p[a] - 15) / axes[a]
			s += d * d
		}
		if s <= 1 {
			data[i] = 1
		}
	}
	return volume.MustFromData(g, volume.Uint8, 1, data)
}

func TestMomentsAlignmentSecondMoment(t *testing.T) {
	fixed := ellipsoid([3]float64{12, 6, 3})
	moving := ellipsoid([3]float64{6, 12, 3})
	tr, err := MomentsAlignment(fixed, moving, true)
	require.NoError(t, err)
	p := tr.TransformPoint([3]float64{25, 15, 15})
	// the long fixed axis (x) lands on the long moving axis (y)
	assert.InDelta(t, 15, p[0], 1e-6)
	assert.InDelta(t, 10, math.Abs(p[1]-15), 1e-6)
	assert.InDelta(t, 15, p[2], 1e-6)

	m := tr.Matrix()
	det := m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
	assert.InDelta(t, 1, det, 1e-9)
}

func TestGeometryAlignment(t *testing.T) {
	fixed := blob(10, 1, [3]float64{}, 3)
	g := volume.NewGrid3D([3]int{10, 10, 10}, [3]float64{2, 2, 2}, [3]float64{5, 0, 0})
	moving, err := volume.New(g, volume.Float32, 1)
	require.NoError(t, err)
	tr, err := GeometryAlignment(fixed, moving)
	require.NoError(t, err)
	got, want := tr.TransformPoint(fixed.Grid().Center()), g.Center()
	for a := 0; a < 3; a++ {
		assert.InDelta(t, want[a], got[a], 1e-9)
	}
}

func TestAlignRecoversShift(t *testing.T) {
	fixed := blob(40, 1, [3]float64{19.5, 19.5, 19.5}, 4)
	moving := blob(40, 1, [3]float64{21.5, 19.5, 18.5}, 4)
	out, tr, err := Align(fixed, moving, false)
	require.NoError(t, err)
	assert.Equal(t, volume.Int16, out.PixelType())
	p := tr.TransformPoint([3]float64{19.5, 19.5, 19.5})
	assert.InDelta(t, 21.5, p[0], 0.05)
	assert.InDelta(t, 19.5, p[1], 0.05)
	assert.InDelta(t, 18.5, p[2], 0.05)
	assert.InDelta(t, fixed.At(19, 19, 19, 0), out.At(19, 19, 19, 0), 2)
}

func TestLinearConfigErrors(t *testing.T) {
	ctx := context.Background()
	img3 := blob(8, 1, [3]float64{3.5, 3.5, 3.5}, 2)
	g2 := volume.NewGrid2D(8, 8, [2]float64{1, 1}, [2]float64{})
	img2 := volume.MustFromData(g2, volume.Float32, 1, make([]float64, 64))

	cfg := DefaultLinearConfig()
	cfg.Family = transform.ScaleVersor
	_, err := Linear(ctx, Pair{Fixed: img2, Moving: img2}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultLinearConfig()
	cfg.Optimizer = optimizer.DefaultExhaustive()
	_, err = Linear(ctx, Pair{Fixed: img3, Moving: img3}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration, "exhaustive needs AllowExperimental")

	cfg.Family = transform.Rigid
	cfg.AllowExperimental = true
	cfg.Optimizer = optimizer.Exhaustive{Samples: []int{1, 1}, StepLength: 1}
	_, err = Linear(ctx, Pair{Fixed: img3, Moving: img3}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration, "rigid has six parameters")

	_, err = Linear(ctx, Pair{Fixed: img3, Moving: img2}, DefaultLinearConfig(), nil)
	assert.ErrorIs(t, err, ErrGeometryMismatch)

	_, err = Linear(ctx, Pair{Fixed: img3, Moving: img3, FixedMask: labels(8)}, DefaultLinearConfig(), nil)
	assert.ErrorIs(t, err, ErrConfiguration, "label images are not masks")

	cfg = DefaultLinearConfig()
	cfg.Schedule = Schedule{}
	_, err = Linear(ctx, Pair{Fixed: img3, Moving: img3}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLinearIdenticalImagesStayAtIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping registration run in short mode")
	}
	img := blob(20, 1, [3]float64{9.5, 9.5, 9.5}, 5)
	optimizers := []string{"gradient_descent", "gradient_descent_line_search", "lbfgsb"}
	for _, metricName := range LinearMetricNames {
		for _, optName := range optimizers {
			t.Run(metricName+"/"+optName, func(t *testing.T) {
				m, err := ParseLinearMetric(metricName, 0, 0)
				require.NoError(t, err)
				o, err := ParseLinearOptimizer(optName)
				require.NoError(t, err)
				cfg := DefaultLinearConfig()
				cfg.Family = transform.Rigid
				cfg.Metric = m
				cfg.Optimizer = o
				cfg.Schedule = mustSchedule([]float64{2, 1}, []float64{1, 0}, []int{10, 10})
				cfg.Workers = 2

				res, err := Linear(context.Background(), Pair{Fixed: img, Moving: img}, cfg, func(p Progress) {
					assert.Equal(t, "linear", p.Stage)
				})
				require.NoError(t, err)
				require.Len(t, res.Levels, 2)
				for _, c := range img.Grid().Corners() {
					p := res.Transform.TransformPoint(c)
					for a := 0; a < 3; a++ {
						assert.InDelta(t, c[a], p[a], 0.1)
					}
				}
				assert.Equal(t, volume.Int16, res.Image.PixelType())
				assert.Equal(t, 2, res.Transform.Len())
			})
		}
	}
}

func TestLinearRecoversTranslation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping registration run in short mode")
	}
	fixed := blob(24, 1, [3]float64{11.5, 11.5, 11.5}, 5)
	moving := blob(24, 1, [3]float64{14.5, 9.5, 12.5}, 5)
	cfg := DefaultLinearConfig()
	cfg.Family = transform.Translation
	cfg.Schedule = mustSchedule([]float64{2, 1}, []float64{1, 0}, []int{20, 20})
	cfg.SamplingRate = 0.5

	res, err := Linear(context.Background(), Pair{Fixed: fixed, Moving: moving}, cfg, nil)
	require.NoError(t, err)
	p := res.Transform.TransformPoint([3]float64{11.5, 11.5, 11.5})
	assert.InDelta(t, 14.5, p[0], 0.3)
	assert.InDelta(t, 9.5, p[1], 0.3)
	assert.InDelta(t, 12.5, p[2], 0.3)
}

func TestDemonsStructureInterpolation(t *testing.T) {
	img := labels(8)
	cfg := DefaultDemonsConfig()
	cfg.Structure = true
	cfg.Interpolation = interpolation.Linear
	_, err := Demons(context.Background(), Pair{Fixed: img, Moving: img}, cfg, nil)
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestDemonsStage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping registration run in short mode")
	}
	fixed := blob(20, 1, [3]float64{9.5, 9.5, 9.5}, 5)
	moving := blob(20, 1, [3]float64{10.5, 9.5, 9.5}, 5)
	s, err := DemonsSchedule([]float64{2, 1}, []int{10, 20}, 1)
	require.NoError(t, err)
	cfg := DefaultDemonsConfig()
	cfg.Schedule = s

	var levels []int
	res, err := Demons(context.Background(), Pair{Fixed: fixed, Moving: moving}, cfg, func(p Progress) {
		if len(levels) == 0 || levels[len(levels)-1] != p.Level {
			levels = append(levels, p.Level)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, levels)
	assert.True(t, res.Field.Grid().Equal(fixed.Grid(), 1e-9))
	assert.Equal(t, 3, res.Field.Components())
	assert.Equal(t, volume.Int16, res.Image.PixelType())
	require.Len(t, res.Levels, 2)
	var before float64
	for i, v := range fixed.Samples() {
		d := v - moving.Samples()[i]
		before += d * d
	}
	before /= float64(fixed.NumVoxels())
	assert.Less(t, res.Metric, before)

	// structure mode binarises the propagated label
	mask := blob(20, 1, [3]float64{10.5, 9.5, 9.5}, 5).Map(volume.Uint8, func(v float64) float64 {
		if v > 100 {
			return 1
		}
		return 0
	})
	cfg.Structure = true
	cfg.InitialField = res.Field
	cfg.Schedule = mustSchedule([]float64{1}, []float64{0}, []int{1})
	sres, err := Demons(context.Background(), Pair{Fixed: fixed, Moving: mask}, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, volume.Uint8, sres.Image.PixelType())
	assert.True(t, sres.Image.IsBinary())
}

// anisotropicBlob is a soft sphere on a 20x20x8 grid with 2.5 mm slices.
func anisotropicBlob(c [3]float64) *volume.Image {
	g := volume.NewGrid3D([3]int{20, 20, 8}, [3]float64{1, 1, 2.5}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		p := g.VoxelPoint(i)
		d := math.Sqrt((p[0]-c[0])*(p[0]-c[0]) + (p[1]-c[1])*(p[1]-c[1]) + (p[2]-c[2])*(p[2]-c[2]))
		data[i] = 200 / (1 + math.Exp((d-5)/1.5))
	}
	return volume.MustFromData(g, volume.Int16, 1, data)
}

func TestDemonsIsotropicKeepsFixedGrid(t *testing.T) {
	fixed := anisotropicBlob([3]float64{9.5, 9.5, 8.75})
	moving := anisotropicBlob([3]float64{10.5, 9.5, 8.75})
	s, err := DemonsSchedule([]float64{4, 2}, []int{5, 5}, 1)
	require.NoError(t, err)
	cfg := DefaultDemonsConfig()
	cfg.Schedule = s
	cfg.Isotropic = true

	res, err := Demons(context.Background(), Pair{Fixed: fixed, Moving: moving}, cfg, nil)
	require.NoError(t, err)
	require.Len(t, res.Levels, 2)
	// shrink factors are voxel sizes in mm: 20 mm / 4 mm and 20 mm / 2 mm
	assert.Equal(t, [3]int{5, 5, 5}, res.Levels[0].Size)
	assert.Equal(t, [3]int{10, 10, 10}, res.Levels[1].Size)

	assert.True(t, res.Image.Grid().Equal(fixed.Grid(), 1e-9))
	assert.True(t, res.Field.Grid().Equal(fixed.Grid(), 1e-9))
	assert.Equal(t, volume.Int16, res.Image.PixelType())

	// the transform carries the finest level field; res.Field samples it
	tf := res.Transform.Field()
	assert.Equal(t, [3]int{10, 10, 10}, tf.Size())
	g := fixed.Grid()
	for _, v := range [][3]int{{5, 5, 2}, {9, 10, 3}, {14, 8, 5}} {
		p := g.IndexToPhysical([3]float64{float64(v[0]), float64(v[1]), float64(v[2])})
		q := res.Transform.TransformPoint(p)
		for a := 0; a < 3; a++ {
			assert.InDelta(t, q[a]-p[a], res.Field.At(v[0], v[1], v[2], a), 1e-9)
		}
	}
}

func TestBSplineIsotropicKeepsFixedGrid(t *testing.T) {
	img := anisotropicBlob([3]float64{9.5, 9.5, 8.75})
	cfg := DefaultBSplineConfig()
	cfg.Schedule = mustSchedule([]float64{2}, []float64{0}, []int{2})
	cfg.GridSpacing = 8
	cfg.GridScaleFactors = []int{1}
	cfg.SamplingRates = []float64{0.5}
	cfg.Isotropic = true
	cfg.Workers = 2

	res, err := BSpline(context.Background(), Pair{Fixed: img, Moving: img}, cfg, nil)
	require.NoError(t, err)
	require.Len(t, res.Levels, 1)
	// the working grid is 20 mm of 1 mm voxels on every axis, shrunk by 2
	assert.Equal(t, [3]int{10, 10, 10}, res.Levels[0].Size)
	assert.True(t, res.Image.Grid().Equal(img.Grid(), 1e-9))
	assert.Equal(t, img.Size(), res.Image.Size())
	assert.Equal(t, volume.Int16, res.Image.PixelType())
}

func TestBSplineMeshRefinement(t *testing.T) {
	img := blob(16, 1, [3]float64{7.5, 7.5, 7.5}, 4)
	cfg := DefaultBSplineConfig()
	cfg.Schedule = mustSchedule([]float64{2, 1}, []float64{0, 0}, []int{3, 3})
	cfg.GridSpacing = 8
	cfg.GridScaleFactors = []int{1, 2}
	cfg.SamplingRates = []float64{0.5, 0.25}
	cfg.Workers = 2

	res, err := BSpline(context.Background(), Pair{Fixed: img, Moving: img}, cfg, nil)
	require.NoError(t, err)
	require.Len(t, res.Levels, 2)
	// 16 mm / 8 mm = 2 intervals, then 4; 3 extra control points per axis
	assert.Equal(t, 3*5*5*5, res.Levels[0].Parameters)
	assert.Equal(t, 3*7*7*7, res.Levels[1].Parameters)
	assert.Equal(t, [3]int{4, 4, 4}, res.Transform.Mesh())
	assert.Equal(t, volume.Int16, res.Image.PixelType())
	assert.InDeltaSlice(t, img.Samples(), res.Image.Samples(), 1)
}

func TestBSplineConfigErrors(t *testing.T) {
	img := blob(8, 1, [3]float64{3.5, 3.5, 3.5}, 2)
	cfg := DefaultBSplineConfig()
	cfg.SamplingRates = []float64{0.1, 0.2}
	_, err := BSpline(context.Background(), Pair{Fixed: img, Moving: img}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultBSplineConfig()
	cfg.GridScaleFactors = []int{1, 2}
	_, err = BSpline(context.Background(), Pair{Fixed: img, Moving: img}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = DefaultBSplineConfig()
	cfg.Metric = nil
	_, err = BSpline(context.Background(), Pair{Fixed: img, Moving: img}, cfg, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}
