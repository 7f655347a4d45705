package imaging

import (
	"errors"
	"math"
	"testing"

	"volreg/pkg/interpolation"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// createTestVolume builds a 3-D float volume with a smooth pattern.
func createTestVolume(size [3]int, spacing [3]float64) *volume.Image {
	g := volume.NewGrid3D(size, spacing, [3]float64{-5, 2, 1})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		x, y, z := g.Coords(i)
		data[i] = float64(float32(10*math.Sin(float64(x)/3) + 5*math.Cos(float64(y)/2) + float64(z)))
	}
	return volume.MustFromData(g, volume.Float32, 1, data)
}

func TestResampleIdentityRoundTrip(t *testing.T) {
	img := createTestVolume([3]int{9, 8, 7}, [3]float64{1.5, 1, 2})
	for _, m := range []interpolation.Method{interpolation.NearestNeighbor, interpolation.Linear, interpolation.BSpline} {
		out, err := Resample(img, img.Grid(), nil, m, 0)
		if err != nil {
			t.Fatalf("%v: %v", m, err)
		}
		if out.PixelType() != volume.Float32 {
			t.Errorf("%v: pixel type %v, want float32", m, out.PixelType())
		}
		for i, v := range img.Samples() {
			if math.Abs(out.Samples()[i]-v) > 1e-4 {
				t.Fatalf("%v: voxel %d: got %v want %v", m, i, out.Samples()[i], v)
			}
		}
	}
}

func TestResampleTranslationShiftsVoxels(t *testing.T) {
	img := createTestVolume([3]int{6, 5, 4}, [3]float64{2, 2, 2})
	shift, err := transform.NewLinearWithParameters(transform.Translation, 3, [3]float64{}, []float64{2, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Resample(img, img.Grid(), shift, interpolation.Linear, -7)
	if err != nil {
		t.Fatal(err)
	}
	for z := 0; z < 4; z++ {
		for y := 0; y < 5; y++ {
			for x := 0; x < 5; x++ {
				if got, want := out.At(x, y, z, 0), img.At(x+1, y, z, 0); math.Abs(got-want) > 1e-4 {
					t.Fatalf("(%d,%d,%d): got %v want %v", x, y, z, got, want)
				}
			}
			// last column maps outside the buffer
			if got := out.At(5, y, z, 0); got != -7 {
				t.Errorf("fill at (5,%d,%d): got %v", y, z, got)
			}
		}
	}
}

func TestResampleIntegerOutput(t *testing.T) {
	g := volume.NewGrid2D(4, 1, [2]float64{1, 1}, [2]float64{})
	img := volume.MustFromData(g, volume.Uint8, 1, []float64{0, 10, 20, 30})
	shift, _ := transform.NewLinearWithParameters(transform.Translation, 2, [3]float64{}, []float64{0.25, 0})
	out, err := Resample(img, g, shift, interpolation.Linear, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{3, 13, 23, 30}
	for i, v := range want {
		if out.Samples()[i] != v {
			t.Errorf("voxel %d: got %v want %v", i, out.Samples()[i], v)
		}
	}
	if out.PixelType() != volume.Uint8 {
		t.Errorf("pixel type %v, want uint8", out.PixelType())
	}
}

func TestResampleDimensionMismatch(t *testing.T) {
	img := createTestVolume([3]int{4, 4, 4}, [3]float64{1, 1, 1})
	g2 := volume.NewGrid2D(4, 4, [2]float64{1, 1}, [2]float64{})
	if _, err := Resample(img, g2, nil, interpolation.Linear, 0); !errors.Is(err, volume.ErrGeometryMismatch) {
		t.Fatalf("expected geometry mismatch, got %v", err)
	}
}

func TestResampleVectorImage(t *testing.T) {
	g := volume.NewGrid3D([3]int{4, 4, 4}, [3]float64{1, 1, 1}, [3]float64{})
	field, err := transform.ToDisplacementField(mustTranslation(t, 1, 2, 3), g, 1)
	if err != nil {
		t.Fatal(err)
	}
	fine := volume.NewGrid3D([3]int{7, 7, 7}, [3]float64{0.5, 0.5, 0.5}, [3]float64{})
	out, err := Resample(field, fine, nil, interpolation.Linear, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Components() != 3 {
		t.Fatalf("components = %d", out.Components())
	}
	for i := 0; i < fine.NumVoxels(); i++ {
		for c, want := range []float64{1, 2, 3} {
			if got := out.Samples()[i*3+c]; math.Abs(got-want) > 1e-12 {
				t.Fatalf("voxel %d comp %d: got %v", i, c, got)
			}
		}
	}
}

func mustTranslation(t *testing.T, x, y, z float64) *transform.Linear {
	t.Helper()
	l, err := transform.NewLinearWithParameters(transform.Translation, 3, [3]float64{}, []float64{x, y, z})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestDiscreteGaussianKeepsConstant(t *testing.T) {
	g := volume.NewGrid3D([3]int{10, 6, 5}, [3]float64{1, 2, 3}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		data[i] = 42
	}
	img := volume.MustFromData(g, volume.Int16, 1, data)
	out := DiscreteGaussian(img, 4, 32)
	if out.PixelType() != volume.Float32 {
		t.Errorf("pixel type %v, want float32", out.PixelType())
	}
	for i, v := range out.Samples() {
		if math.Abs(v-42) > 1e-4 {
			t.Fatalf("voxel %d: %v", i, v)
		}
	}
}

func TestGaussianImpulseResponse(t *testing.T) {
	g := volume.NewGrid2D(21, 21, [2]float64{1, 1}, [2]float64{})
	data := make([]float64, g.NumVoxels())
	centre := g.Offset(10, 10, 0)
	data[centre] = 1
	out := GaussianVoxels(volume.MustFromData(g, volume.Float64, 1, data), 1.5, 2)

	var sum float64
	for _, v := range out.Samples() {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("mass not preserved: %v", sum)
	}
	if math.Abs(out.At(9, 10, 0, 0)-out.At(11, 10, 0, 0)) > 1e-12 {
		t.Errorf("response is not symmetric")
	}
	if out.Samples()[centre] >= 1 || out.Samples()[centre] <= out.At(12, 10, 0, 0) {
		t.Errorf("peak not at the impulse: %v", out.Samples()[centre])
	}
}

func TestDiscreteGaussianZeroVarianceIsCopy(t *testing.T) {
	img := createTestVolume([3]int{5, 5, 5}, [3]float64{1, 1, 1})
	out := DiscreteGaussian(img, 0, 32)
	for i, v := range img.Samples() {
		if out.Samples()[i] != v {
			t.Fatalf("voxel %d changed", i)
		}
	}
}

func halfPlaneMask() *volume.Image {
	g := volume.NewGrid2D(11, 7, [2]float64{1, 1}, [2]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		if x, _, _ := g.Coords(i); x < 5 {
			data[i] = 1
		}
	}
	return volume.MustFromData(g, volume.Uint8, 1, data)
}

func TestSignedDistance(t *testing.T) {
	mask := halfPlaneMask()
	d, err := SignedDistance(mask, false, 2)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		x    int
		want float64
	}{{4, 0}, {0, 4}, {3, 1}, {5, -1}, {8, -4}}
	for _, tc := range cases {
		if got := d.At(tc.x, 3, 0, 0); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("x=%d: got %v want %v", tc.x, got, tc.want)
		}
	}

	sq, err := SignedDistance(mask, true, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := sq.At(8, 3, 0, 0); math.Abs(got+16) > 1e-12 {
		t.Errorf("squared distance at x=8: got %v want -16", got)
	}
}

func TestSignedDistanceWorkerCountsAgree(t *testing.T) {
	mask := halfPlaneMask()
	want, err := SignedDistance(mask, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, workers := range []int{0, 3, 64} {
		got, err := SignedDistance(mask, false, workers)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range got.Samples() {
			if v != want.Samples()[i] {
				t.Fatalf("workers=%d: voxel %d = %v, want %v", workers, i, v, want.Samples()[i])
			}
		}
	}
}

func TestSignedDistanceNoBoundary(t *testing.T) {
	g := volume.NewGrid2D(4, 4, [2]float64{1, 1}, [2]float64{})
	empty := volume.MustFromData(g, volume.Uint8, 1, make([]float64, 16))
	if _, err := SignedDistance(empty, false, 0); !errors.Is(err, ErrNoBoundary) {
		t.Errorf("empty mask: got %v", err)
	}
	full := empty.Map(volume.Uint8, func(float64) float64 { return 1 })
	if _, err := SignedDistance(full, false, 0); !errors.Is(err, ErrNoBoundary) {
		t.Errorf("full mask: got %v", err)
	}
}

func TestThresholds(t *testing.T) {
	g := volume.NewGrid2D(5, 1, [2]float64{1, 1}, [2]float64{})
	img := volume.MustFromData(g, volume.Float32, 1, []float64{-1, 0, 0.5, 1000, 2000})

	bin := BinaryThreshold(img, 1e-5, 100)
	for i, want := range []float64{0, 0, 1, 0, 0} {
		if bin.Samples()[i] != want {
			t.Errorf("binary voxel %d: got %v want %v", i, bin.Samples()[i], want)
		}
	}
	if bin.PixelType() != volume.Uint8 {
		t.Errorf("binary pixel type %v", bin.PixelType())
	}

	th := Threshold(img, 0, 1000, 0)
	for i, want := range []float64{0, 0, 0.5, 1000, 0} {
		if th.Samples()[i] != want {
			t.Errorf("threshold voxel %d: got %v want %v", i, th.Samples()[i], want)
		}
	}
}

func TestGradientOfRamp(t *testing.T) {
	g := volume.NewGrid3D([3]int{6, 3, 3}, [3]float64{0.5, 1, 1}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		x, _, _ := g.Coords(i)
		data[i] = 2 * float64(x)
	}
	grad, err := Gradient(volume.MustFromData(g, volume.Float32, 1, data), 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < g.NumVoxels(); i++ {
		gx, gy, gz := grad.Samples()[3*i], grad.Samples()[3*i+1], grad.Samples()[3*i+2]
		if math.Abs(gx-4) > 1e-12 || gy != 0 || gz != 0 {
			t.Fatalf("voxel %d: gradient (%v, %v, %v)", i, gx, gy, gz)
		}
	}
}
