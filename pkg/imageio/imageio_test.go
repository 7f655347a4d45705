package imageio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// rotatedGrid is a 3-D grid turned 30 degrees about z.
func rotatedGrid() volume.Grid {
	c, s := math.Cos(math.Pi/6), math.Sin(math.Pi/6)
	return volume.Grid{
		Dim:       3,
		Size:      [3]int{5, 4, 3},
		Spacing:   [3]float64{0.5, 1.25, 3},
		Origin:    [3]float64{-12.5, 40, 7},
		Direction: [9]float64{c, -s, 0, s, c, 0, 0, 0, 1},
	}
}

func ramp(g volume.Grid, pt volume.PixelType, comps int) *volume.Image {
	data := make([]float64, g.NumVoxels()*comps)
	for i := range data {
		data[i] = float64(i%97) - 40
	}
	if pt == volume.Uint8 || pt == volume.Uint16 {
		for i := range data {
			data[i] = math.Abs(data[i])
		}
	}
	return volume.MustFromData(g, pt, comps, data)
}

func assertSameImage(t *testing.T, want, got *volume.Image) {
	t.Helper()
	assert.True(t, want.Grid().Equal(got.Grid(), 1e-5), "grid %+v != %+v", want.Grid(), got.Grid())
	assert.Equal(t, want.PixelType(), got.PixelType())
	assert.Equal(t, want.Components(), got.Components())
	assert.Equal(t, want.Samples(), got.Samples())
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatMetaImage, DetectFormat("a/b.MHA"))
	assert.Equal(t, FormatMetaImage, DetectFormat("b.mhd"))
	assert.Equal(t, FormatNIfTI, DetectFormat("heart.nii.gz"))
	assert.Equal(t, FormatNIfTI, DetectFormat("ct.nii"))
	assert.Equal(t, FormatUnknown, DetectFormat("ct.png"))

	_, err := Read("ct.png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, Write(filepath.Join(t.TempDir(), "x.png"), ramp(rotatedGrid(), volume.Int16, 1)), ErrUnsupportedFormat)
}

func TestMetaImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name     string
		file     string
		img      *volume.Image
		compress bool
	}{
		{"inline int16", "ct.mha", ramp(rotatedGrid(), volume.Int16, 1), false},
		{"inline compressed float32", "ct_z.mha", ramp(rotatedGrid(), volume.Float32, 1), true},
		{"detached uint8", "mask.mhd", ramp(rotatedGrid(), volume.Uint8, 1), false},
		{"detached compressed field", "field.mhd", ramp(rotatedGrid(), volume.Float64, 3), true},
		{"2-D", "slice.mha", ramp(volume.NewGrid2D(6, 4, [2]float64{0.7, 0.7}, [2]float64{1, 2}), volume.Uint16, 1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			require.NoError(t, WriteMetaImage(path, tc.img, tc.compress))
			got, err := Read(path)
			require.NoError(t, err)
			assertSameImage(t, tc.img, got)
		})
	}

	_, err := os.Stat(filepath.Join(dir, "field.zraw"))
	assert.NoError(t, err, "compressed detached data goes to .zraw")
}

func TestMetaImageHeaderErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	_, err := ReadMetaImage(write("nodata.mha", "NDims = 3\nDimSize = 2 2 2\n"))
	assert.Error(t, err)

	_, err = ReadMetaImage(write("type.mha", "NDims = 3\nDimSize = 2 2 2\nElementType = MET_LONG_LONG\nElementDataFile = LOCAL\n"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadMetaImage(write("short.mha", "NDims = 3\nDimSize = 2 2 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\nabc"))
	assert.Error(t, err, "8 samples declared, 3 bytes present")

	img, err := ReadMetaImage(write("min.mha", "NDims = 2\nDimSize = 2 1\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n\x07\x09"))
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 9}, img.Samples())
	assert.Equal(t, [3]float64{1, 1, 1}, img.Spacing())
}

func TestNIfTIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	flipped := rotatedGrid()
	// a left-handed direction exercises the negative qfac path
	flipped.Direction[8] = -1

	cases := []struct {
		name string
		file string
		img  *volume.Image
	}{
		{"int16", "ct.nii", ramp(rotatedGrid(), volume.Int16, 1)},
		{"gzip uint8", "heart.nii.gz", ramp(rotatedGrid(), volume.Uint8, 1)},
		{"left handed", "lh.nii", ramp(flipped, volume.Float32, 1)},
		{"vector field", "field.nii.gz", ramp(rotatedGrid(), volume.Float64, 3)},
		{"2-D", "slice.nii", ramp(volume.NewGrid2D(6, 4, [2]float64{0.7, 0.9}, [2]float64{1, 2}), volume.Int32, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			require.NoError(t, Write(path, tc.img))
			got, err := Read(path)
			require.NoError(t, err)
			assertSameImage(t, tc.img, got)
		})
	}
}

func TestNIfTIQformFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.nii")
	img := ramp(rotatedGrid(), volume.Int16, 1)
	require.NoError(t, WriteNIfTI(path, img))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// sform_code lives at byte 254
	raw[254], raw[255] = 0, 0
	require.NoError(t, os.WriteFile(path, raw, 0644))

	got, err := ReadNIfTI(path)
	require.NoError(t, err)
	assert.True(t, img.Grid().Equal(got.Grid(), 1e-5))
}

func TestNIfTIRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nii")
	require.NoError(t, os.WriteFile(path, make([]byte, 400), 0644))
	_, err := ReadNIfTI(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestQuaternionRoundTrip(t *testing.T) {
	for _, r := range [][9]float64{
		volume.IdentityDirection,
		{0, -1, 0, 1, 0, 0, 0, 0, 1},
		{1, 0, 0, 0, -1, 0, 0, 0, -1},
		{-1, 0, 0, 0, -1, 0, 0, 0, 1},
	} {
		b, c, d := matrixToQuatern(r)
		got := quaternToMatrix(b, c, d)
		for i := range r {
			assert.InDelta(t, r[i], got[i], 1e-9, "matrix %v", r)
		}
	}
}

func TestAssembleSeries(t *testing.T) {
	mk := func(z float64, instance int, v float64) dicomSlice {
		return dicomSlice{
			series:      "1.2.3",
			instance:    instance,
			position:    [3]float64{-100, -120, z},
			orientation: [6]float64{1, 0, 0, 0, 1, 0},
			spacing:     [2]float64{0.8, 0.9},
			thickness:   5,
			rows:        2,
			cols:        3,
			pixels:      []float64{v, v, v, v, v, v},
			integer:     true,
		}
	}
	// files arrive out of order
	img, err := assembleSeries([]dicomSlice{mk(5, 3, 30), mk(-5, 1, 10), mk(0, 2, 20)})
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 3}, img.Size())
	assert.Equal(t, [3]float64{0.8, 0.9, 5}, img.Spacing())
	assert.Equal(t, [3]float64{-100, -120, -5}, img.Grid().Origin)
	assert.Equal(t, volume.Int16, img.PixelType())
	assert.Equal(t, 10.0, img.At(0, 0, 0, 0))
	assert.Equal(t, 30.0, img.At(2, 1, 2, 0))

	single, err := assembleSeries([]dicomSlice{mk(0, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 5.0, single.Spacing()[2], "slice thickness when alone")

	odd := mk(10, 4, 0)
	odd.rows = 4
	_, err = assembleSeries([]dicomSlice{mk(0, 1, 1), odd})
	assert.Error(t, err)

	frac := mk(0, 1, 0.5)
	frac.integer = false
	mixed, err := assembleSeries([]dicomSlice{frac})
	require.NoError(t, err)
	assert.Equal(t, volume.Float32, mixed.PixelType())
}

func TestReadDICOMSeriesEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not dicom"), 0644))
	_, err := ReadDICOMSeries(dir)
	assert.ErrorIs(t, err, ErrNoSeries)
}

func TestTransformFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g := volume.NewGrid3D([3]int{4, 4, 4}, [3]float64{2, 2, 2}, [3]float64{})
	data := make([]float64, g.NumVoxels()*3)
	for i := range data {
		data[i] = float64(i%5) * 0.25
	}
	field, err := transform.NewDisplacementField(volume.MustFromData(g, volume.Float64, 3, data))
	require.NoError(t, err)
	lin, err := transform.NewLinearWithParameters(transform.Translation, 3, [3]float64{}, []float64{1, -2, 3})
	require.NoError(t, err)
	chain, err := transform.NewComposite(lin, field)
	require.NoError(t, err)

	path := filepath.Join(dir, "case.yaml")
	require.NoError(t, WriteTransform(path, chain))
	_, err = os.Stat(filepath.Join(dir, "case_field0.mha"))
	require.NoError(t, err)

	got, err := ReadTransform(path)
	require.NoError(t, err)
	for _, p := range [][3]float64{{0, 0, 0}, {2, 4, 6}, {3.3, 1.1, 5.9}} {
		want := chain.TransformPoint(p)
		have := got.TransformPoint(p)
		for a := 0; a < 3; a++ {
			assert.InDelta(t, want[a], have[a], 1e-9)
		}
	}
}
