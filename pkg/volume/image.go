package volume

import (
	"errors"
	"fmt"
	"math"
)

// ErrGeometryMismatch is returned when two images (or an image and a
// transform) do not share a dimensionality.
var ErrGeometryMismatch = errors.New("volume: geometry mismatch")

// Image is an immutable N-dimensional grid of scalar or vector samples.
//
// Samples are stored as float64 in x-fastest order with the components of a
// voxel interleaved: sample c of voxel (x, y, z) lives at
// ((z*H + y)*W + x)*components + c.
type Image struct {
	grid       Grid
	pixel      PixelType
	components int
	data       []float64
}

// New allocates a zero-filled image.
func New(grid Grid, pixel PixelType, components int) (*Image, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if components < 1 {
		return nil, fmt.Errorf("volume: components must be at least 1, got %d", components)
	}
	return &Image{
		grid:       grid,
		pixel:      pixel,
		components: components,
		data:       make([]float64, grid.NumVoxels()*components),
	}, nil
}

// FromData wraps data without copying. The caller must not modify data
// afterwards. Samples of an integer type are rounded and clamped in place, so
// the image only ever holds values pixel can represent.
func FromData(grid Grid, pixel PixelType, components int, data []float64) (*Image, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if components < 1 {
		return nil, fmt.Errorf("volume: components must be at least 1, got %d", components)
	}
	if want := grid.NumVoxels() * components; len(data) != want {
		return nil, fmt.Errorf("volume: data length %d does not match grid (%d samples)", len(data), want)
	}
	if !pixel.IsFloat() {
		for i, v := range data {
			data[i] = pixel.Convert(v)
		}
	}
	return &Image{grid: grid, pixel: pixel, components: components, data: data}, nil
}

// MustFromData is FromData for callers that built the buffer themselves.
func MustFromData(grid Grid, pixel PixelType, components int, data []float64) *Image {
	img, err := FromData(grid, pixel, components, data)
	if err != nil {
		panic(err)
	}
	return img
}

// Grid returns the image geometry.
func (im *Image) Grid() Grid { return im.grid }

// Dim returns 2 or 3.
func (im *Image) Dim() int { return im.grid.Dim }

// Size returns the voxel counts per axis.
func (im *Image) Size() [3]int { return im.grid.Size }

// Spacing returns the voxel spacing in mm.
func (im *Image) Spacing() [3]float64 { return im.grid.Spacing }

// PixelType returns the sample storage type.
func (im *Image) PixelType() PixelType { return im.pixel }

// Components returns the number of values per voxel.
func (im *Image) Components() int { return im.components }

// NumVoxels returns the number of voxels.
func (im *Image) NumVoxels() int { return im.grid.NumVoxels() }

// Samples exposes the backing buffer. It must be treated as read-only.
func (im *Image) Samples() []float64 { return im.data }

// At returns component c of voxel (x, y, z).
func (im *Image) At(x, y, z, c int) float64 {
	return im.data[im.grid.Offset(x, y, z)*im.components+c]
}

// Value returns the first component of the voxel at flat index idx.
func (im *Image) Value(idx int) float64 {
	return im.data[idx*im.components]
}

// WithGrid returns an image sharing the samples but carrying another
// geometry of the same size.
func (im *Image) WithGrid(g Grid) (*Image, error) {
	if g.Size != im.grid.Size || g.Dim != im.grid.Dim {
		return nil, fmt.Errorf("%w: cannot copy geometry of size %v onto %v", ErrGeometryMismatch, g.Size, im.grid.Size)
	}
	return FromData(g, im.pixel, im.components, im.data)
}

// AsFloat returns the image with Float32 sample type, the working precision of
// all registration stages. Integer and float32 inputs are represented exactly.
func (im *Image) AsFloat() *Image {
	return im.CastTo(Float32)
}

// CastTo converts every sample into the representable set of pt.
func (im *Image) CastTo(pt PixelType) *Image {
	if pt == im.pixel && (pt == Float64 || pt == Float32) {
		return im
	}
	out := make([]float64, len(im.data))
	for i, v := range im.data {
		out[i] = pt.Convert(v)
	}
	return &Image{grid: im.grid, pixel: pt, components: im.components, data: out}
}

// Map applies fn to every sample and returns a new image with pixel type pt.
// Results are converted like FromData does.
func (im *Image) Map(pt PixelType, fn func(float64) float64) *Image {
	out := make([]float64, len(im.data))
	for i, v := range im.data {
		out[i] = fn(v)
		if !pt.IsFloat() {
			out[i] = pt.Convert(out[i])
		}
	}
	return &Image{grid: im.grid, pixel: pt, components: im.components, data: out}
}

// Component extracts one component of a vector image as a scalar image.
func (im *Image) Component(c int) (*Image, error) {
	if c < 0 || c >= im.components {
		return nil, fmt.Errorf("volume: component %d out of range [0, %d)", c, im.components)
	}
	if im.components == 1 {
		return im, nil
	}
	n := im.grid.NumVoxels()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = im.data[i*im.components+c]
	}
	return &Image{grid: im.grid, pixel: im.pixel, components: 1, data: out}, nil
}

// MinMax returns the smallest and largest sample.
func (im *Image) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range im.data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// IsBinary reports whether a scalar image holds only 0 and at most one other
// value.
func (im *Image) IsBinary() bool {
	if im.components != 1 {
		return false
	}
	fg := math.NaN()
	for _, v := range im.data {
		if v == 0 {
			continue
		}
		if math.IsNaN(fg) {
			fg = v
			continue
		}
		if v != fg {
			return false
		}
	}
	return true
}

// SameDimension returns ErrGeometryMismatch when the images differ in
// dimensionality.
func SameDimension(a, b *Image) error {
	if a.Dim() != b.Dim() {
		return fmt.Errorf("%w: %d-D and %d-D images", ErrGeometryMismatch, a.Dim(), b.Dim())
	}
	return nil
}
