// Package visualization renders axis-aligned slices of registration volumes
// for quality control.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/stat"

	"volreg/pkg/volume"
)

// Viewer extracts 16-bit grayscale slices from a scalar volume through a
// display window.
type Viewer struct {
	// img holds the volume being viewed
	img *volume.Image

	// window centre and width in image intensity units
	center float64
	width  float64
}

// NewViewer creates a viewer over img with the display window centred at
// center and width wide. A non-positive width selects the full intensity
// range of the image.
func NewViewer(img *volume.Image, center, width float64) (*Viewer, error) {
	if img == nil {
		return nil, fmt.Errorf("visualization: nil image")
	}
	if img.Components() != 1 {
		return nil, fmt.Errorf("visualization: %d-component images cannot be viewed", img.Components())
	}
	if !(width > 0) {
		lo, hi := img.MinMax()
		center, width = (lo+hi)/2, hi-lo
		if width == 0 {
			width = 1
		}
	}
	return &Viewer{img: img, center: center, width: width}, nil
}

// Window returns the display window.
func (v *Viewer) Window() (center, width float64) { return v.center, v.width }

// gray maps an intensity through the window onto 0..65535.
func (v *Viewer) gray(value float64) uint16 {
	t := (value - (v.center - v.width/2)) / v.width
	return uint16(math.Max(0, math.Min(65535, math.Round(t*65535))))
}

func axisIndex(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return 0, nil
	case "y":
		return 1, nil
	case "z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// sliceShape returns the in-plane axes of a slice normal to axis.
func sliceShape(axis int) (u, w int) {
	switch axis {
	case 0:
		return 1, 2 // YZ plane
	case 1:
		return 0, 2 // XZ plane
	}
	return 0, 1 // XY plane
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	size := v.img.Size()
	if a == 2 && v.img.Dim() == 2 && position != 0 {
		return nil, fmt.Errorf("position %d exceeds depth 1 of a 2-D image", position)
	}
	if position < 0 || position >= size[a] {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, size[a], axis)
	}
	u, w := sliceShape(a)

	img := image.NewGray16(image.Rect(0, 0, size[u], size[w]))
	var idx [3]int
	idx[a] = position
	for j := 0; j < size[w]; j++ {
		for i := 0; i < size[u]; i++ {
			idx[u], idx[w] = i, j
			img.SetGray16(i, j, color.Gray16{Y: v.gray(v.img.At(idx[0], idx[1], idx[2], 0))})
		}
	}
	return img, nil
}

// MiddleSlice extracts the central slice along axis.
func (v *Viewer) MiddleSlice(axis string) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	return v.ExtractSlice(axis, v.img.Size()[a]/2)
}

// SaveSlice saves an extracted slice. The encoder follows the file
// extension: .png, .jpg/.jpeg or .tif/.tiff (16-bit).
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		err = png.Encode(file, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported slice format %q", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as slice_<axis>_<nnn>.<format>
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for pos := 0; pos < v.img.Size()[a]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", strings.ToLower(axis), pos, format))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// Checkerboard interleaves square tiles of two same-sized slices, a common
// way to judge registration quality by eye.
func Checkerboard(a, b image.Image, tile int) (image.Image, error) {
	if a.Bounds() != b.Bounds() {
		return nil, fmt.Errorf("checkerboard slices differ in size: %v vs %v", a.Bounds(), b.Bounds())
	}
	if tile < 1 {
		return nil, fmt.Errorf("tile size must be positive, got %d", tile)
	}
	r := a.Bounds()
	out := image.NewGray16(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			src := a
			if ((x-r.Min.X)/tile+(y-r.Min.Y)/tile)%2 == 1 {
				src = b
			}
			out.Set(x, y, color.Gray16Model.Convert(src.At(x, y)))
		}
	}
	return out, nil
}

// Stats summarises the intensities of an image for QC reports.
type Stats struct {
	Min, Max float64
	Mean     float64
	StdDev   float64
}

// Summarise computes intensity statistics over every sample of img.
func Summarise(img *volume.Image) Stats {
	lo, hi := img.MinMax()
	mean, std := stat.MeanStdDev(img.Samples(), nil)
	return Stats{Min: lo, Max: hi, Mean: mean, StdDev: std}
}
