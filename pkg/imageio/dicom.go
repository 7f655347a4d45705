package imageio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"volreg/pkg/volume"
)

// ErrNoSeries is returned when a directory holds no readable DICOM image.
var ErrNoSeries = errors.New("imageio: no DICOM image series found")

// dicomSlice is one decoded image of a series.
type dicomSlice struct {
	series      string
	instance    int
	position    [3]float64
	orientation [6]float64
	spacing     [2]float64 // column spacing, row spacing
	thickness   float64
	rows, cols  int
	pixels      []float64 // row-major, rescaled
	integer     bool
}

// ReadDICOMSeries loads the image series stored in dir. When the directory
// holds several series the one with the most slices is used.
func ReadDICOMSeries(dir string) (*volume.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list DICOM directory: %w", err)
	}
	bySeries := map[string][]dicomSlice{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		s, err := readDICOMSlice(filepath.Join(dir, e.Name()))
		if err != nil {
			// not an image file; DICOMDIR and friends land here
			continue
		}
		bySeries[s.series] = append(bySeries[s.series], s)
	}
	var best []dicomSlice
	for _, slices := range bySeries {
		if len(slices) > len(best) {
			best = slices
		}
	}
	if len(best) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSeries, dir)
	}
	return assembleSeries(best)
}

func readDICOMSlice(path string) (dicomSlice, error) {
	var s dicomSlice
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return s, err
	}
	strs := func(t tag.Tag) []string {
		el, err := ds.FindElementByTag(t)
		if err != nil {
			return nil
		}
		v, ok := el.Value.GetValue().([]string)
		if !ok {
			return nil
		}
		return v
	}
	ints := func(t tag.Tag) []int {
		el, err := ds.FindElementByTag(t)
		if err != nil {
			return nil
		}
		v, ok := el.Value.GetValue().([]int)
		if !ok {
			return nil
		}
		return v
	}
	floats := func(t tag.Tag) []float64 {
		var out []float64
		for _, str := range strs(t) {
			for _, part := range strings.Split(str, `\`) {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err == nil {
					out = append(out, f)
				}
			}
		}
		return out
	}

	if r := ints(tag.Rows); len(r) > 0 {
		s.rows = r[0]
	}
	if c := ints(tag.Columns); len(c) > 0 {
		s.cols = c[0]
	}
	if s.rows == 0 || s.cols == 0 {
		return s, fmt.Errorf("imageio: %s has no image matrix", path)
	}
	if v := strs(tag.SeriesInstanceUID); len(v) > 0 {
		s.series = v[0]
	}
	if v := strs(tag.InstanceNumber); len(v) > 0 {
		s.instance, _ = strconv.Atoi(strings.TrimSpace(v[0]))
	}
	if v := floats(tag.ImagePositionPatient); len(v) == 3 {
		copy(s.position[:], v)
	}
	s.orientation = [6]float64{1, 0, 0, 0, 1, 0}
	if v := floats(tag.ImageOrientationPatient); len(v) == 6 {
		copy(s.orientation[:], v)
	}
	s.spacing = [2]float64{1, 1}
	if v := floats(tag.PixelSpacing); len(v) == 2 {
		// PixelSpacing is row spacing first
		s.spacing = [2]float64{v[1], v[0]}
	}
	if v := floats(tag.SliceThickness); len(v) > 0 {
		s.thickness = v[0]
	}
	slope, intercept := 1.0, 0.0
	if v := floats(tag.RescaleSlope); len(v) > 0 && v[0] != 0 {
		slope = v[0]
	}
	if v := floats(tag.RescaleIntercept); len(v) > 0 {
		intercept = v[0]
	}
	s.integer = slope == math.Trunc(slope) && intercept == math.Trunc(intercept)

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return s, err
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return s, fmt.Errorf("imageio: %s has no pixel data", path)
	}
	fr := info.Frames[0]
	if fr.Encapsulated {
		return s, fmt.Errorf("%w: compressed transfer syntax in %s", ErrUnsupportedFormat, path)
	}
	nd := fr.NativeData
	if len(nd.Data) != s.rows*s.cols {
		return s, fmt.Errorf("imageio: %s holds %d pixels, want %d", path, len(nd.Data), s.rows*s.cols)
	}
	s.pixels = make([]float64, len(nd.Data))
	for i, px := range nd.Data {
		if len(px) == 0 {
			continue
		}
		s.pixels[i] = float64(px[0])*slope + intercept
	}
	return s, nil
}

// assembleSeries stacks slices along the normal of their orientation.
func assembleSeries(slices []dicomSlice) (*volume.Image, error) {
	first := slices[0]
	for _, s := range slices[1:] {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("imageio: DICOM series mixes %dx%d and %dx%d slices", first.cols, first.rows, s.cols, s.rows)
		}
	}
	o := first.orientation
	rowDir := [3]float64{o[0], o[1], o[2]}
	colDir := [3]float64{o[3], o[4], o[5]}
	normal := [3]float64{
		rowDir[1]*colDir[2] - rowDir[2]*colDir[1],
		rowDir[2]*colDir[0] - rowDir[0]*colDir[2],
		rowDir[0]*colDir[1] - rowDir[1]*colDir[0],
	}
	along := func(s dicomSlice) float64 {
		return s.position[0]*normal[0] + s.position[1]*normal[1] + s.position[2]*normal[2]
	}
	sorted := append([]dicomSlice(nil), slices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := along(sorted[i]), along(sorted[j])
		if di == dj {
			return sorted[i].instance < sorted[j].instance
		}
		return di < dj
	})

	dz := first.thickness
	if len(sorted) > 1 {
		dz = (along(sorted[len(sorted)-1]) - along(sorted[0])) / float64(len(sorted)-1)
	}
	if !(dz > 0) {
		dz = 1
	}

	g := volume.Grid{
		Dim:     3,
		Size:    [3]int{first.cols, first.rows, len(sorted)},
		Spacing: [3]float64{first.spacing[0], first.spacing[1], dz},
		Origin:  sorted[0].position,
		Direction: [9]float64{
			rowDir[0], colDir[0], normal[0],
			rowDir[1], colDir[1], normal[1],
			rowDir[2], colDir[2], normal[2],
		},
	}
	pt := volume.Int16
	plane := first.rows * first.cols
	data := make([]float64, 0, plane*len(sorted))
	for _, s := range sorted {
		if !s.integer {
			pt = volume.Float32
		}
		data = append(data, s.pixels...)
	}
	if pt == volume.Int16 {
		lo, hi := pt.Range()
		for _, v := range data {
			if v < lo || v > hi {
				pt = volume.Int32
				break
			}
		}
	}
	return volume.FromData(g, pt, 1, data)
}
