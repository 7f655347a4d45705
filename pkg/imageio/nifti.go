package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"volreg/pkg/volume"
)

// niftiHeader is the 348-byte NIfTI-1 header.
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

const (
	niftiHeaderSize  = 348
	niftiDataOffset  = 352
	niftiIntentVec   = 1007
	niftiUnitsMMSecs = 2 | 8
)

var niftiDatatypes = map[int16]volume.PixelType{
	2:   volume.Uint8,
	4:   volume.Int16,
	8:   volume.Int32,
	16:  volume.Float32,
	64:  volume.Float64,
	256: volume.Int8,
	512: volume.Uint16,
	768: volume.Uint32,
}

func niftiDatatype(pt volume.PixelType) int16 {
	for code, p := range niftiDatatypes {
		if p == pt {
			return code
		}
	}
	return 64
}

func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, f}, nil
}

// ReadNIfTI loads a single-file NIfTI-1 image. Geometry is converted from
// the RAS convention of the file to LPS.
func ReadNIfTI(path string) (*volume.Image, error) {
	rc, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NIfTI: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read NIfTI: %w", err)
	}
	if len(raw) < niftiHeaderSize {
		return nil, fmt.Errorf("%w: NIfTI file shorter than its header", ErrUnsupportedFormat)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != niftiHeaderSize {
		order = binary.BigEndian
		if int32(binary.BigEndian.Uint32(raw)) != niftiHeaderSize {
			return nil, fmt.Errorf("%w: not a NIfTI-1 header", ErrUnsupportedFormat)
		}
	}
	var h niftiHeader
	if err := binary.Read(bytes.NewReader(raw[:niftiHeaderSize]), order, &h); err != nil {
		return nil, fmt.Errorf("failed to decode NIfTI header: %w", err)
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("%w: NIfTI magic %q (only single-file images are read)", ErrUnsupportedFormat, h.Magic[:3])
	}

	pt, ok := niftiDatatypes[h.Datatype]
	if !ok {
		return nil, fmt.Errorf("%w: NIfTI datatype %d", ErrUnsupportedFormat, h.Datatype)
	}
	grid, comps, err := niftiGeometry(&h)
	if err != nil {
		return nil, err
	}

	off := int(h.VoxOffset)
	if off < niftiHeaderSize || off > len(raw) {
		return nil, fmt.Errorf("%w: NIfTI vox_offset %d", ErrUnsupportedFormat, off)
	}
	nvox := grid.NumVoxels()
	data, err := decodeSamples(raw[off:], pt, order, nvox*comps)
	if err != nil {
		return nil, err
	}
	if comps > 1 {
		data = interleave(data, nvox, comps)
	}
	if s := float64(h.SclSlope); s != 0 && (s != 1 || h.SclInter != 0) {
		for i, v := range data {
			data[i] = v*s + float64(h.SclInter)
		}
		pt = volume.Float32
	}
	return volume.FromData(grid, pt, comps, data)
}

func niftiGeometry(h *niftiHeader) (volume.Grid, int, error) {
	g := volume.Grid{Size: [3]int{1, 1, 1}, Spacing: [3]float64{1, 1, 1}, Direction: volume.IdentityDirection}
	ndim := int(h.Dim[0])
	comps := 1
	switch {
	case ndim == 2 || ndim == 3:
	case ndim == 5 && h.Dim[4] <= 1:
		comps = int(h.Dim[5])
		ndim = 3
		if h.Dim[3] <= 1 {
			ndim = 2
		}
	case ndim == 4 && h.Dim[4] <= 1:
		ndim = 3
	default:
		return g, 0, fmt.Errorf("%w: NIfTI with %d dimensions", ErrUnsupportedFormat, h.Dim[0])
	}
	g.Dim = ndim
	for i := 0; i < ndim; i++ {
		g.Size[i] = int(h.Dim[i+1])
		if p := math.Abs(float64(h.Pixdim[i+1])); p > 0 {
			g.Spacing[i] = p
		}
	}

	var m [9]float64
	var origin [3]float64
	switch {
	case h.SformCode > 0:
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for col := 0; col < 3; col++ {
			var norm float64
			for row := 0; row < 3; row++ {
				v := float64(rows[row][col])
				norm += v * v
			}
			norm = math.Sqrt(norm)
			if norm == 0 {
				m[col*3+col] = 1
				continue
			}
			if col < ndim {
				g.Spacing[col] = norm
			}
			for row := 0; row < 3; row++ {
				m[row*3+col] = float64(rows[row][col]) / norm
			}
		}
		origin = [3]float64{float64(rows[0][3]), float64(rows[1][3]), float64(rows[2][3])}
	case h.QformCode > 0:
		m = quaternToMatrix(float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD))
		if h.Pixdim[0] < 0 {
			for row := 0; row < 3; row++ {
				m[row*3+2] = -m[row*3+2]
			}
		}
		origin = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	default:
		m = volume.IdentityDirection
	}

	// RAS to LPS
	for col := 0; col < 3; col++ {
		m[col] = -m[col]
		m[3+col] = -m[3+col]
	}
	origin[0], origin[1] = -origin[0], -origin[1]

	if ndim == 2 {
		// keep the in-plane block; the third axis stays unit
		m[2], m[5], m[6], m[7], m[8] = 0, 0, 0, 0, 1
		origin[2] = 0
	}
	g.Direction = m
	g.Origin = origin
	if err := g.Validate(); err != nil {
		return g, 0, err
	}
	return g, comps, nil
}

func quaternToMatrix(b, c, d float64) [9]float64 {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		s := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*s, c*s, d*s
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	return [9]float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	}
}

// matrixToQuatern returns the quaternion of a proper rotation.
func matrixToQuatern(r [9]float64) (b, c, d float64) {
	xd := r[0] + r[4] + r[8] + 1
	if xd > 0.5 {
		a := 0.5 * math.Sqrt(xd)
		return 0.25 * (r[7] - r[5]) / a, 0.25 * (r[2] - r[6]) / a, 0.25 * (r[3] - r[1]) / a
	}
	var a float64
	switch {
	case r[0] >= r[4] && r[0] >= r[8]:
		b = 0.5 * math.Sqrt(1+r[0]-r[4]-r[8])
		c = 0.25 * (r[1] + r[3]) / b
		d = 0.25 * (r[2] + r[6]) / b
		a = 0.25 * (r[7] - r[5]) / b
	case r[4] >= r[8]:
		c = 0.5 * math.Sqrt(1-r[0]+r[4]-r[8])
		b = 0.25 * (r[1] + r[3]) / c
		d = 0.25 * (r[5] + r[7]) / c
		a = 0.25 * (r[2] - r[6]) / c
	default:
		d = 0.5 * math.Sqrt(1-r[0]-r[4]+r[8])
		b = 0.25 * (r[2] + r[6]) / d
		c = 0.25 * (r[5] + r[7]) / d
		a = 0.25 * (r[3] - r[1]) / d
	}
	if a < 0 {
		b, c, d = -b, -c, -d
	}
	return b, c, d
}

// WriteNIfTI stores img as single-file NIfTI-1, gzipped for .nii.gz.
func WriteNIfTI(path string, img *volume.Image) error {
	g := img.Grid()
	comps := img.Components()

	var h niftiHeader
	h.SizeofHdr = niftiHeaderSize
	h.Regular = 'r'
	h.Dim = [8]int16{int16(g.Dim), 1, 1, 1, 1, 1, 1, 1}
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(g.Size[i])
	}
	if comps > 1 {
		h.Dim[0] = 5
		h.Dim[5] = int16(comps)
		h.IntentCode = niftiIntentVec
	}
	h.Datatype = niftiDatatype(img.PixelType())
	h.Bitpix = int16(8 * bytesPerSample(img.PixelType()))
	h.Pixdim = [8]float32{1, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]), 1, 1, 1, 1}
	h.VoxOffset = niftiDataOffset
	h.SclSlope = 1
	h.XYZTUnits = niftiUnitsMMSecs
	copy(h.Magic[:], "n+1\x00")

	// LPS to RAS
	m := g.Direction
	origin := g.Origin
	for col := 0; col < 3; col++ {
		m[col] = -m[col]
		m[3+col] = -m[3+col]
	}
	origin[0], origin[1] = -origin[0], -origin[1]

	h.SformCode = 1
	rows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			rows[row][col] = float32(m[row*3+col] * g.Spacing[col])
		}
		rows[row][3] = float32(origin[row])
	}

	det := m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
	if det < 0 {
		h.Pixdim[0] = -1
		for row := 0; row < 3; row++ {
			m[row*3+2] = -m[row*3+2]
		}
	}
	b, c, d := matrixToQuatern(m)
	h.QformCode = 1
	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = float32(origin[0]), float32(origin[1]), float32(origin[2])

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to encode NIfTI header: %w", err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	data := img.Samples()
	if comps > 1 {
		data = deinterleave(data, g.NumVoxels(), comps)
	}
	buf.Write(encodeSamples(data, img.PixelType(), binary.LittleEndian))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NIfTI: %w", err)
	}
	defer f.Close()
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write NIfTI: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to write NIfTI: %w", err)
		}
	}
	return f.Close()
}

// interleave converts component-major samples to voxel-major.
func interleave(data []float64, nvox, comps int) []float64 {
	out := make([]float64, len(data))
	for c := 0; c < comps; c++ {
		for i := 0; i < nvox; i++ {
			out[i*comps+c] = data[c*nvox+i]
		}
	}
	return out
}

func deinterleave(data []float64, nvox, comps int) []float64 {
	out := make([]float64, len(data))
	for c := 0; c < comps; c++ {
		for i := 0; i < nvox; i++ {
			out[c*nvox+i] = data[i*comps+c]
		}
	}
	return out
}
