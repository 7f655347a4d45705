package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"volreg/pkg/volume"
)

var metaElementTypes = map[string]volume.PixelType{
	"MET_UCHAR":  volume.Uint8,
	"MET_CHAR":   volume.Int8,
	"MET_USHORT": volume.Uint16,
	"MET_SHORT":  volume.Int16,
	"MET_UINT":   volume.Uint32,
	"MET_INT":    volume.Int32,
	"MET_FLOAT":  volume.Float32,
	"MET_DOUBLE": volume.Float64,
}

func metaElementType(pt volume.PixelType) string {
	for name, p := range metaElementTypes {
		if p == pt {
			return name
		}
	}
	return "MET_DOUBLE"
}

// metaHeader holds the key = value pairs of a MetaImage header in order.
type metaHeader struct {
	keys   []string
	values map[string]string
}

func (h *metaHeader) set(key, value string) {
	if h.values == nil {
		h.values = map[string]string{}
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

func (h *metaHeader) floats(key string, n int, def float64) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		out[i] = def
	}
	v, ok := h.values[key]
	if !ok {
		return out, nil
	}
	fields := strings.Fields(v)
	if len(fields) < n {
		return nil, fmt.Errorf("imageio: %s has %d values, need %d", key, len(fields), n)
	}
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("imageio: bad %s: %w", key, err)
		}
		out[i] = f
	}
	return out, nil
}

func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1"
}

// readMetaHeader consumes header lines up to and including ElementDataFile,
// leaving r at the first byte of local pixel data.
func readMetaHeader(r *bufio.Reader) (*metaHeader, error) {
	h := &metaHeader{}
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("imageio: MetaImage header ends before ElementDataFile: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("imageio: malformed MetaImage header line %q", line)
		}
		key = strings.TrimSpace(key)
		h.set(key, strings.TrimSpace(value))
		if key == "ElementDataFile" {
			return h, nil
		}
		if err == io.EOF {
			return nil, fmt.Errorf("imageio: MetaImage header has no ElementDataFile")
		}
	}
}

// ReadMetaImage loads a .mha file or a .mhd header with its data file.
func ReadMetaImage(path string) (*volume.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MetaImage: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readMetaHeader(r)
	if err != nil {
		return nil, err
	}
	grid, pt, comps, err := metaGeometry(h)
	if err != nil {
		return nil, err
	}

	var raw []byte
	dataFile := h.values["ElementDataFile"]
	if strings.EqualFold(dataFile, "LOCAL") {
		raw, err = io.ReadAll(r)
	} else {
		if !filepath.IsAbs(dataFile) {
			dataFile = filepath.Join(filepath.Dir(path), dataFile)
		}
		raw, err = os.ReadFile(dataFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read MetaImage data: %w", err)
	}
	if isTrue(h.values["CompressedData"]) {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed MetaImage data: %w", err)
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to inflate MetaImage data: %w", err)
		}
	}

	var order binary.ByteOrder = binary.LittleEndian
	if isTrue(h.values["BinaryDataByteOrderMSB"]) || isTrue(h.values["ElementByteOrderMSB"]) {
		order = binary.BigEndian
	}
	data, err := decodeSamples(raw, pt, order, grid.NumVoxels()*comps)
	if err != nil {
		return nil, err
	}
	return volume.FromData(grid, pt, comps, data)
}

func metaGeometry(h *metaHeader) (volume.Grid, volume.PixelType, int, error) {
	var g volume.Grid
	ndims, err := strconv.Atoi(h.values["NDims"])
	if err != nil || ndims < 2 || ndims > 3 {
		return g, 0, 0, fmt.Errorf("%w: MetaImage NDims %q", ErrUnsupportedFormat, h.values["NDims"])
	}
	pt, ok := metaElementTypes[strings.ToUpper(h.values["ElementType"])]
	if !ok {
		return g, 0, 0, fmt.Errorf("%w: MetaImage ElementType %q", ErrUnsupportedFormat, h.values["ElementType"])
	}
	comps := 1
	if s, ok := h.values["ElementNumberOfChannels"]; ok {
		if comps, err = strconv.Atoi(s); err != nil || comps < 1 {
			return g, 0, 0, fmt.Errorf("imageio: bad ElementNumberOfChannels %q", s)
		}
	}

	size, err := h.floats("DimSize", ndims, 1)
	if err != nil {
		return g, 0, 0, err
	}
	spacing, err := h.floats("ElementSpacing", ndims, 1)
	if err != nil {
		return g, 0, 0, err
	}
	offsetKey := "Offset"
	if _, ok := h.values[offsetKey]; !ok {
		offsetKey = "Position"
	}
	origin, err := h.floats(offsetKey, ndims, 0)
	if err != nil {
		return g, 0, 0, err
	}
	matKey := "TransformMatrix"
	if _, ok := h.values[matKey]; !ok {
		matKey = "Rotation"
	}
	ident := make([]float64, ndims*ndims)
	for i := 0; i < ndims; i++ {
		ident[i*ndims+i] = 1
	}
	dir := ident
	if _, ok := h.values[matKey]; ok {
		if dir, err = h.floats(matKey, ndims*ndims, 0); err != nil {
			return g, 0, 0, err
		}
	}

	g = volume.Grid{Dim: ndims, Size: [3]int{1, 1, 1}, Spacing: [3]float64{1, 1, 1}, Direction: volume.IdentityDirection}
	for i := 0; i < ndims; i++ {
		g.Size[i] = int(size[i])
		g.Spacing[i] = spacing[i]
		g.Origin[i] = origin[i]
	}
	// TransformMatrix lists the direction cosines column by column.
	for col := 0; col < ndims; col++ {
		for row := 0; row < ndims; row++ {
			g.Direction[row*3+col] = dir[col*ndims+row]
		}
	}
	if err := g.Validate(); err != nil {
		return g, 0, 0, err
	}
	return g, pt, comps, nil
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// WriteMetaImage stores img as MetaImage. A .mhd path gets its pixel data in
// a sibling .raw (or .zraw when compressed) file; .mha keeps it inline.
func WriteMetaImage(path string, img *volume.Image, compress bool) error {
	g := img.Grid()
	n := g.Dim

	h := &metaHeader{}
	h.set("ObjectType", "Image")
	h.set("NDims", strconv.Itoa(n))
	h.set("BinaryData", "True")
	h.set("BinaryDataByteOrderMSB", "False")
	h.set("CompressedData", map[bool]string{true: "True", false: "False"}[compress])

	var dir, origin, spacing, size []float64
	for col := 0; col < n; col++ {
		for row := 0; row < n; row++ {
			dir = append(dir, g.Direction[row*3+col])
		}
	}
	for i := 0; i < n; i++ {
		origin = append(origin, g.Origin[i])
		spacing = append(spacing, g.Spacing[i])
		size = append(size, float64(g.Size[i]))
	}
	h.set("TransformMatrix", formatFloats(dir))
	h.set("Offset", formatFloats(origin))
	h.set("ElementSpacing", formatFloats(spacing))
	h.set("DimSize", formatFloats(size))
	if img.Components() > 1 {
		h.set("ElementNumberOfChannels", strconv.Itoa(img.Components()))
	}
	h.set("ElementType", metaElementType(img.PixelType()))

	raw := encodeSamples(img.Samples(), img.PixelType(), binary.LittleEndian)
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return fmt.Errorf("failed to compress MetaImage data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress MetaImage data: %w", err)
		}
		raw = buf.Bytes()
		h.set("CompressedDataSize", strconv.Itoa(len(raw)))
	}

	detached := strings.EqualFold(filepath.Ext(path), ".mhd")
	if detached {
		ext := ".raw"
		if compress {
			ext = ".zraw"
		}
		dataName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ext
		if err := os.WriteFile(filepath.Join(filepath.Dir(path), dataName), raw, 0644); err != nil {
			return fmt.Errorf("failed to write MetaImage data: %w", err)
		}
		h.set("ElementDataFile", dataName)
	} else {
		h.set("ElementDataFile", "LOCAL")
	}

	var buf bytes.Buffer
	for _, k := range h.keys {
		fmt.Fprintf(&buf, "%s = %s\n", k, h.values[k])
	}
	if !detached {
		buf.Write(raw)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write MetaImage: %w", err)
	}
	return nil
}
