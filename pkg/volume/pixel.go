package volume

import (
	"fmt"
	"math"
	"strings"
)

// PixelType is the storage type a sample had on disk. Samples are held as
// float64 in memory; the type decides rounding and clamping on CastTo.
type PixelType int

const (
	Uint8 PixelType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var pixelTypeNames = map[PixelType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

func (p PixelType) String() string {
	if s, ok := pixelTypeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PixelType(%d)", int(p))
}

// ParsePixelType converts a name such as "int16" into a PixelType.
func ParsePixelType(name string) (PixelType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, s := range pixelTypeNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("volume: unknown pixel type %q", name)
}

// IsFloat reports whether the type stores floating-point samples.
func (p PixelType) IsFloat() bool {
	return p == Float32 || p == Float64
}

// Range returns the representable range of an integer type.
func (p PixelType) Range() (lo, hi float64) {
	switch p {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

// Convert maps a value into the representable set of the type: integers are
// rounded half away from zero and clamped, float32 is rounded to single
// precision.
func (p PixelType) Convert(v float64) float64 {
	switch p {
	case Float64:
		return v
	case Float32:
		return float64(float32(v))
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := p.Range()
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
