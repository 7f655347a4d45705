package imageio

import (
	"encoding/binary"
	"fmt"
	"math"

	"volreg/pkg/volume"
)

func bytesPerSample(pt volume.PixelType) int {
	switch pt {
	case volume.Uint8, volume.Int8:
		return 1
	case volume.Uint16, volume.Int16:
		return 2
	case volume.Uint32, volume.Int32, volume.Float32:
		return 4
	}
	return 8
}

// decodeSamples converts a raw buffer into float64 samples.
func decodeSamples(raw []byte, pt volume.PixelType, order binary.ByteOrder, n int) ([]float64, error) {
	bps := bytesPerSample(pt)
	if len(raw) < n*bps {
		return nil, fmt.Errorf("imageio: pixel data holds %d bytes, need %d", len(raw), n*bps)
	}
	out := make([]float64, n)
	for i := range out {
		b := raw[i*bps : (i+1)*bps]
		switch pt {
		case volume.Uint8:
			out[i] = float64(b[0])
		case volume.Int8:
			out[i] = float64(int8(b[0]))
		case volume.Uint16:
			out[i] = float64(order.Uint16(b))
		case volume.Int16:
			out[i] = float64(int16(order.Uint16(b)))
		case volume.Uint32:
			out[i] = float64(order.Uint32(b))
		case volume.Int32:
			out[i] = float64(int32(order.Uint32(b)))
		case volume.Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case volume.Float64:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out, nil
}

// encodeSamples is the inverse of decodeSamples. Image samples always lie in
// the range of pt.
func encodeSamples(data []float64, pt volume.PixelType, order binary.ByteOrder) []byte {
	bps := bytesPerSample(pt)
	out := make([]byte, len(data)*bps)
	for i, v := range data {
		b := out[i*bps : (i+1)*bps]
		switch pt {
		case volume.Uint8:
			b[0] = uint8(v)
		case volume.Int8:
			b[0] = uint8(int8(v))
		case volume.Uint16:
			order.PutUint16(b, uint16(v))
		case volume.Int16:
			order.PutUint16(b, uint16(int16(v)))
		case volume.Uint32:
			order.PutUint32(b, uint32(v))
		case volume.Int32:
			order.PutUint32(b, uint32(int32(v)))
		case volume.Float32:
			order.PutUint32(b, math.Float32bits(float32(v)))
		case volume.Float64:
			order.PutUint64(b, math.Float64bits(v))
		}
	}
	return out
}
