package imaging

import "volreg/pkg/volume"

// BinaryThreshold returns a Uint8 image that is 1 where lo <= v <= hi and 0
// elsewhere.
func BinaryThreshold(img *volume.Image, lo, hi float64) *volume.Image {
	return img.Map(volume.Uint8, func(v float64) float64 {
		if v >= lo && v <= hi {
			return 1
		}
		return 0
	})
}

// Threshold replaces every sample outside [lo, hi] with outside and keeps the
// pixel type.
func Threshold(img *volume.Image, lo, hi, outside float64) *volume.Image {
	pt := img.PixelType()
	return img.Map(pt, func(v float64) float64 {
		if v < lo || v > hi {
			return pt.Convert(outside)
		}
		return v
	})
}
