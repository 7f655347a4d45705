// Package imageio reads and writes volumes in the file formats used around a
// registration case: MetaImage (.mha, .mhd), NIfTI-1 (.nii, .nii.gz) and
// DICOM series directories.
package imageio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"volreg/pkg/volume"
)

// ErrUnsupportedFormat is returned for file extensions and on-disk types no
// reader handles.
var ErrUnsupportedFormat = errors.New("imageio: unsupported format")

// Format identifies an on-disk image format.
type Format int

const (
	FormatUnknown Format = iota
	FormatMetaImage
	FormatNIfTI
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, ".mha"), strings.HasSuffix(p, ".mhd"):
		return FormatMetaImage
	case strings.HasSuffix(p, ".nii"), strings.HasSuffix(p, ".nii.gz"):
		return FormatNIfTI
	}
	return FormatUnknown
}

// Read loads the image at path.
func Read(path string) (*volume.Image, error) {
	switch DetectFormat(path) {
	case FormatMetaImage:
		return ReadMetaImage(path)
	case FormatNIfTI:
		return ReadNIfTI(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Write stores img at path in the format given by its extension. Parent
// directories must exist.
func Write(path string, img *volume.Image) error {
	if img == nil {
		return fmt.Errorf("imageio: nil image")
	}
	switch DetectFormat(path) {
	case FormatMetaImage:
		return WriteMetaImage(path, img, false)
	case FormatNIfTI:
		return WriteNIfTI(path, img)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}
