package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// WriteTransform stores t as a YAML document at path. Displacement fields
// are written next to it as <name>_field<k>.mha and referenced by file name.
func WriteTransform(path string, t transform.Transform) error {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := filepath.Dir(path)
	k := 0
	save := func(field *volume.Image) (string, error) {
		name := fmt.Sprintf("%s_field%d.mha", base, k)
		k++
		if err := WriteMetaImage(filepath.Join(dir, name), field, true); err != nil {
			return "", err
		}
		return name, nil
	}
	data, err := transform.Marshal(t, save)
	if err != nil {
		return fmt.Errorf("failed to encode transform: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write transform: %w", err)
	}
	return nil
}

// ReadTransform loads a document written by WriteTransform.
func ReadTransform(path string) (transform.Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transform: %w", err)
	}
	load := func(ref string) (*volume.Image, error) {
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(filepath.Dir(path), ref)
		}
		return Read(ref)
	}
	return transform.Unmarshal(data, load)
}
