package registration

import (
	"errors"
	"fmt"
	"strings"

	"volreg/pkg/volume"
)

var (
	// ErrConfiguration is wrapped by every *ConfigError.
	ErrConfiguration = errors.New("registration: invalid configuration")

	// ErrConstraintViolation is returned when a structure image is asked to
	// be interpolated with anything but nearest neighbour.
	ErrConstraintViolation = errors.New("registration: structure images must use nearest neighbour interpolation")

	// ErrGeometryMismatch reports 2-D/3-D mixing between images, masks and
	// transforms.
	ErrGeometryMismatch = volume.ErrGeometryMismatch
)

// ConfigError describes one rejected configuration value. It is returned
// before any image is processed.
type ConfigError struct {
	Field  string
	Value  string
	Valid  []string // accepted alternatives, when the set is closed
	Reason string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "registration: invalid %s %q", e.Field, e.Value)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Valid) > 0 {
		fmt.Fprintf(&b, " (valid: %s)", strings.Join(e.Valid, ", "))
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErr(field string, value any, reason string, valid ...string) *ConfigError {
	return &ConfigError{Field: field, Value: fmt.Sprint(value), Reason: reason, Valid: valid}
}
