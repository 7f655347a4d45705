// Package interpolation evaluates images at continuous voxel positions.
//
// Three methods are supported, numbered by interpolation order the way
// clinical registration tools usually expose them: 1 nearest neighbour,
// 2 linear, 3 cubic B-spline. The zero value means "use the caller's default".
package interpolation

import (
	"fmt"
	"strconv"
	"strings"
)

// Method selects how samples between voxel centres are computed.
type Method int

const (
	// Unspecified defers to the default of the operation being configured.
	Unspecified Method = iota
	NearestNeighbor
	Linear
	BSpline
)

func (m Method) String() string {
	switch m {
	case Unspecified:
		return "unspecified"
	case NearestNeighbor:
		return "nearest"
	case Linear:
		return "linear"
	case BSpline:
		return "bspline"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Valid reports whether m names a concrete method.
func (m Method) Valid() bool {
	return m == NearestNeighbor || m == Linear || m == BSpline
}

// Or returns m, or def when m is Unspecified.
func (m Method) Or(def Method) Method {
	if m == Unspecified {
		return def
	}
	return m
}

// MethodNames lists the accepted names for ParseMethod.
var MethodNames = []string{"nearest", "linear", "bspline"}

// ParseMethod accepts a method name or its order ("1", "2", "3").
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "nearest_neighbor", "nearestneighbor", "nn":
		return NearestNeighbor, nil
	case "linear":
		return Linear, nil
	case "bspline", "cubic":
		return BSpline, nil
	case "":
		return Unspecified, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Method(n).Valid() {
		return Method(n), nil
	}
	return Unspecified, fmt.Errorf("unknown interpolation %q (valid: %s)", s, strings.Join(MethodNames, ", "))
}
