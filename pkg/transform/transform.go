// Package transform implements the spatial mappings produced by registration.
//
// Every transform maps a point of the fixed (reference) space to the matching
// point of the moving space, which is the direction needed to resample a
// moving image onto a fixed grid.
package transform

import (
	"fmt"
)

// Kind identifies the concrete transform variant.
type Kind string

const (
	KindIdentity          Kind = "identity"
	KindLinear            Kind = "linear"
	KindBSpline           Kind = "bspline"
	KindDisplacementField Kind = "displacement_field"
	KindComposite         Kind = "composite"
)

// Transform maps fixed-space points to moving-space points.
type Transform interface {
	Dim() int
	Kind() Kind
	TransformPoint(p [3]float64) [3]float64
}

// JacobianProduct adds J(x)^T v to grad, where J is the derivative of the
// mapped point with respect to the transform parameters evaluated at x.
type JacobianProduct func(x, v [3]float64, grad []float64)

// Parametric is a transform driven by a parameter vector that an optimizer
// can move.
type Parametric interface {
	Transform
	NumParameters() int
	Parameters() []float64
	WithParameters(p []float64) (Parametric, error)
	Jacobian() JacobianProduct
}

// Identity maps every point onto itself.
type Identity struct {
	D int
}

// NewIdentity returns the identity transform of the given dimension.
func NewIdentity(dim int) Identity { return Identity{D: dim} }

func (i Identity) Dim() int                               { return i.D }
func (Identity) Kind() Kind                               { return KindIdentity }
func (Identity) TransformPoint(p [3]float64) [3]float64   { return p }
func (Identity) NumParameters() int                       { return 0 }
func (Identity) Parameters() []float64                    { return nil }
func (i Identity) Jacobian() JacobianProduct              { return func(x, v [3]float64, grad []float64) {} }
func (i Identity) WithParameters(p []float64) (Parametric, error) {
	if len(p) != 0 {
		return nil, fmt.Errorf("transform: identity takes no parameters, got %d", len(p))
	}
	return i, nil
}

func checkParams(kind string, want, got int) error {
	if want != got {
		return fmt.Errorf("transform: %s expects %d parameters, got %d", kind, want, got)
	}
	return nil
}
