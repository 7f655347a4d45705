package transform

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Family is the closed set of linear transform models.
type Family int

const (
	Translation Family = iota + 1
	Rigid
	Similarity
	Affine
	ScaleVersor
	ScaleSkewVersor
)

var familyNames = map[Family]string{
	Translation:     "translation",
	Rigid:           "rigid",
	Similarity:      "similarity",
	Affine:          "affine",
	ScaleVersor:     "scaleversor",
	ScaleSkewVersor: "scaleskewversor",
}

// FamilyNames lists every family name in declaration order.
var FamilyNames = []string{"translation", "rigid", "similarity", "affine", "scaleversor", "scaleskewversor"}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Valid reports whether f is one of the declared families.
func (f Family) Valid() bool {
	_, ok := familyNames[f]
	return ok
}

// FamilyByName looks a family up by its case-insensitive name.
func FamilyByName(name string) (Family, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, s := range familyNames {
		if s == name {
			return f, true
		}
	}
	return 0, false
}

// SupportsDim reports whether the family exists for the dimension. The versor
// based families are only defined in 3-D.
func (f Family) SupportsDim(dim int) bool {
	if !f.Valid() {
		return false
	}
	if dim == 2 {
		return f != ScaleVersor && f != ScaleSkewVersor
	}
	return dim == 3
}

// layout describes how a family's parameter vector is organised.
type layout struct {
	n           int // number of parameters
	translation int // offset of the translation block
}

func familyLayout(f Family, dim int) layout {
	if dim == 2 {
		switch f {
		case Translation:
			return layout{n: 2, translation: 0}
		case Rigid:
			return layout{n: 3, translation: 1}
		case Similarity:
			return layout{n: 4, translation: 2}
		default:
			return layout{n: 6, translation: 4}
		}
	}
	switch f {
	case Translation:
		return layout{n: 3, translation: 0}
	case Rigid:
		return layout{n: 6, translation: 3}
	case Similarity:
		return layout{n: 7, translation: 3}
	case ScaleVersor:
		return layout{n: 9, translation: 3}
	case ScaleSkewVersor:
		return layout{n: 15, translation: 3}
	default:
		return layout{n: 12, translation: 9}
	}
}

// Linear is T(x) = M (x - c) + c + t, with M and t derived from the
// parameters of a family and c a fixed centre of rotation.
//
// 3-D parameter vectors:
//
//	translation      [tx ty tz]
//	rigid            [vx vy vz tx ty tz]             (versor right part)
//	similarity       [vx vy vz tx ty tz s]
//	scaleversor      [vx vy vz tx ty tz sx sy sz]
//	scaleskewversor  [vx vy vz tx ty tz sx sy sz k0..k5]
//	affine           [m00 m01 m02 m10 .. m22 tx ty tz]
//
// 2-D: translation [tx ty], rigid [angle tx ty], similarity [s angle tx ty],
// affine [m00 m01 m10 m11 tx ty].
type Linear struct {
	family Family
	dim    int
	center [3]float64
	params []float64
}

// NewLinear returns the identity member of a family centred at center.
func NewLinear(family Family, dim int, center [3]float64) (*Linear, error) {
	if !family.SupportsDim(dim) {
		return nil, fmt.Errorf("transform: family %v is not available in %d-D", family, dim)
	}
	return &Linear{family: family, dim: dim, center: center, params: identityParameters(family, dim)}, nil
}

// NewLinearWithParameters builds a member of a family from explicit parameters.
func NewLinearWithParameters(family Family, dim int, center [3]float64, params []float64) (*Linear, error) {
	l, err := NewLinear(family, dim, center)
	if err != nil {
		return nil, err
	}
	if err := checkParams(family.String(), len(l.params), len(params)); err != nil {
		return nil, err
	}
	l.params = append([]float64(nil), params...)
	return l, nil
}

// NewRigid builds a rigid transform from a rotation matrix and translation.
func NewRigid(dim int, center [3]float64, rotation [9]float64, translation [3]float64) (*Linear, error) {
	l, err := NewLinear(Rigid, dim, center)
	if err != nil {
		return nil, err
	}
	if dim == 2 {
		l.params[0] = math.Atan2(rotation[3], rotation[0])
		l.params[1], l.params[2] = translation[0], translation[1]
		return l, nil
	}
	v := versorFromMatrix(rotation)
	copy(l.params[0:3], v[:])
	copy(l.params[3:6], translation[:])
	return l, nil
}

func identityParameters(f Family, dim int) []float64 {
	lay := familyLayout(f, dim)
	p := make([]float64, lay.n)
	if dim == 2 {
		switch f {
		case Similarity:
			p[0] = 1
		case Affine:
			p[0], p[3] = 1, 1
		}
		return p
	}
	switch f {
	case Similarity:
		p[6] = 1
	case ScaleVersor, ScaleSkewVersor:
		p[6], p[7], p[8] = 1, 1, 1
	case Affine:
		p[0], p[4], p[8] = 1, 1, 1
	}
	return p
}

func (l *Linear) Dim() int   { return l.dim }
func (l *Linear) Kind() Kind { return KindLinear }

// Family returns the transform model.
func (l *Linear) Family() Family { return l.family }

// Center returns the fixed centre of rotation.
func (l *Linear) Center() [3]float64 { return l.center }

func (l *Linear) NumParameters() int { return len(l.params) }

// Parameters returns a copy of the parameter vector.
func (l *Linear) Parameters() []float64 { return append([]float64(nil), l.params...) }

// WithParameters returns a new transform of the same family and centre.
func (l *Linear) WithParameters(p []float64) (Parametric, error) {
	if err := checkParams(l.family.String(), len(l.params), len(p)); err != nil {
		return nil, err
	}
	return &Linear{family: l.family, dim: l.dim, center: l.center, params: append([]float64(nil), p...)}, nil
}

// Matrix returns the 3x3 row-major linear part. 2-D transforms embed their
// 2x2 matrix with a unit z axis.
func (l *Linear) Matrix() [9]float64 {
	return linearMatrix(l.family, l.dim, l.params)
}

// Translation returns the translation block.
func (l *Linear) Translation() [3]float64 {
	var t [3]float64
	off := familyLayout(l.family, l.dim).translation
	for i := 0; i < l.dim; i++ {
		t[i] = l.params[off+i]
	}
	return t
}

func (l *Linear) TransformPoint(p [3]float64) [3]float64 {
	m := l.Matrix()
	t := l.Translation()
	return affineApply(m, l.center, t, p)
}

func affineApply(m [9]float64, c, t, p [3]float64) [3]float64 {
	d := [3]float64{p[0] - c[0], p[1] - c[1], p[2] - c[2]}
	return [3]float64{
		m[0]*d[0] + m[1]*d[1] + m[2]*d[2] + c[0] + t[0],
		m[3]*d[0] + m[4]*d[1] + m[5]*d[2] + c[1] + t[1],
		m[6]*d[0] + m[7]*d[1] + m[8]*d[2] + c[2] + t[2],
	}
}

// Jacobian precomputes dM/dp once with central differences and returns the
// per-point product. Translation parameters contribute v directly.
func (l *Linear) Jacobian() JacobianProduct {
	n := len(l.params)
	dm := mat.NewDense(9, n, nil)
	fd.Jacobian(dm, func(y, x []float64) {
		m := linearMatrix(l.family, l.dim, x)
		copy(y, m[:])
	}, l.params, &fd.JacobianSettings{Formula: fd.Central})

	off := familyLayout(l.family, l.dim).translation
	dim := l.dim
	c := l.center
	cols := make([][9]float64, n)
	for k := 0; k < n; k++ {
		for r := 0; r < 9; r++ {
			cols[k][r] = dm.At(r, k)
		}
	}
	return func(x, v [3]float64, grad []float64) {
		d := [3]float64{x[0] - c[0], x[1] - c[1], x[2] - c[2]}
		for k := 0; k < n; k++ {
			if k >= off && k < off+dim {
				grad[k] += v[k-off]
				continue
			}
			col := &cols[k]
			var s float64
			for r := 0; r < dim; r++ {
				s += v[r] * (col[3*r]*d[0] + col[3*r+1]*d[1] + col[3*r+2]*d[2])
			}
			grad[k] += s
		}
	}
}

// Inverse returns the affine inverse as an Affine-family transform.
func (l *Linear) Inverse() (*Linear, error) {
	m := l.Matrix()
	a := mat.NewDense(3, 3, m[:])
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, fmt.Errorf("transform: linear part is singular: %w", err)
	}
	t := l.Translation()
	// x = M^-1 (y - c - t) + c, expressed around the same centre.
	var mi [9]float64
	for r := 0; r < 3; r++ {
		for k := 0; k < 3; k++ {
			mi[3*r+k] = inv.At(r, k)
		}
	}
	var ti [3]float64
	for r := 0; r < 3; r++ {
		ti[r] = -(mi[3*r]*t[0] + mi[3*r+1]*t[1] + mi[3*r+2]*t[2])
	}
	params := identityParameters(Affine, l.dim)
	if l.dim == 2 {
		params[0], params[1], params[2], params[3] = mi[0], mi[1], mi[3], mi[4]
		params[4], params[5] = ti[0], ti[1]
	} else {
		copy(params[0:9], mi[:])
		copy(params[9:12], ti[:])
	}
	return &Linear{family: Affine, dim: l.dim, center: l.center, params: params}, nil
}

func linearMatrix(f Family, dim int, p []float64) [9]float64 {
	if dim == 2 {
		var a, b, c, d float64
		switch f {
		case Translation:
			a, d = 1, 1
		case Rigid:
			cs, sn := math.Cos(p[0]), math.Sin(p[0])
			a, b, c, d = cs, -sn, sn, cs
		case Similarity:
			cs, sn := math.Cos(p[1]), math.Sin(p[1])
			a, b, c, d = p[0]*cs, -p[0]*sn, p[0]*sn, p[0]*cs
		default:
			a, b, c, d = p[0], p[1], p[2], p[3]
		}
		return [9]float64{a, b, 0, c, d, 0, 0, 0, 1}
	}
	switch f {
	case Translation:
		return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	case Rigid:
		return versorMatrix(p[0], p[1], p[2])
	case Similarity:
		r := versorMatrix(p[0], p[1], p[2])
		for i := range r {
			r[i] *= p[6]
		}
		return r
	case ScaleVersor:
		return mul3(versorMatrix(p[0], p[1], p[2]), [9]float64{p[6], 0, 0, 0, p[7], 0, 0, 0, p[8]})
	case ScaleSkewVersor:
		s := [9]float64{p[6], 0, 0, 0, p[7], 0, 0, 0, p[8]}
		k := [9]float64{1, p[9], p[10], p[11], 1, p[12], p[13], p[14], 1}
		return mul3(versorMatrix(p[0], p[1], p[2]), mul3(s, k))
	default:
		var m [9]float64
		copy(m[:], p[0:9])
		return m
	}
}

func mul3(a, b [9]float64) [9]float64 {
	var m [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[3*r+c] = a[3*r]*b[c] + a[3*r+1]*b[3+c] + a[3*r+2]*b[6+c]
		}
	}
	return m
}

// versorMatrix converts the right part of a unit quaternion into a rotation
// matrix. Vectors longer than one are normalised.
func versorMatrix(x, y, z float64) [9]float64 {
	n2 := x*x + y*y + z*z
	var w float64
	if n2 > 1 {
		n := math.Sqrt(n2)
		x, y, z = x/n, y/n, z/n
	} else {
		w = math.Sqrt(1 - n2)
	}
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// versorFromMatrix returns the right part of the unit quaternion with
// non-negative scalar part that represents the rotation r.
func versorFromMatrix(r [9]float64) [3]float64 {
	tr := r[0] + r[4] + r[8]
	var w, x, y, z float64
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = s / 4
		x = (r[7] - r[5]) / s
		y = (r[2] - r[6]) / s
		z = (r[3] - r[1]) / s
	case r[0] > r[4] && r[0] > r[8]:
		s := math.Sqrt(1+r[0]-r[4]-r[8]) * 2
		w = (r[7] - r[5]) / s
		x = s / 4
		y = (r[1] + r[3]) / s
		z = (r[2] + r[6]) / s
	case r[4] > r[8]:
		s := math.Sqrt(1+r[4]-r[0]-r[8]) * 2
		w = (r[2] - r[6]) / s
		x = (r[1] + r[3]) / s
		y = s / 4
		z = (r[5] + r[7]) / s
	default:
		s := math.Sqrt(1+r[8]-r[0]-r[4]) * 2
		w = (r[3] - r[1]) / s
		x = (r[2] + r[6]) / s
		y = (r[5] + r[7]) / s
		z = s / 4
	}
	if w < 0 {
		x, y, z = -x, -y, -z
	}
	return [3]float64{x, y, z}
}
