package transform

import (
	"fmt"
	"math"

	"volreg/pkg/interpolation"
	"volreg/pkg/volume"
)

// Domain is the physical box covered by a B-spline control grid: it starts
// at Origin, runs Extent mm along each Direction column.
type Domain struct {
	Dim       int
	Origin    [3]float64
	Extent    [3]float64
	Direction [9]float64
}

// DomainOf returns the box spanned by the voxel centres of g.
func DomainOf(g volume.Grid) Domain {
	d := Domain{Dim: g.Dim, Origin: g.Origin, Direction: g.Direction}
	for i := 0; i < g.Dim; i++ {
		d.Extent[i] = float64(g.Size[i]-1) * g.Spacing[i]
	}
	return d
}

// BSpline is a free-form deformation: T(x) = x + sum_k w_k(x) c_k with cubic
// B-spline weights over a regular control grid of Mesh+3 points per axis.
// Displacements vanish outside the domain.
type BSpline struct {
	domain  Domain
	mesh    [3]int
	nctrl   [3]int
	spacing [3]float64
	coef    []float64 // component major: all x, then y, then z
}

// NewBSpline returns the zero deformation with mesh intervals per axis over
// the domain.
func NewBSpline(domain Domain, mesh [3]int) (*BSpline, error) {
	if domain.Dim != 2 && domain.Dim != 3 {
		return nil, fmt.Errorf("transform: unsupported B-spline dimension %d", domain.Dim)
	}
	b := &BSpline{domain: domain, mesh: mesh}
	for i := 0; i < 3; i++ {
		if i >= domain.Dim {
			b.mesh[i] = 0
			b.nctrl[i] = 1
			continue
		}
		if mesh[i] < 1 {
			return nil, fmt.Errorf("transform: B-spline mesh along axis %d must be positive, got %d", i, mesh[i])
		}
		if !(domain.Extent[i] > 0) {
			return nil, fmt.Errorf("transform: B-spline domain along axis %d is empty", i)
		}
		b.nctrl[i] = mesh[i] + 3
		b.spacing[i] = domain.Extent[i] / float64(mesh[i])
	}
	b.coef = make([]float64, domain.Dim*b.numControlPoints())
	return b, nil
}

// NewBSplineForGrid builds the zero deformation over the voxel centres of g.
func NewBSplineForGrid(g volume.Grid, mesh [3]int) (*BSpline, error) {
	return NewBSpline(DomainOf(g), mesh)
}

func (b *BSpline) numControlPoints() int { return b.nctrl[0] * b.nctrl[1] * b.nctrl[2] }

func (b *BSpline) Dim() int   { return b.domain.Dim }
func (b *BSpline) Kind() Kind { return KindBSpline }

// Domain returns the physical box of the control grid.
func (b *BSpline) Domain() Domain { return b.domain }

// Mesh returns the number of mesh intervals per axis.
func (b *BSpline) Mesh() [3]int { return b.mesh }

// ControlPoints returns the number of control points per axis.
func (b *BSpline) ControlPoints() [3]int { return b.nctrl }

func (b *BSpline) NumParameters() int    { return len(b.coef) }
func (b *BSpline) Parameters() []float64 { return append([]float64(nil), b.coef...) }

func (b *BSpline) WithParameters(p []float64) (Parametric, error) {
	if err := checkParams("bspline", len(b.coef), len(p)); err != nil {
		return nil, err
	}
	nb := *b
	nb.coef = append([]float64(nil), p...)
	return &nb, nil
}

// support locates the 4^dim control points around x. ok is false outside the
// domain.
func (b *BSpline) support(x [3]float64, base *[3]int, w *[3][4]float64) bool {
	o := b.domain.Origin
	v := [3]float64{x[0] - o[0], x[1] - o[1], x[2] - o[2]}
	d := b.domain.Direction
	for i := 0; i < 3; i++ {
		if i >= b.domain.Dim {
			base[i] = 0
			w[i] = [4]float64{1, 0, 0, 0}
			continue
		}
		l := d[i]*v[0] + d[3+i]*v[1] + d[6+i]*v[2]
		u := l/b.spacing[i] + 1
		if u < 1-1e-9 || u > float64(b.mesh[i])+1+1e-9 {
			return false
		}
		f := math.Floor(u)
		if int(f) > b.mesh[i] {
			f = float64(b.mesh[i])
		}
		if f < 1 {
			f = 1
		}
		base[i] = int(f) - 1
		interpolation.CubicWeights(u-f, &w[i])
	}
	return true
}

func (b *BSpline) ctrlOffset(i, j, k int) int {
	return (k*b.nctrl[1]+j)*b.nctrl[0] + i
}

// Displacement returns the deformation vector at x.
func (b *BSpline) Displacement(x [3]float64) [3]float64 {
	var base [3]int
	var w [3][4]float64
	var out [3]float64
	if !b.support(x, &base, &w) {
		return out
	}
	n := b.numControlPoints()
	kz, ky := 4, 4
	if b.domain.Dim == 2 {
		kz = 1
	}
	for c := 0; c < kz; c++ {
		for r := 0; r < ky; r++ {
			wzy := w[2][c] * w[1][r]
			if wzy == 0 {
				continue
			}
			row := b.ctrlOffset(base[0], base[1]+r, base[2]+c)
			for q := 0; q < 4; q++ {
				wt := wzy * w[0][q]
				for comp := 0; comp < b.domain.Dim; comp++ {
					out[comp] += wt * b.coef[comp*n+row+q]
				}
			}
		}
	}
	return out
}

func (b *BSpline) TransformPoint(p [3]float64) [3]float64 {
	d := b.Displacement(p)
	return [3]float64{p[0] + d[0], p[1] + d[1], p[2] + d[2]}
}

// Jacobian returns the sparse product: each coefficient of component c
// receives its weight times v[c].
func (b *BSpline) Jacobian() JacobianProduct {
	n := b.numControlPoints()
	dim := b.domain.Dim
	kz := 4
	if dim == 2 {
		kz = 1
	}
	return func(x, v [3]float64, grad []float64) {
		var base [3]int
		var w [3][4]float64
		if !b.support(x, &base, &w) {
			return
		}
		for c := 0; c < kz; c++ {
			for r := 0; r < 4; r++ {
				wzy := w[2][c] * w[1][r]
				if wzy == 0 {
					continue
				}
				row := b.ctrlOffset(base[0], base[1]+r, base[2]+c)
				for q := 0; q < 4; q++ {
					wt := wzy * w[0][q]
					for comp := 0; comp < dim; comp++ {
						grad[comp*n+row+q] += wt * v[comp]
					}
				}
			}
		}
	}
}

// controlPoint returns the physical position of control point (i, j, k).
func (b *BSpline) controlPoint(i, j, k int) [3]float64 {
	l := [3]float64{float64(i-1) * b.spacing[0], float64(j-1) * b.spacing[1], float64(k-1) * b.spacing[2]}
	d := b.domain.Direction
	o := b.domain.Origin
	return [3]float64{
		o[0] + d[0]*l[0] + d[1]*l[1] + d[2]*l[2],
		o[1] + d[3]*l[0] + d[4]*l[1] + d[5]*l[2],
		o[2] + d[6]*l[0] + d[7]*l[1] + d[8]*l[2],
	}
}

// clampToDomain pulls p onto the closest point of the domain box.
func (b *BSpline) clampToDomain(p [3]float64) [3]float64 {
	o := b.domain.Origin
	d := b.domain.Direction
	v := [3]float64{p[0] - o[0], p[1] - o[1], p[2] - o[2]}
	var l [3]float64
	for i := 0; i < b.domain.Dim; i++ {
		l[i] = d[i]*v[0] + d[3+i]*v[1] + d[6+i]*v[2]
		l[i] = math.Max(0, math.Min(b.domain.Extent[i], l[i]))
	}
	return [3]float64{
		o[0] + d[0]*l[0] + d[1]*l[1] + d[2]*l[2],
		o[1] + d[3]*l[0] + d[4]*l[1] + d[5]*l[2],
		o[2] + d[6]*l[0] + d[7]*l[1] + d[8]*l[2],
	}
}

// Refine returns a deformation on a finer mesh that approximates b: the
// current displacement is sampled at the new control points and converted to
// spline coefficients.
func (b *BSpline) Refine(mesh [3]int) (*BSpline, error) {
	nb, err := NewBSpline(b.domain, mesh)
	if err != nil {
		return nil, err
	}
	dim := b.domain.Dim
	g := volume.Grid{Dim: dim, Size: nb.nctrl, Spacing: [3]float64{1, 1, 1}, Direction: volume.IdentityDirection}
	n := nb.numControlPoints()
	samples := make([]float64, n*dim)
	for k := 0; k < nb.nctrl[2]; k++ {
		for j := 0; j < nb.nctrl[1]; j++ {
			for i := 0; i < nb.nctrl[0]; i++ {
				p := b.clampToDomain(nb.controlPoint(i, j, k))
				d := b.Displacement(p)
				idx := nb.ctrlOffset(i, j, k)
				copy(samples[idx*dim:idx*dim+dim], d[:dim])
			}
		}
	}
	coef := interpolation.Decompose(volume.MustFromData(g, volume.Float64, dim, samples)).Samples()
	for idx := 0; idx < n; idx++ {
		for c := 0; c < dim; c++ {
			nb.coef[c*n+idx] = coef[idx*dim+c]
		}
	}
	return nb, nil
}
