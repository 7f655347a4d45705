package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"volreg/pkg/imaging"
	"volreg/pkg/interpolation"
	"volreg/pkg/transform"
	"volreg/pkg/volume"
)

// moments holds the intensity weighted centre and covariance of an image.
type moments struct {
	center [3]float64
	cov    *mat.SymDense
}

func imageMoments(img *volume.Image) (moments, error) {
	g := img.Grid()
	dim := g.Dim
	var mass float64
	var c [3]float64
	for idx := 0; idx < g.NumVoxels(); idx++ {
		w := img.Value(idx)
		if w == 0 {
			continue
		}
		p := g.VoxelPoint(idx)
		mass += w
		for i := 0; i < dim; i++ {
			c[i] += w * p[i]
		}
	}
	if math.Abs(mass) < 1e-12 {
		return moments{}, fmt.Errorf("registration: image has no mass to compute moments from")
	}
	for i := 0; i < dim; i++ {
		c[i] /= mass
	}

	cov := mat.NewSymDense(dim, nil)
	for idx := 0; idx < g.NumVoxels(); idx++ {
		w := img.Value(idx)
		if w == 0 {
			continue
		}
		p := g.VoxelPoint(idx)
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				cov.SetSym(i, j, cov.At(i, j)+w*(p[i]-c[i])*(p[j]-c[j]))
			}
		}
	}
	cov.ScaleSym(1/mass, cov)
	return moments{center: c, cov: cov}, nil
}

// principalAxes returns the eigenvectors of the covariance as columns, in
// ascending eigenvalue order. ok is false when two eigenvalues are too close
// for the axes to be well defined.
func principalAxes(cov *mat.SymDense) (axes *mat.Dense, ok bool) {
	var es mat.EigenSym
	if !es.Factorize(cov, true) {
		return nil, false
	}
	vals := es.Values(nil)
	for i := 1; i < len(vals); i++ {
		scale := math.Max(math.Abs(vals[i]), math.Abs(vals[i-1]))
		if scale == 0 || (vals[i]-vals[i-1])/scale < 1e-3 {
			return nil, false
		}
	}
	axes = &mat.Dense{}
	es.VectorsTo(axes)
	return axes, true
}

// axisRotation returns R with R * fixedAxis_i = movingAxis_i, choosing the
// eigenvector signs that keep R closest to the identity with det(R) = +1.
func axisRotation(fixed, moving *mat.Dense) *mat.Dense {
	n, _ := fixed.Dims()
	pm := mat.DenseCopyOf(moving)
	dots := make([]float64, n)
	for i := 0; i < n; i++ {
		d := mat.Dot(fixed.ColView(i), pm.ColView(i))
		if d < 0 {
			for r := 0; r < n; r++ {
				pm.Set(r, i, -pm.At(r, i))
			}
			d = -d
		}
		dots[i] = d
	}
	var r mat.Dense
	r.Mul(pm, fixed.T())
	if mat.Det(&r) < 0 {
		// flip the axis whose alignment matters least
		worst := 0
		for i := 1; i < n; i++ {
			if dots[i] < dots[worst] {
				worst = i
			}
		}
		for row := 0; row < n; row++ {
			pm.Set(row, worst, -pm.At(row, worst))
		}
		r.Mul(pm, fixed.T())
	}
	return &r
}

// MomentsAlignment returns the rigid transform that maps the fixed centre of
// mass onto the moving one. With useSecondMoment it also rotates the fixed
// principal axes onto the moving principal axes; the rotation is skipped when
// either image has (near) repeated second moments.
func MomentsAlignment(fixed, moving *volume.Image, useSecondMoment bool) (*transform.Linear, error) {
	if err := volume.SameDimension(fixed, moving); err != nil {
		return nil, err
	}
	fm, err := imageMoments(fixed)
	if err != nil {
		return nil, fmt.Errorf("fixed image: %w", err)
	}
	mm, err := imageMoments(moving)
	if err != nil {
		return nil, fmt.Errorf("moving image: %w", err)
	}
	dim := fixed.Dim()
	var t [3]float64
	for i := 0; i < dim; i++ {
		t[i] = mm.center[i] - fm.center[i]
	}
	rot := volume.IdentityDirection
	if useSecondMoment {
		fa, okF := principalAxes(fm.cov)
		ma, okM := principalAxes(mm.cov)
		if okF && okM {
			r := axisRotation(fa, ma)
			for i := 0; i < dim; i++ {
				for j := 0; j < dim; j++ {
					rot[3*i+j] = r.At(i, j)
				}
			}
		}
	}
	return transform.NewRigid(dim, fm.center, rot, t)
}

// GeometryAlignment returns the translation, expressed as a rigid transform,
// that maps the centre of the fixed grid onto the centre of the moving grid.
func GeometryAlignment(fixed, moving *volume.Image) (*transform.Linear, error) {
	if err := volume.SameDimension(fixed, moving); err != nil {
		return nil, err
	}
	fc, mc := fixed.Grid().Center(), moving.Grid().Center()
	var t [3]float64
	for i := 0; i < fixed.Dim(); i++ {
		t[i] = mc[i] - fc[i]
	}
	return transform.NewRigid(fixed.Dim(), fc, volume.IdentityDirection, t)
}

func initialTransform(init Initializer, fixed, moving *volume.Image) (*transform.Linear, error) {
	switch init {
	case InitGeometry:
		return GeometryAlignment(fixed, moving)
	case InitSecondMoments:
		return MomentsAlignment(fixed, moving, true)
	default:
		return MomentsAlignment(fixed, moving, false)
	}
}

// Align is the single step registration: it moments-aligns moving onto fixed
// and returns the moving image resampled into the fixed grid, with the pixel
// type of moving, together with the transform.
func Align(fixed, moving *volume.Image, useSecondMoment bool) (*volume.Image, *transform.Linear, error) {
	t, err := MomentsAlignment(fixed.AsFloat(), moving.AsFloat(), useSecondMoment)
	if err != nil {
		return nil, nil, err
	}
	out, err := imaging.Resample(moving.AsFloat(), fixed.Grid(), t, interpolation.Linear, 0)
	if err != nil {
		return nil, nil, err
	}
	return out.CastTo(moving.PixelType()), t, nil
}
