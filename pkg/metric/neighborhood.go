package metric

import (
	"volreg/internal/parallel"
	"volreg/pkg/transform"
)

// neighborhoodCorrelation maps every fixed voxel, then scores each sample by
// the squared correlation of the window around it. The derivative treats the
// window means as constants and moves only the centre voxel.
func (e *Evaluator) neighborhoodCorrelation(nc NeighborhoodCorrelation, t transform.Transform, jac transform.JacobianProduct, grad []float64, workers int) (float64, error) {
	r := nc.Radius
	if r < 1 {
		r = DefaultRadius
	}
	g := e.fixed.Grid()
	total := g.NumVoxels()
	withGrad := jac != nil

	dense := newSampleState(total, false)
	parallel.For(total, workers, func(_, lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			if e.denseValid[idx] {
				e.mapSample(t, g.VoxelPoint(idx), idx, dense)
			}
		}
	})

	n := len(e.samples)
	st := newSampleState(n, withGrad)
	scores := make([]float64, n)
	coef := make([]float64, n)
	rz := r
	if g.Dim == 2 {
		rz = 0
	}
	fixed := e.fixed.Samples()

	parallel.For(n, workers, func(_, lo, hi int) {
		for k := lo; k < hi; k++ {
			idx := e.samples[k]
			if !dense.valid[idx] {
				continue
			}
			x0, y0, z0 := g.Coords(idx)
			var cnt, sf, sm, sff, smm, sfm float64
			for z := z0 - rz; z <= z0+rz; z++ {
				if z < 0 || z >= g.Size[2] {
					continue
				}
				for y := y0 - r; y <= y0+r; y++ {
					if y < 0 || y >= g.Size[1] {
						continue
					}
					for x := x0 - r; x <= x0+r; x++ {
						if x < 0 || x >= g.Size[0] {
							continue
						}
						j := g.Offset(x, y, z)
						if !dense.valid[j] {
							continue
						}
						f, m := fixed[j], dense.m[j]
						cnt++
						sf += f
						sm += m
						sff += f * f
						smm += m * m
						sfm += f * m
					}
				}
			}
			fMean, mMean := sf/cnt, sm/cnt
			a := sfm - fMean*sm
			b := sff - fMean*sf
			c := smm - mMean*sm
			st.valid[k] = true
			if b <= 1e-12 || c <= 1e-12 {
				continue
			}
			scores[k] = a * a / (b * c)
			if withGrad {
				ft := fixed[idx] - fMean
				mt := dense.m[idx] - mMean
				coef[k] = 2 * a / (b * c) * (ft - a/c*mt)
				e.mapSample(t, e.points[k], k, st)
			}
		}
	})

	valid := countValid(st)
	if valid == 0 {
		return 0, ErrNoOverlap
	}
	var sum float64
	for k, ok := range st.valid {
		if ok {
			sum += scores[k]
		}
	}
	inv := 1 / float64(valid)
	if withGrad {
		for k := range coef {
			coef[k] *= -inv
		}
		e.accumulate(jac, n, func(k int) [3]float64 { return e.points[k] }, st, coef, grad, workers)
	}
	return -sum * inv, nil
}
