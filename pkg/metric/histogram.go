package metric

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// correlation returns -r^2 over the valid samples. The gradient uses
// centred intensities, so the derivatives of the means cancel.
func correlation(f []float64, st *sampleState, withGrad bool) (float64, []float64, error) {
	fv := make([]float64, 0, len(f))
	mv := make([]float64, 0, len(f))
	for k, ok := range st.valid {
		if ok {
			fv = append(fv, f[k])
			mv = append(mv, st.m[k])
		}
	}
	if len(fv) == 0 {
		return 0, nil, ErrNoOverlap
	}
	fMean, mMean := stat.Mean(fv, nil), stat.Mean(mv, nil)
	var sfm, sff, smm float64
	for i := range fv {
		a, b := fv[i]-fMean, mv[i]-mMean
		sfm += a * b
		sff += a * a
		smm += b * b
	}
	var coef []float64
	if withGrad {
		coef = make([]float64, len(f))
	}
	if sff == 0 || smm == 0 {
		return 0, coef, nil
	}
	r := stat.Correlation(fv, mv, nil)
	if coef != nil {
		scale := -2 * sfm / (sff * smm)
		ratio := sfm / smm
		for k, ok := range st.valid {
			if ok {
				coef[k] = scale * ((f[k] - fMean) - ratio*(st.m[k]-mMean))
			}
		}
	}
	return -r * r, coef, nil
}

// histogram is a joint intensity histogram normalised to probabilities.
type histogram struct {
	bins  int
	joint []float64 // fixed bin major
	fixed []float64
	mov   []float64
}

func (h *histogram) at(a, b int) float64 { return h.joint[a*h.bins+b] }

// parzen returns the lower bin and the weight of the upper bin for a
// continuous bin coordinate in [0, bins-1].
func parzen(eta float64, bins int) (int, float64) {
	if eta <= 0 {
		return 0, 0
	}
	if eta >= float64(bins-1) {
		return bins - 2, 1
	}
	lo := int(eta)
	return lo, eta - float64(lo)
}

func binCoordinate(v, lo, hi float64, bins int) float64 {
	eta := (v - lo) / (hi - lo) * float64(bins-1)
	return math.Max(0, math.Min(float64(bins-1), eta))
}

// mutualInformation returns -MI and, when asked, the derivative of -MI with
// respect to each moving sample. smoothFixed selects Parzen windows on the
// fixed axis as well.
func (e *Evaluator) mutualInformation(bins, def int, smoothFixed bool, st *sampleState, withGrad bool) (float64, []float64, error) {
	if bins < 2 {
		bins = def
	}
	n := countValid(st)
	if n == 0 {
		return 0, nil, ErrNoOverlap
	}
	var coef []float64
	if withGrad {
		coef = make([]float64, len(e.values))
	}
	flo, fhi := e.fixedRange[0], e.fixedRange[1]
	mlo, mhi := e.movingRange[0], e.movingRange[1]
	if !(fhi > flo) || !(mhi > mlo) {
		return 0, coef, nil
	}

	h := &histogram{bins: bins, joint: make([]float64, bins*bins), fixed: make([]float64, bins), mov: make([]float64, bins)}
	w := 1 / float64(n)

	fixedBins := func(k int) (int, float64) {
		eta := binCoordinate(e.values[k], flo, fhi, bins)
		if smoothFixed {
			return parzen(eta, bins)
		}
		return int(math.Min(float64(bins-1), math.Floor(eta+0.5))), 0
	}
	add := func(a int, fa float64, b int, fb float64) {
		for i, wa := range [2]float64{1 - fa, fa} {
			if wa == 0 {
				continue
			}
			for j, wb := range [2]float64{1 - fb, fb} {
				if wb != 0 {
					h.joint[(a+i)*bins+b+j] += wa * wb * w
				}
			}
		}
	}
	for k, ok := range st.valid {
		if !ok {
			continue
		}
		a, fa := fixedBins(k)
		b, fb := parzen(binCoordinate(st.m[k], mlo, mhi, bins), bins)
		add(a, fa, b, fb)
	}
	for a := 0; a < bins; a++ {
		for b := 0; b < bins; b++ {
			p := h.at(a, b)
			h.fixed[a] += p
			h.mov[b] += p
		}
	}

	mi := stat.Entropy(h.fixed) + stat.Entropy(h.mov) - stat.Entropy(h.joint)

	if coef != nil {
		deta := float64(bins-1) / (mhi - mlo)
		logRatio := func(a, b int) float64 {
			p := h.at(a, b)
			if p <= 0 || h.mov[b] <= 0 {
				return 0
			}
			return math.Log(p) - math.Log(h.mov[b])
		}
		for k, ok := range st.valid {
			if !ok {
				continue
			}
			eta := (st.m[k] - mlo) * deta
			if eta < 0 || eta > float64(bins-1) {
				continue
			}
			a, fa := fixedBins(k)
			b, _ := parzen(eta, bins)
			var d float64
			for i, wa := range [2]float64{1 - fa, fa} {
				if wa == 0 {
					continue
				}
				d += wa * (logRatio(a+i, b+1) - logRatio(a+i, b))
			}
			// d(-MI)/dm
			coef[k] = -w * deta * d
		}
	}
	return -mi, coef, nil
}
