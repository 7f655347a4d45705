package transform

import "fmt"

// Composite chains transforms. Transforms are stored in the order they were
// added; TransformPoint applies the last one first, so the first element is
// the outermost mapping.
type Composite struct {
	dim        int
	transforms []Transform
}

// NewComposite builds a chain from the given transforms, which must share a
// dimension.
func NewComposite(ts ...Transform) (*Composite, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("transform: empty composite")
	}
	dim := ts[0].Dim()
	for i, t := range ts {
		if t == nil {
			return nil, fmt.Errorf("transform: composite element %d is nil", i)
		}
		if t.Dim() != dim {
			return nil, fmt.Errorf("transform: composite mixes %d-D and %d-D transforms", dim, t.Dim())
		}
	}
	return &Composite{dim: dim, transforms: append([]Transform(nil), ts...)}, nil
}

// Compose returns initial ∘ optimized: points go through the optimized
// transform first and the initializer second.
func Compose(initial, optimized Transform) (*Composite, error) {
	return NewComposite(initial, optimized)
}

func (c *Composite) Dim() int   { return c.dim }
func (c *Composite) Kind() Kind { return KindComposite }

// Transforms returns a copy of the chain in insertion order.
func (c *Composite) Transforms() []Transform {
	return append([]Transform(nil), c.transforms...)
}

// Len returns the number of chained transforms.
func (c *Composite) Len() int { return len(c.transforms) }

func (c *Composite) TransformPoint(p [3]float64) [3]float64 {
	for i := len(c.transforms) - 1; i >= 0; i-- {
		p = c.transforms[i].TransformPoint(p)
	}
	return p
}

// Then returns a new chain in which t is applied to points before c.
func (c *Composite) Then(t Transform) (*Composite, error) {
	return NewComposite(append(c.Transforms(), t)...)
}
