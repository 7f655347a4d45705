package transform

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"volreg/pkg/volume"
)

// FieldSaver stores a displacement field next to a transform file and returns
// the reference written into the document.
type FieldSaver func(field *volume.Image) (string, error)

// FieldLoader resolves a reference written by a FieldSaver.
type FieldLoader func(ref string) (*volume.Image, error)

// ErrFieldStorage is returned when a document needs a field but no saver or
// loader was supplied.
var ErrFieldStorage = errors.New("transform: displacement field storage not configured")

type domainDoc struct {
	Origin    []float64 `yaml:"origin"`
	Extent    []float64 `yaml:"extent"`
	Direction []float64 `yaml:"direction"`
}

type document struct {
	Kind       Kind        `yaml:"kind"`
	Dim        int         `yaml:"dim"`
	Family     string      `yaml:"family,omitempty"`
	Center     []float64   `yaml:"center,omitempty"`
	Parameters []float64   `yaml:"parameters,omitempty"`
	Mesh       []int       `yaml:"mesh,omitempty"`
	Domain     *domainDoc  `yaml:"domain,omitempty"`
	Field      string      `yaml:"field,omitempty"`
	Transforms []*document `yaml:"transforms,omitempty"`
}

// Marshal encodes t as YAML. Displacement fields are handed to save, which
// may be nil when t contains none.
func Marshal(t Transform, save FieldSaver) ([]byte, error) {
	doc, err := encode(t, save)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// Unmarshal decodes a document written by Marshal.
func Unmarshal(data []byte, load FieldLoader) (Transform, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("transform: failed to parse document: %w", err)
	}
	return decode(&doc, load)
}

func encode(t Transform, save FieldSaver) (*document, error) {
	doc := &document{Kind: t.Kind(), Dim: t.Dim()}
	switch v := t.(type) {
	case Identity:
	case *Linear:
		doc.Family = v.family.String()
		doc.Center = append([]float64(nil), v.center[:]...)
		doc.Parameters = v.Parameters()
	case *BSpline:
		doc.Mesh = append([]int(nil), v.mesh[:v.domain.Dim]...)
		doc.Domain = &domainDoc{
			Origin:    append([]float64(nil), v.domain.Origin[:]...),
			Extent:    append([]float64(nil), v.domain.Extent[:]...),
			Direction: append([]float64(nil), v.domain.Direction[:]...),
		}
		doc.Parameters = v.Parameters()
	case *DisplacementField:
		if save == nil {
			return nil, ErrFieldStorage
		}
		ref, err := save(v.field)
		if err != nil {
			return nil, fmt.Errorf("transform: failed to save displacement field: %w", err)
		}
		doc.Field = ref
	case *Composite:
		for _, inner := range v.transforms {
			d, err := encode(inner, save)
			if err != nil {
				return nil, err
			}
			doc.Transforms = append(doc.Transforms, d)
		}
	default:
		return nil, fmt.Errorf("transform: cannot encode %T", t)
	}
	return doc, nil
}

func toArray3(name string, s []float64) ([3]float64, error) {
	var a [3]float64
	if len(s) != 3 {
		return a, fmt.Errorf("transform: %s must have 3 values, got %d", name, len(s))
	}
	copy(a[:], s)
	return a, nil
}

func decode(doc *document, load FieldLoader) (Transform, error) {
	switch doc.Kind {
	case KindIdentity:
		return NewIdentity(doc.Dim), nil
	case KindLinear:
		family, ok := FamilyByName(doc.Family)
		if !ok {
			return nil, fmt.Errorf("transform: unknown family %q", doc.Family)
		}
		center, err := toArray3("center", doc.Center)
		if err != nil {
			return nil, err
		}
		return NewLinearWithParameters(family, doc.Dim, center, doc.Parameters)
	case KindBSpline:
		if doc.Domain == nil {
			return nil, fmt.Errorf("transform: bspline document has no domain")
		}
		var dom Domain
		dom.Dim = doc.Dim
		var err error
		if dom.Origin, err = toArray3("origin", doc.Domain.Origin); err != nil {
			return nil, err
		}
		if dom.Extent, err = toArray3("extent", doc.Domain.Extent); err != nil {
			return nil, err
		}
		if len(doc.Domain.Direction) != 9 {
			return nil, fmt.Errorf("transform: direction must have 9 values, got %d", len(doc.Domain.Direction))
		}
		copy(dom.Direction[:], doc.Domain.Direction)
		if len(doc.Mesh) != doc.Dim {
			return nil, fmt.Errorf("transform: mesh must have %d values, got %d", doc.Dim, len(doc.Mesh))
		}
		var mesh [3]int
		copy(mesh[:], doc.Mesh)
		b, err := NewBSpline(dom, mesh)
		if err != nil {
			return nil, err
		}
		p, err := b.WithParameters(doc.Parameters)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindDisplacementField:
		if load == nil {
			return nil, ErrFieldStorage
		}
		field, err := load(doc.Field)
		if err != nil {
			return nil, fmt.Errorf("transform: failed to load displacement field %q: %w", doc.Field, err)
		}
		return NewDisplacementField(field)
	case KindComposite:
		ts := make([]Transform, 0, len(doc.Transforms))
		for _, d := range doc.Transforms {
			t, err := decode(d, load)
			if err != nil {
				return nil, err
			}
			ts = append(ts, t)
		}
		return NewComposite(ts...)
	default:
		return nil, fmt.Errorf("transform: unknown kind %q", doc.Kind)
	}
}
