package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectType identifies how a data object's Path is to be read.
type ObjectType string

const (
	// TypeDICOM is a directory holding one DICOM series.
	TypeDICOM ObjectType = "DICOM"

	// TypeFile is a single image file (MetaImage or NIfTI).
	TypeFile ObjectType = "FILE"
)

// ObjectID uniquely identifies a data object.
type ObjectID string

// NewObjectID generates a new UUID v4 ObjectID.
func NewObjectID() ObjectID {
	return ObjectID(uuid.New().String())
}

func (id ObjectID) String() string { return string(id) }

// IsValid reports whether id is a well-formed UUID.
func (id ObjectID) IsValid() bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(string(id))
	return err == nil
}

// DataObject is an input or output of a processing case. Outputs point at the
// input they were derived from through Parent.
type DataObject struct {
	ID     ObjectID
	Type   ObjectType
	Path   string
	Parent *DataObject

	// Meta carries free-form annotations such as the structure name of an
	// output mask.
	Meta map[string]string
}

// NewDataObject creates a root data object.
func NewDataObject(typ ObjectType, path string) (*DataObject, error) {
	if typ != TypeDICOM && typ != TypeFile {
		return nil, fmt.Errorf("unknown data object type %q", typ)
	}
	if path == "" {
		return nil, fmt.Errorf("data object path is empty")
	}
	return &DataObject{ID: NewObjectID(), Type: typ, Path: path, Meta: map[string]string{}}, nil
}

// Derive returns a FILE object at path whose parent is d.
func (d *DataObject) Derive(path string, meta map[string]string) *DataObject {
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return &DataObject{ID: NewObjectID(), Type: TypeFile, Path: path, Parent: d, Meta: m}
}

// Lineage returns the chain from d up to its root, d first.
func (d *DataObject) Lineage() []*DataObject {
	var out []*DataObject
	for o := d; o != nil; o = o.Parent {
		out = append(out, o)
	}
	return out
}

// Root returns the original input d was derived from.
func (d *DataObject) Root() *DataObject {
	o := d
	for o.Parent != nil {
		o = o.Parent
	}
	return o
}
