package model

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/backref/store"
)

// FieldType is the declared type of a schema path.
type FieldType int

const (
	// TypeAny is an untyped value.
	TypeAny FieldType = iota

	// TypeString is a plain string.
	TypeString

	// TypeRef is a single document id referencing another model.
	TypeRef

	// TypeArray is a collection whose element is described by FieldSpec.Of.
	TypeArray
)

var fieldTypeNames = map[FieldType]string{
	TypeAny:    "any",
	TypeString: "string",
	TypeRef:    "ref",
	TypeArray:  "array",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// UnmarshalYAML decodes a field type from its name.
func (t *FieldType) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	for ft, n := range fieldTypeNames {
		if n == name {
			*t = ft
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown field type %q", node.Line, name)
}

// MarshalYAML encodes a field type as its name.
func (t FieldType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// FieldSpec declares one schema path.
type FieldSpec struct {
	// Type is the declared type.
	Type FieldType `yaml:"type"`

	// Ref names the model a reference points at.
	Ref string `yaml:"ref,omitempty"`

	// ChildPath is the back-reference path on the referenced model.
	ChildPath string `yaml:"childPath,omitempty"`

	// ValidateExistence requires referenced documents to exist before save.
	ValidateExistence bool `yaml:"validateExistence,omitempty"`

	// Upsert creates missing referenced documents before save.
	Upsert bool `yaml:"upsert,omitempty"`

	// Of describes the elements of an array path.
	Of *FieldSpec `yaml:"of,omitempty"`
}

// Cardinality reports whether the path stores one value or a collection.
func (f FieldSpec) Cardinality() store.Cardinality {
	if f.Type == TypeArray || f.Of != nil {
		return store.Many
	}
	return store.One
}

// Schema declares the paths of a model.
type Schema struct {
	Paths map[string]FieldSpec `yaml:"paths"`
}

// Path returns the declaration of name.
func (s Schema) Path(name string) (FieldSpec, bool) {
	f, ok := s.Paths[name]
	return f, ok
}

// SetPaths returns the collection-valued paths in sorted order.
func (s Schema) SetPaths() []string {
	var paths []string
	for name, f := range s.Paths {
		if f.Cardinality() == store.Many {
			paths = append(paths, name)
		}
	}
	sort.Strings(paths)
	return paths
}
