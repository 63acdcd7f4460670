package relation

import (
	"fmt"
	"sync/atomic"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
)

// Action is the direction of a back-reference update.
type Action int

const (
	// ActionAdd records the document on its targets.
	ActionAdd Action = iota + 1

	// ActionRemove erases the document from its targets.
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// operation maps an action onto the operator matching the back-reference cardinality.
func operation(backRef store.Cardinality, action Action) store.Op {
	if backRef == store.One {
		if action == ActionAdd {
			return store.OpSet
		}
		return store.OpUnset
	}
	if action == ActionAdd {
		return store.OpAddToSet
	}
	return store.OpPull
}

// Descriptor is the resolved configuration of one relationship path.
// It is immutable after Resolve apart from the cached back-reference cardinality.
type Descriptor struct {
	// Path is the relationship path on the owning model.
	Path string

	// Cardinality is One for a single reference and Many for a collection.
	Cardinality store.Cardinality

	// Ref names the target model.
	Ref string

	// ChildPath is the back-reference path on the target model.
	ChildPath string

	// ValidateExistence requires targets to exist before save.
	ValidateExistence bool

	// Upsert creates missing targets before save.
	Upsert bool

	// Cascade resaves updated targets through their model.
	Cascade bool

	backRef atomic.Int32
}

// Resolve builds the descriptor of path from the owning model's schema.
// A collection path reads its options from the element spec.
func Resolve(schema model.Schema, path string) (*Descriptor, error) {
	spec, ok := schema.Path(path)
	if !ok {
		return nil, &ConfigurationError{Path: path, Reason: "No relationship path defined: " + path}
	}

	card := spec.Cardinality()
	opts := spec
	if card == store.Many {
		if spec.Of == nil {
			return nil, &ConfigurationError{Path: path, Reason: "Missing options for relationship " + path}
		}
		opts = *spec.Of
	}

	if opts.Ref == "" {
		return nil, &ConfigurationError{Path: path, Reason: "Relationship " + path + " requires a ref"}
	}
	if opts.ChildPath == "" {
		return nil, &ConfigurationError{Path: path, Reason: "Relationship " + path + " requires a childPath for its parent"}
	}

	return &Descriptor{
		Path:              path,
		Cardinality:       card,
		Ref:               opts.Ref,
		ChildPath:         opts.ChildPath,
		ValidateExistence: opts.ValidateExistence,
		Upsert:            opts.Upsert,
	}, nil
}

// Message is the validation message reported when a target is missing.
func (d *Descriptor) Message() string {
	return "Relationship entity " + d.Ref + " does not exist"
}

// BackReference returns the cached back-reference cardinality, or zero if not yet resolved.
func (d *Descriptor) BackReference() store.Cardinality {
	return store.Cardinality(d.backRef.Load())
}

// target looks up the target model and the cardinality of its back-reference path.
func (d *Descriptor) target(reg *model.Registry) (*model.Model, store.Cardinality, error) {
	if reg == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownModel, d.Ref)
	}
	m, ok := reg.Lookup(d.Ref)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownModel, d.Ref)
	}
	if c := d.BackReference(); c != 0 {
		return m, c, nil
	}
	c, ok := m.PathCardinality(d.ChildPath)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s.%s", ErrUndeclaredBackReference, d.Ref, d.ChildPath)
	}
	d.backRef.Store(int32(c))
	return m, c, nil
}
