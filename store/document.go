package store

import (
	"context"
	"fmt"
	"sort"
)

// Cardinality tells whether a field holds a single id or a set of ids.
type Cardinality int

const (
	// One is a field holding at most one id.
	One Cardinality = iota + 1

	// Many is a field holding a set of ids.
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// Document is a schemaless document with a stable identity.
//
// Modification tracking is in-memory only; backends persist ID and Fields.
type Document struct {
	// ID is the document identity.
	ID string

	// Fields maps field names to values.
	Fields map[string]any

	persisted bool
	modified  map[string]struct{}
}

// NewDocument returns an unsaved document.
func NewDocument(id string) *Document {
	return &Document{
		ID:       id,
		Fields:   make(map[string]any),
		modified: make(map[string]struct{}),
	}
}

// Loaded returns a document as read from a backend: persisted and unmodified.
func Loaded(id string, fields map[string]any) *Document {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Document{
		ID:        id,
		Fields:    fields,
		persisted: true,
		modified:  make(map[string]struct{}),
	}
}

// Get returns the value stored at path, or nil.
func (d *Document) Get(path string) any {
	return d.Fields[path]
}

// Set stores value at path and marks it modified.
func (d *Document) Set(path string, value any) {
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[path] = value
	d.MarkModified(path)
}

// Unset removes path and marks it modified.
func (d *Document) Unset(path string) {
	delete(d.Fields, path)
	d.MarkModified(path)
}

// IsModified reports whether path changed since the document was loaded or last saved.
func (d *Document) IsModified(path string) bool {
	_, ok := d.modified[path]
	return ok
}

// MarkModified flags path as changed even if its value was mutated in place.
func (d *Document) MarkModified(path string) {
	if d.modified == nil {
		d.modified = make(map[string]struct{})
	}
	d.modified[path] = struct{}{}
}

// ModifiedPaths returns the modified paths in sorted order.
func (d *Document) ModifiedPaths() []string {
	paths := make([]string, 0, len(d.modified))
	for p := range d.modified {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsNew reports whether the document has never been persisted.
func (d *Document) IsNew() bool {
	return !d.persisted
}

// MarkPersisted records that the document exists in its backend while keeping
// pending modifications.
func (d *Document) MarkPersisted() {
	d.persisted = true
}

// ClearModified marks the document as persisted with no pending changes.
func (d *Document) ClearModified() {
	d.persisted = true
	d.modified = make(map[string]struct{})
}

// Clone returns a copy that shares no maps with d. Slice values are copied one level deep.
func (d *Document) Clone() *Document {
	c := &Document{
		ID:        d.ID,
		Fields:    make(map[string]any, len(d.Fields)),
		persisted: d.persisted,
		modified:  make(map[string]struct{}, len(d.modified)),
	}
	for k, v := range d.Fields {
		c.Fields[k] = cloneValue(v)
	}
	for k := range d.modified {
		c.modified[k] = struct{}{}
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		return append([]any(nil), t...)
	default:
		return v
	}
}

// Collection is a named set of documents in a backend.
//
// Implementations must be safe for concurrent use.
type Collection interface {
	// Name returns the collection (table) name.
	Name() string

	// FindByID returns the document with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Document, error)

	// Find returns every document matched by the filter.
	Find(ctx context.Context, filter Filter) ([]*Document, error)

	// Insert writes a new document, failing with ErrAlreadyExists if the id is taken.
	Insert(ctx context.Context, doc *Document) error

	// Save writes the document, replacing any stored version.
	Save(ctx context.Context, doc *Document) error

	// UpdateMany applies update to every document matched by filter and
	// returns the number of matched documents.
	UpdateMany(ctx context.Context, filter Filter, update Update) (int64, error)

	// Delete removes the document with the given id. Deleting a missing
	// document is not an error.
	Delete(ctx context.Context, id string) error
}
