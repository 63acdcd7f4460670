package store

import (
	"fmt"
	"slices"
)

// Op is a multi-document update operator.
type Op int

const (
	// OpSet replaces the field with Value.
	OpSet Op = iota + 1

	// OpUnset removes the field.
	OpUnset

	// OpAddToSet adds Value to a set field unless already present.
	OpAddToSet

	// OpPull removes every occurrence of Value from a set field.
	OpPull
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpUnset:
		return "unset"
	case OpAddToSet:
		return "addToSet"
	case OpPull:
		return "pull"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Update is a single-field update applied to every matched document.
type Update struct {
	Op    Op
	Path  string
	Value string
}

// Validate checks that the update can be executed.
func (u Update) Validate() error {
	if u.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidUpdate)
	}
	switch u.Op {
	case OpSet, OpUnset, OpAddToSet, OpPull:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidUpdate, u.Op)
	}
}

// Apply mutates doc and reports whether it changed.
// Backends without native operators use it as the reference semantics.
func (u Update) Apply(doc *Document) bool {
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	current, exists := doc.Fields[u.Path]

	switch u.Op {
	case OpSet:
		if s, ok := current.(string); ok && s == u.Value {
			return false
		}
		doc.Fields[u.Path] = u.Value
		return true

	case OpUnset:
		if !exists {
			return false
		}
		delete(doc.Fields, u.Path)
		return true

	case OpAddToSet:
		ids := IDs(current)
		if slices.Contains(ids, u.Value) {
			return false
		}
		doc.Fields[u.Path] = append(ids, u.Value)
		return true

	case OpPull:
		if !exists {
			return false
		}
		ids := rawIDs(current)
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != u.Value {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(ids) {
			return false
		}
		doc.Fields[u.Path] = kept
		return true
	}
	return false
}

// Match selects documents whose field equals Value or, for a set field, contains it.
type Match struct {
	Path  string
	Value string
}

// Filter selects documents for Find and UpdateMany. Clauses are ANDed;
// an empty filter matches every document.
type Filter struct {
	// IDs restricts matches to these ids when non-empty.
	IDs []string

	// ExcludeIDs removes these ids from the match.
	ExcludeIDs []string

	// Contains requires the field to hold the value.
	Contains *Match
}

// Matches reports whether doc satisfies every clause of the filter.
func (f Filter) Matches(doc *Document) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, doc.ID) {
		return false
	}
	if slices.Contains(f.ExcludeIDs, doc.ID) {
		return false
	}
	if f.Contains != nil && !Holds(doc.Get(f.Contains.Path), f.Contains.Value) {
		return false
	}
	return true
}

// Holds reports whether a single-id or set-of-ids value contains id.
func Holds(value any, id string) bool {
	return slices.Contains(rawIDs(value), id)
}

// IDs normalizes a relationship value into a de-duplicated list of ids.
// A single id is wrapped; nil and empty strings yield nil.
func IDs(value any) []string {
	raw := rawIDs(value)
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func rawIDs(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		out := make([]string, 0, len(v))
		for _, id := range v {
			if id != "" {
				out = append(out, id)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if id := idString(item); id != "" {
				out = append(out, id)
			}
		}
		return out
	default:
		if id := idString(v); id != "" {
			return []string{id}
		}
		return nil
	}
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Difference returns the ids of a that are not in b, preserving the order of a.
func Difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	exclude := make(map[string]struct{}, len(b))
	for _, id := range b {
		exclude[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := exclude[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
