// Package bsondoc converts BSON values into the plain Go types held by
// store.Document.
package bsondoc

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Fields converts a decoded BSON document into document fields, skipping skip.
func Fields(m bson.M, skip string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == skip {
			continue
		}
		out[k] = Plain(v)
	}
	return out
}

// Plain converts BSON container types into slices and maps.
func Plain(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Plain(item)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Plain(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Plain(e.Value)
		}
		return out
	default:
		return v
	}
}
