// Package model is the host document model the relation engine attaches to.
//
// A [Model] binds a [Schema] to a [store.Collection] and runs field validators
// and lifecycle hooks around persistence. Models are registered by name in a
// [Registry]; a schema path declaring a ref names another model of the same
// registry.
//
// # Schemas
//
// A single reference and a collection of references are declared differently:
//
//	model.Schema{Paths: map[string]model.FieldSpec{
//	    "parent":  {Type: model.TypeRef, Ref: "Parent", ChildPath: "children"},
//	    "parents": {Type: model.TypeArray, Of: &model.FieldSpec{Type: model.TypeRef, Ref: "Parent", ChildPath: "children"}},
//	}}
//
// Schemas decode from YAML, with field types spelled "any", "string", "ref"
// and "array".
//
// # Lifecycle
//
// Save runs the validators of modified paths, then the pre-save hooks, then
// the store write. Hooks receive a proceed callback: the write waits until
// every hook proceeded, while the hooks themselves may keep working until
// Save returns. Remove does the same around Delete.
//
// # Errors
//
//   - [*ValidationError] - one or more validators returned false
//   - [ErrDuplicateModel] - a model name was registered twice
package model
