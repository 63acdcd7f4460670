// Package store defines the document-store vocabulary shared by the model,
// the relation engine and the storage backends.
//
// Backends are schemaless: a [Document] is an id plus a map of fields. The
// only write vocabulary the relation engine needs is a multi-document
// [Update] matched by a [Filter]:
//
//	store.Filter{IDs: []string{"p1", "p2"}}
//	store.Update{Op: store.OpAddToSet, Path: "children", Value: "c1"}
//
// # Operators
//
//   - [OpSet] - replace the field with a single id
//   - [OpUnset] - remove the field
//   - [OpAddToSet] - add an id to a set field (no-op if present)
//   - [OpPull] - remove every occurrence of an id from a set field
//
// # Backends
//
// Implementations of [Collection] live in sub-packages:
//
//   - badgerstore - embedded BadgerDB, BSON-encoded documents
//   - dynamo - DynamoDB tables with TTL soft delete
//   - mongostore - MongoDB collections using native update operators
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist or is deleted
//   - [ErrAlreadyExists] - insert of an id that already exists
//   - [ErrEmptyID] - document without an id
//   - [ErrInvalidUpdate] - unknown update operator
package store
