// Package relation keeps both sides of a document relationship consistent.
//
// A relationship path on an owning model references documents of a target
// model by id. Each target records the owners pointing at it under its
// back-reference path (childPath). Attach binds a model so that every save
// moves its back-references from the old targets to the new ones, sweeps
// targets that still claim it without being referenced, and every remove
// erases it from all targets.
//
//	rels, err := relation.Attach(child, relation.Config{
//		RelationshipPathName: relation.PathNames{"parent"},
//	})
//
// Back-reference updates are single multi-document operations on the target
// collection and are idempotent, so a failed save can be repaired by saving
// the owner again.
package relation
