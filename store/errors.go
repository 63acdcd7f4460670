package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist or is deleted.
	ErrNotFound = errors.New("backref: document not found")

	// ErrAlreadyExists is returned when inserting a document with an existing ID.
	ErrAlreadyExists = errors.New("backref: document already exists")

	// ErrEmptyID is returned when a document without an ID is written.
	ErrEmptyID = errors.New("backref: document id is empty")

	// ErrInvalidUpdate is returned for an update with an unknown operator or empty path.
	ErrInvalidUpdate = errors.New("backref: invalid update")
)
