package model

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicateModel is returned when two models are registered under one name.
	ErrDuplicateModel = errors.New("backref: model already registered")

	// ErrValidation matches every *ValidationError with errors.Is.
	ErrValidation = errors.New("backref: validation failed")
)

// FieldError is a failed validator on one path.
type FieldError struct {
	Path    string
	Message string
}

// ValidationError is returned by Save when one or more validators rejected the document.
type ValidationError struct {
	// Model is the name of the model being saved.
	Model string

	// Errors lists the failed paths, sorted by path.
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Model)
	b.WriteString(" validation failed: ")
	for i, fe := range e.Errors {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fe.Path)
		b.WriteString(": ")
		b.WriteString(fe.Message)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrValidation) true for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Field returns the error message for path, if any.
func (e *ValidationError) Field(path string) (string, bool) {
	for _, fe := range e.Errors {
		if fe.Path == path {
			return fe.Message, true
		}
	}
	return "", false
}
