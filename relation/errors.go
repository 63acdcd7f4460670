package relation

import "errors"

var (
	// ErrConfiguration matches every *ConfigurationError with errors.Is.
	ErrConfiguration = errors.New("backref: invalid relationship configuration")

	// ErrUnknownModel is returned when a relationship's ref names no registered model.
	ErrUnknownModel = errors.New("backref: relationship target model not registered")

	// ErrUndeclaredBackReference is returned when the target model does not declare childPath.
	ErrUndeclaredBackReference = errors.New("backref: back-reference path not declared on target")

	// ErrUnknownPath is returned when a synchronization names a path that is not a relationship.
	ErrUnknownPath = errors.New("backref: not a relationship path")
)

// ConfigurationError reports a relationship that cannot be attached.
// No hooks are registered on the model when Attach returns one.
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrConfiguration) true.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
