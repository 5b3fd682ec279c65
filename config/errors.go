package config

import "fmt"

// MissingKeyError is raised by a typed getter when the key is absent and no
// default was supplied.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string { return fmt.Sprintf("config: missing key %q", e.Key) }

// NewMissingKeyError builds a MissingKeyError.
func NewMissingKeyError(key string) *MissingKeyError { return &MissingKeyError{Key: key} }

// InvalidTypeError is raised by a typed getter when the stored Value's kind
// does not convert to the requested type.
type InvalidTypeError struct {
	Key      string
	Expected string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("config: key %q cannot be read as %s", e.Key, e.Expected)
}

// NewInvalidTypeError builds an InvalidTypeError.
func NewInvalidTypeError(key, expected string) *InvalidTypeError {
	return &InvalidTypeError{Key: key, Expected: expected}
}

// InvalidValueError is raised when a value is well-typed but semantically
// invalid for its use (e.g. getPath(checkExists=true) on a path that does
// not exist).
type InvalidValueError struct {
	Key    string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("config: key %q has invalid value: %s", e.Key, e.Reason)
}

// NewInvalidValueError builds an InvalidValueError.
func NewInvalidValueError(key, reason string) *InvalidValueError {
	return &InvalidValueError{Key: key, Reason: reason}
}
