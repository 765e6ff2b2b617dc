package model

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrRemote     = errors.New("remote source failure")
)

// ValidationError reports malformed input. It is raised before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

//nolint:errorlint
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an id that resolves to nothing.
type NotFoundError struct {
	Kind string
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %d not found", e.Kind, e.ID)
}

//nolint:errorlint
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RemoteError surfaces a failed call to the remote source. Status is zero
// when no HTTP response was received.
type RemoteError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s %s: status %d", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

//nolint:errorlint
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote || (target == ErrNotFound && e.Status == http.StatusNotFound)
}
