package service

import (
	"errors"
	"strings"
)

// Errors returned by the services.  Handlers map them to HTTP status codes
// with errors.Is; callers add context with fmt.Errorf("...: %w", err).
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrInvalidState = errors.New("invalid state")
	ErrDependency   = errors.New("dependency failed")
	ErrInternal     = errors.New("internal error")
	// ErrInconsistent reports that a multi-row write found the mirrored
	// link rows out of step with the record.  The transaction is rolled back.
	ErrInconsistent = errors.New("inconsistent certification state")
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(fields ...string) error { return &ValidationError{Fields: fields} }
