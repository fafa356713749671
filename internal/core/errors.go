package core

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input to a create or update call.
// It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced task or issue that does not exist.
// Callers treat it as a stop condition, not a failure.
type NotFoundError struct {
	Kind string // "task" or "issue"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TransientServiceError wraps any other failure surfaced by the tracker or
// the task store. The engine reports it and moves on; retrying is the
// collaborator's business.
type TransientServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
