// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrMalformedDocument   = errors.New("malformed statement document")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrOversoldLots        = errors.New("redemption exceeds recorded lots")
	ErrStatementNotFound   = errors.New("statement not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
)

// StatementError is a failure tied to one statement document.
type StatementError struct {
	StatementID string
	Stage       string
	Err         error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement error [%s] %s: %v", e.StatementID, e.Stage, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// NewStatementError creates a new StatementError.
func NewStatementError(statementID, stage string, err error) *StatementError {
	return &StatementError{
		StatementID: statementID,
		Stage:       stage,
		Err:         err,
	}
}

// UpstreamError is a failed call to the NAV provider. It always matches
// ErrUpstreamUnavailable.
type UpstreamError struct {
	AMFI       string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream error [%s]", e.AMFI)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamUnavailable}
	}
	return []error{ErrUpstreamUnavailable, e.Err}
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(amfi string, statusCode int, message string, err error) *UpstreamError {
	return &UpstreamError{
		AMFI:       amfi,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// PersistenceError reports records of a batch that could not be written.
// It always matches ErrPersistenceConflict.
type PersistenceError struct {
	Kind   string
	Failed int
	Total  int
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persistence error [%s]: %d of %d records failed: %v", e.Kind, e.Failed, e.Total, e.Err)
	}
	return fmt.Sprintf("persistence error [%s]: %d of %d records failed", e.Kind, e.Failed, e.Total)
}

func (e *PersistenceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPersistenceConflict}
	}
	return []error{ErrPersistenceConflict, e.Err}
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(kind string, failed, total int, err error) *PersistenceError {
	return &PersistenceError{
		Kind:   kind,
		Failed: failed,
		Total:  total,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
