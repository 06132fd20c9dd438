package entity

import (
	"errors"
	"fmt"
	"time"
)

// MigrationErrorKind classifies a migration failure. The kind decides the
// propagation policy: transport failures degrade to skipped pages, store
// failures are isolated per chunk, validation and oracle failures abort
// the dependent step.
type MigrationErrorKind string

const (
	// MigrationErrorKindTransport covers an unreachable source system or a
	// non-2xx page response.
	MigrationErrorKindTransport MigrationErrorKind = "transport"

	// MigrationErrorKindValidation covers malformed oracle output and
	// heterogeneous chunk input.
	MigrationErrorKindValidation MigrationErrorKind = "validation"

	// MigrationErrorKindStore covers constraint violations and
	// connectivity loss during a chunk transaction.
	MigrationErrorKindStore MigrationErrorKind = "store"

	// MigrationErrorKindReference covers foreign entities that could not
	// be mapped; these surface as warnings, not run failures.
	MigrationErrorKindReference MigrationErrorKind = "reference"

	// MigrationErrorKindOracle covers oracle unavailability and
	// oracle-reported domain errors.
	MigrationErrorKindOracle MigrationErrorKind = "oracle"
)

// MigrationError is a tagged migration failure. It carries the error kind,
// an optional native code (HTTP status, postgres error code, oracle error
// tag) and enough context to place the failure within a run.
type MigrationError struct {
	Kind      MigrationErrorKind     `json:"kind"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the proximate cause for errors.Is/As.
func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// WithCode attaches a native error code.
func (e *MigrationError) WithCode(code string) *MigrationError {
	e.Code = code
	return e
}

// WithDetail attaches one context value.
func (e *MigrationError) WithDetail(key string, value interface{}) *MigrationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewMigrationError builds a tagged error of the given kind.
func NewMigrationError(kind MigrationErrorKind, format string, args ...interface{}) *MigrationError {
	return &MigrationError{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
		Retryable: kind == MigrationErrorKindTransport,
	}
}

// WrapMigrationError tags an underlying error with a kind.
func WrapMigrationError(kind MigrationErrorKind, cause error, format string, args ...interface{}) *MigrationError {
	err := NewMigrationError(kind, format, args...)
	err.Cause = cause
	return err
}

// ErrorKind extracts the migration error kind from an error chain, or ""
// when the error is untagged.
func ErrorKind(err error) MigrationErrorKind {
	var me *MigrationError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}
