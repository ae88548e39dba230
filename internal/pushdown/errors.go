package pushdown

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes rewrite failures.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a declared remote binding is unusable.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeUnsupportedOperation indicates a pushed step has no relational
	// translation. The classifier and the builder disagree; this is an
	// internal fault, not a user error.
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// ErrCodeReference indicates a field read downstream is missing from the
	// query's output columns.
	ErrCodeReference ErrorCode = "REFERENCE"
)

// ConfigurationError reports a data source whose remote binding cannot be
// resolved to a table.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCodeConfiguration, e.Message)
}

// UnsupportedOperationError reports a prefix step the builder cannot
// translate.
type UnsupportedOperationError struct {
	Step    int
	Type    string
	Message string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: transform[%d] (%s): %s", ErrCodeUnsupportedOperation, e.Step, e.Type, e.Message)
}

// ReferenceError reports downstream field references the query would drop.
type ReferenceError struct {
	// Missing are the referenced fields absent from Available, sorted.
	Missing []string

	// Available are the query's output columns.
	Available []string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: field(s) %s referenced downstream but not produced (output columns: %s)",
		ErrCodeReference, strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

// RewriteError attributes a failure to the data source being rewritten.
// Callers that fall back per source read Source and exclude it.
type RewriteError struct {
	Source string
	Err    error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("data source %q: %v", e.Source, e.Err)
}

func (e *RewriteError) Unwrap() error {
	return e.Err
}

// Code returns the category of the wrapped error.
func (e *RewriteError) Code() ErrorCode {
	return CodeOf(e.Err)
}

// CodeOf returns the category of err, or "" for errors not produced by the
// rewrite.
func CodeOf(err error) ErrorCode {
	switch {
	case IsConfigurationError(err):
		return ErrCodeConfiguration
	case IsUnsupportedOperation(err):
		return ErrCodeUnsupportedOperation
	case IsReferenceError(err):
		return ErrCodeReference
	default:
		return ""
	}
}

// FailedSource returns the data source a rewrite error is attributed to.
func FailedSource(err error) (string, bool) {
	var re *RewriteError
	if errors.As(err, &re) {
		return re.Source, true
	}
	return "", false
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsUnsupportedOperation reports whether err wraps an UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	var ue *UnsupportedOperationError
	return errors.As(err, &ue)
}

// IsReferenceError reports whether err wraps a ReferenceError.
func IsReferenceError(err error) bool {
	var re *ReferenceError
	return errors.As(err, &re)
}
