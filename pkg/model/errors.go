package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by a JobStore when no document has the requested id.
var ErrNotFound = errors.New("job not found")

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFoundCode ErrorCode = "NOT_FOUND"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the REST API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFoundCode,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// ParseError reports a submission script that could not be turned into
// SubmissionOptions. Missing lists every absent required field at once.
type ParseError struct {
	Missing []string // Required fields that never appeared
	Line    int      // 1-based line of a malformed directive, 0 if none
	Content string   // The malformed line
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d (%s): %s", e.Line, e.Content, e.Reason)
	}
	return fmt.Sprintf("missing fields %s while parsing the job script", strings.Join(e.Missing, ", "))
}

// SubmissionError wraps a failure in one stage of Submit.
type SubmissionError struct {
	Stage   string // "transfer", "parse", "build" or "insert"
	WorkDir string
	Script  string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s in %s: %s: %v", e.Script, e.WorkDir, e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// QueryError reports requested job ids that the store does not know. It is
// distinct from a query that simply matches nothing.
type QueryError struct {
	JobIDs []string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query jobs %s: %v", strings.Join(e.JobIDs, ", "), e.Err)
	}
	return fmt.Sprintf("no job found for ids: %s", strings.Join(e.JobIDs, ", "))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// TransportError reports a remote command that failed to run or exited non-zero.
type TransportError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote command %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("remote command %q exited %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
