// Package errcode defines the typed error codes surfaced at every component
// boundary of the runtime. Components return *Error values instead of
// throwing; callers branch on Code.
package errcode

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a failure class.
type Code string

const (
	// NotFound indicates an unknown tool, conversation, or execution id.
	NotFound Code = "NOT_FOUND"

	// AlreadyExists indicates a duplicate tool id on register.
	AlreadyExists Code = "ALREADY_EXISTS"

	// ValidationFailed indicates schema validation errors; the error carries
	// the field-level detail list.
	ValidationFailed Code = "VALIDATION_FAILED"

	// PolicyViolation indicates a security gate denial.
	PolicyViolation Code = "POLICY_VIOLATION"

	// RateLimited indicates a rate-limiter denial.
	RateLimited Code = "RATE_LIMITED"

	// ResourceLimitExceeded indicates a memory, time, or other cap was hit.
	ResourceLimitExceeded Code = "RESOURCE_LIMIT_EXCEEDED"

	// ExecutionTimeout indicates a sandbox or tool run exceeded its deadline.
	ExecutionTimeout Code = "EXECUTION_TIMEOUT"

	// ExecutionError indicates an unhandled failure inside executed code.
	ExecutionError Code = "EXECUTION_ERROR"

	// MemoryLimitExceeded indicates a sandbox run exceeded its memory cap.
	MemoryLimitExceeded Code = "MEMORY_LIMIT_EXCEEDED"

	// ToolError indicates a tool handler returned failure or panicked.
	ToolError Code = "TOOL_ERROR"

	// InvalidJSON indicates planner or handler output could not be parsed.
	InvalidJSON Code = "INVALID_JSON"

	// Cancelled indicates cooperative cancellation.
	Cancelled Code = "CANCELLED"

	// ToolNotFound indicates a planned call referenced an unregistered tool.
	ToolNotFound Code = "TOOL_NOT_FOUND"
)

// Error is a typed runtime error carrying a Code and optional detail strings.
type Error struct {
	Code    Code
	Message string
	Details []string
	Cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches detail strings (for example per-field validation
// messages) and returns the receiver for chaining.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code, enabling
// errors.Is comparisons against sentinel values.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the Code from an error chain, or "" if the chain carries
// no *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
