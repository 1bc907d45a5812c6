package output

import (
	"errors"
	"fmt"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: CodeAuth}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

// ErrAuth reports that no credential is stored.
func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: octobridge auth login",
	}
}

// ErrAuthFlow reports a failed authorization attempt.
func ErrAuthFlow(msg string, cause error) *Error {
	return &Error{
		Code:    CodeAuthFlow,
		Message: msg,
		Cause:   cause,
	}
}

func ErrAuthTimeout() *Error {
	return &Error{
		Code:    CodeAuthTimeout,
		Message: "authorization timeout",
		Hint:    "No redirect was observed before the deadline",
	}
}

// ErrUpstream reports a non-2xx response from the provider.
func ErrUpstream(status int, msg string) *Error {
	return &Error{
		Code:       CodeUpstream,
		Message:    msg,
		HTTPStatus: status,
	}
}

func ErrPersistence(cause error) *Error {
	msg := "credential store failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    CodePersistence,
		Message: msg,
		Cause:   cause,
	}
}

func ErrUnknownAction() *Error {
	return &Error{Code: CodeUnknownAction, Message: "Unknown action"}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:    CodeNetwork,
		Message: "Network error",
		Hint:    cause.Error(),
		Cause:   cause,
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeInternal,
		Message: err.Error(),
		Cause:   err,
	}
}
