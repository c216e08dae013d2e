package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an error for retry and user-surfacing policy.
type ErrorCode string

const (
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"  // caller error, never retried
	CodeInvalidButton ErrorCode = "INVALID_BUTTON" // value outside the declared button set
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeAlreadyExist  ErrorCode = "ALREADY_EXISTS"
	CodeConflict      ErrorCode = "CONFLICT"     // optimistic version mismatch
	CodeTransient     ErrorCode = "TRANSIENT"    // external I/O, retry with backoff
	CodeUnauthorized  ErrorCode = "UNAUTHORIZED" // platform credentials rejected
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeDuplicate     ErrorCode = "DUPLICATE" // duplicate click / replayed update
	CodeBusy          ErrorCode = "BUSY"      // conversation lock not acquired
	CodeTimeout       ErrorCode = "TIMEOUT"   // event budget exceeded
	CodeFatal         ErrorCode = "FATAL"     // broken scenario graph, unknown action
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code alongside the message so callers can branch on
// policy without string matching.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an arbitrary code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError with a cause.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewInvalidInput(message string) *AppError  { return New(CodeInvalidInput, message) }
func NewNotFound(message string) *AppError      { return New(CodeNotFound, message) }
func NewAlreadyExists(message string) *AppError { return New(CodeAlreadyExist, message) }
func NewConflict(message string) *AppError      { return New(CodeConflict, message) }
func NewUnauthorized(message string) *AppError  { return New(CodeUnauthorized, message) }
func NewFatal(message string) *AppError         { return New(CodeFatal, message) }
func NewInternal(message string) *AppError      { return New(CodeInternal, message) }

// NewTransient wraps an external I/O failure that the caller may retry.
func NewTransient(message string, cause error) *AppError {
	return Wrap(CodeTransient, message, cause)
}

// CodeOf extracts the code from any error in the chain.
// Plain errors report CodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether any error in the chain carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func IsNotFound(err error) bool     { return Is(err, CodeNotFound) }
func IsConflict(err error) bool     { return Is(err, CodeConflict) }
func IsTransient(err error) bool    { return Is(err, CodeTransient) }
func IsUnauthorized(err error) bool { return Is(err, CodeUnauthorized) }
func IsInvalidInput(err error) bool { return Is(err, CodeInvalidInput) }
func IsFatal(err error) bool        { return Is(err, CodeFatal) }
