// Package errors provides structured error types for the benchmark harness.
// Every error carries a category, a code and a message so that callers can
// decide whether a failure ends the process or only the unit of work that
// raised it.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure class.
type ErrorCategory string

const (
	ErrCategoryStartup   ErrorCategory = "STARTUP"
	ErrCategoryResource  ErrorCategory = "RESOURCE"
	ErrCategoryIO        ErrorCategory = "IO"
	ErrCategoryIntegrity ErrorCategory = "INTEGRITY"
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Startup codes
	CodeEngineStart    = "ENGINE_START"
	CodeDeviceNotFound = "DEVICE_NOT_FOUND"
	CodeLoadFailed     = "LOAD_FAILED"
	CodeStartTimeout   = "START_TIMEOUT"

	// Resource codes
	CodeNilFilesystem       = "NIL_FILESYSTEM"
	CodeNilContext          = "NIL_CONTEXT"
	CodeContextActive       = "CONTEXT_ACTIVE"
	CodeContextReleased     = "CONTEXT_RELEASED"
	CodeContextsOutstanding = "CONTEXTS_OUTSTANDING"
	CodeEngineStopped       = "ENGINE_STOPPED"

	// IO codes
	CodeOpenFailed   = "OPEN_FAILED"
	CodeCloseFailed  = "CLOSE_FAILED"
	CodeReadFailed   = "READ_FAILED"
	CodeWriteFailed  = "WRITE_FAILED"
	CodeSyncFailed   = "SYNC_FAILED"
	CodeDeleteFailed = "DELETE_FAILED"
	CodeStatFailed   = "STAT_FAILED"

	// Integrity codes
	CodeMismatch = "MISMATCH"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BenchError is the structured error type used throughout the harness.
type BenchError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BenchError.
func New(category ErrorCategory, code, message string) *BenchError {
	return &BenchError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new BenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BenchError {
	return &BenchError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BenchError) WithDetails(details map[string]interface{}) *BenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal reports whether an error (or its chain) must end the process.
// Startup and resource failures are fatal at first use; I/O and integrity
// failures only end the worker that hit them.
func IsFatal(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryStartup, ErrCategoryResource:
		return true
	default:
		return false
	}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCategory(err error) ErrorCategory {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewStartupError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryStartup, code, message, cause)
}

func NewResourceError(code, message string) *BenchError {
	return New(ErrCategoryResource, code, message)
}

func NewIOError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryIO, code, message, cause)
}

func NewIntegrityError(message string) *BenchError {
	return New(ErrCategoryIntegrity, CodeMismatch, message)
}

func NewConfigError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Sentinels for errors.Is matching; only category and code are compared.
var (
	ErrNilFilesystem       = NewResourceError(CodeNilFilesystem, "filesystem handle is nil")
	ErrNilContext          = NewResourceError(CodeNilContext, "execution context is nil or released")
	ErrContextActive       = NewResourceError(CodeContextActive, "worker already holds a live context")
	ErrContextReleased     = NewResourceError(CodeContextReleased, "context already released")
	ErrContextsOutstanding = NewResourceError(CodeContextsOutstanding, "contexts still registered")
	ErrEngineStopped       = NewResourceError(CodeEngineStopped, "engine is not running")
	ErrMismatch            = NewIntegrityError("record mismatch")
)
