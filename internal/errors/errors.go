// Package errors provides structured error types for the sweepdb system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryBackend    ErrorCategory = "BACKEND"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryWriter     ErrorCategory = "WRITER"
	ErrCategoryReader     ErrorCategory = "READER"
	ErrCategoryExport     ErrorCategory = "EXPORT"
	ErrCategoryBackup     ErrorCategory = "BACKUP"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidSchema = "INVALID_SCHEMA"
	CodeInvalidValue  = "INVALID_VALUE"

	// Backend codes
	CodeIOFailure  = "IO_FAILURE"
	CodeContention = "CONTENTION"

	// Catalog codes
	CodeExperimentNotFound = "EXPERIMENT_NOT_FOUND"
	CodeRunNotFound        = "RUN_NOT_FOUND"
	CodeSnapshotNotFound   = "SNAPSHOT_NOT_FOUND"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"

	// Writer codes
	CodeWriterConflict  = "WRITER_CONFLICT"
	CodeSchemaViolation = "SCHEMA_VIOLATION"
	CodeRunFinalized    = "RUN_FINALIZED"

	// Backup codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SweepError is the structured error type used throughout the system.
type SweepError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SweepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SweepError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SweepError) Is(target error) bool {
	var t *SweepError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SweepError.
func New(category ErrorCategory, code, message string) *SweepError {
	return &SweepError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Wrap creates a new SweepError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SweepError {
	return &SweepError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SweepError) WithDetails(details map[string]interface{}) *SweepError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SweepError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsNotFound reports whether the error is any of the not-found codes.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case CodeExperimentNotFound, CodeRunNotFound, CodeSnapshotNotFound:
		return true
	}
	return false
}

// IsConflict reports whether the error is a conflict-class failure:
// a single-writer violation, schema violation, or illegal transition.
func IsConflict(err error) bool {
	switch GetCode(err) {
	case CodeWriterConflict, CodeSchemaViolation, CodeRunFinalized, CodeIllegalTransition:
		return true
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SweepError.
func GetCategory(err error) ErrorCategory {
	var se *SweepError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SweepError.
func GetCode(err error) string {
	var se *SweepError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Only contention
// and transient backup transfer failures qualify; I/O, conflict, and
// not-found failures are surfaced without retry.
func isRetryable(code string) bool {
	switch code {
	case CodeContention, CodeUploadFailed, CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SweepError {
	return New(ErrCategoryValidation, code, message)
}

func NewBackendError(code, message string, cause error) *SweepError {
	return Wrap(ErrCategoryBackend, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *SweepError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewWriterError(code, message string) *SweepError {
	return New(ErrCategoryWriter, code, message)
}

func NewBackupError(code, message string, cause error) *SweepError {
	return Wrap(ErrCategoryBackup, code, message, cause)
}

func NewInternalError(message string, cause error) *SweepError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
