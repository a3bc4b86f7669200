// Package errors provides structured error types for the compactor.
// Every error carries a category, a code, a message and a retryable flag so
// callers can tell configuration bugs from engine and storage failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by where they originate.
type ErrorCategory string

const (
	ErrCategoryConfiguration ErrorCategory = "CONFIGURATION"
	ErrCategorySchema        ErrorCategory = "SCHEMA"
	ErrCategoryQueryEngine   ErrorCategory = "QUERY_ENGINE"
	ErrCategoryStorage       ErrorCategory = "STORAGE"
	ErrCategoryInternal      ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Configuration codes
	CodeMissingTableName          = "MISSING_TABLE_NAME"
	CodeUnresolvedField           = "UNRESOLVED_FIELD"
	CodeUnresolvedPartitionSource = "UNRESOLVED_PARTITION_SOURCE"
	CodeAlreadyConsumed           = "ALREADY_CONSUMED"
	CodeInvalidJob                = "INVALID_JOB"

	// Schema codes
	CodeDuplicateFieldID   = "DUPLICATE_FIELD_ID"
	CodeDuplicateFieldName = "DUPLICATE_FIELD_NAME"
	CodeInvalidField       = "INVALID_FIELD"

	// Query engine codes
	CodeRegistrationFailed = "REGISTRATION_FAILED"
	CodePlanningFailed     = "PLANNING_FAILED"
	CodeExecutionFailed    = "EXECUTION_FAILED"
	CodeRepartitionFailed  = "REPARTITION_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// CompactorError is the structured error type used throughout the system.
type CompactorError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *CompactorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CompactorError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *CompactorError) Is(target error) bool {
	var t *CompactorError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new CompactorError.
func New(category ErrorCategory, code, message string) *CompactorError {
	return &CompactorError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new CompactorError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *CompactorError {
	return &CompactorError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *CompactorError) WithDetails(details map[string]interface{}) *CompactorError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *CompactorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a CompactorError.
func GetCategory(err error) ErrorCategory {
	var ce *CompactorError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a CompactorError.
func GetCode(err error) string {
	var ce *CompactorError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Only transient storage transfers are retryable. Configuration, schema and
// engine errors point at a planning bug and must surface as-is.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *CompactorError {
	return New(ErrCategoryConfiguration, code, message)
}

func NewSchemaError(code, message string, cause error) *CompactorError {
	return Wrap(ErrCategorySchema, code, message, cause)
}

func NewEngineError(code, message string, cause error) *CompactorError {
	return Wrap(ErrCategoryQueryEngine, code, message, cause)
}

func NewStorageError(code, message string, cause error) *CompactorError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *CompactorError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
