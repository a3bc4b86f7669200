package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCompactorError_Error(t *testing.T) {
	err := New(ErrCategoryConfiguration, CodeMissingTableName, "data file table name is not provided")
	expected := "[CONFIGURATION:MISSING_TABLE_NAME] data file table name is not provided"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestCompactorError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeDownloadFailed, "download failed", cause)
	expected := "[STORAGE:DOWNLOAD_FAILED] download failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestCompactorError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryQueryEngine, CodePlanningFailed, "planning failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestCompactorError_Is(t *testing.T) {
	err1 := NewConfigError(CodeAlreadyConsumed, "first")
	err2 := NewConfigError(CodeAlreadyConsumed, "second")
	err3 := NewConfigError(CodeUnresolvedField, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("processor: %w", err1)
	if !errors.Is(wrapped, New(ErrCategoryConfiguration, CodeAlreadyConsumed, "")) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryConfiguration, CodeMissingTableName, false},
		{ErrCategoryConfiguration, CodeUnresolvedPartitionSource, false},
		{ErrCategorySchema, CodeDuplicateFieldID, false},
		{ErrCategoryQueryEngine, CodePlanningFailed, false},
		{ErrCategoryQueryEngine, CodeExecutionFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}

	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are never retryable")
	}
}

func TestGetCategory(t *testing.T) {
	err := NewEngineError(CodePlanningFailed, "bad sql", nil)
	if GetCategory(err) != ErrCategoryQueryEngine {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryQueryEngine)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-CompactorError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := NewConfigError(CodeUnresolvedField, "equality id 9 not found")
	if GetCode(err) != CodeUnresolvedField {
		t.Errorf("got %q, want %q", GetCode(err), CodeUnresolvedField)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-CompactorError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewConfigError(CodeUnresolvedField, "equality id not found")
	detailed := err.WithDetails(map[string]interface{}{"field_id": 9})

	if detailed.Details["field_id"] != 9 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	c := NewConfigError(CodeInvalidJob, "no schema")
	if c.Category != ErrCategoryConfiguration || c.Code != CodeInvalidJob || c.Cause != nil {
		t.Error("NewConfigError mismatch")
	}

	sc := NewSchemaError(CodeDuplicateFieldID, "duplicate", cause)
	if sc.Category != ErrCategorySchema || !errors.Is(sc, cause) {
		t.Error("NewSchemaError mismatch")
	}

	e := NewEngineError(CodeRegistrationFailed, "table exists", cause)
	if e.Category != ErrCategoryQueryEngine || !errors.Is(e, cause) {
		t.Error("NewEngineError mismatch")
	}

	s := NewStorageError(CodeDownloadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !s.Retryable {
		t.Error("NewStorageError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
