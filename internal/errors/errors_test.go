package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSweepError_Error(t *testing.T) {
	err := New(ErrCategoryBackend, CodeIOFailure, "write failed")
	expected := "[BACKEND:IO_FAILURE] write failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSweepError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCategoryBackend, CodeIOFailure, "write failed", cause)
	expected := "[BACKEND:IO_FAILURE] write failed: disk full"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSweepError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryCatalog, CodeRunNotFound, "missing run", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestSweepError_Is(t *testing.T) {
	err1 := New(ErrCategoryWriter, CodeWriterConflict, "first")
	err2 := New(ErrCategoryWriter, CodeWriterConflict, "second")
	err3 := New(ErrCategoryWriter, CodeSchemaViolation, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		code     string
		want     bool
	}{
		{ErrCategoryBackend, CodeContention, true},
		{ErrCategoryBackup, CodeUploadFailed, true},
		{ErrCategoryBackup, CodeDownloadFailed, true},
		{ErrCategoryBackend, CodeIOFailure, false},
		{ErrCategoryWriter, CodeWriterConflict, false},
		{ErrCategoryCatalog, CodeRunNotFound, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if got := IsRetryable(err); got != tt.want {
			t.Errorf("IsRetryable(%s:%s) = %v, want %v", tt.category, tt.code, got, tt.want)
		}
	}

	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(New(ErrCategoryCatalog, CodeRunNotFound, "gone")) {
		t.Error("RUN_NOT_FOUND should classify as not-found")
	}
	if !IsNotFound(New(ErrCategoryCatalog, CodeExperimentNotFound, "gone")) {
		t.Error("EXPERIMENT_NOT_FOUND should classify as not-found")
	}
	if IsNotFound(New(ErrCategoryBackend, CodeContention, "busy")) {
		t.Error("CONTENTION should not classify as not-found")
	}
}

func TestIsConflict(t *testing.T) {
	if !IsConflict(New(ErrCategoryWriter, CodeWriterConflict, "bound")) {
		t.Error("WRITER_CONFLICT should classify as conflict")
	}
	if !IsConflict(New(ErrCategoryWriter, CodeSchemaViolation, "bad row")) {
		t.Error("SCHEMA_VIOLATION should classify as conflict")
	}
	if IsConflict(New(ErrCategoryBackend, CodeIOFailure, "disk")) {
		t.Error("IO_FAILURE should not classify as conflict")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := Wrap(ErrCategoryReader, CodeRunNotFound, "open failed", fmt.Errorf("x"))
	wrapped := fmt.Errorf("outer: %w", err)

	if got := GetCategory(wrapped); got != ErrCategoryReader {
		t.Errorf("GetCategory = %q, want READER", got)
	}
	if got := GetCode(wrapped); got != CodeRunNotFound {
		t.Errorf("GetCode = %q, want RUN_NOT_FOUND", got)
	}
	if got := GetCategory(fmt.Errorf("plain")); got != "" {
		t.Errorf("GetCategory(plain) = %q, want empty", got)
	}
}
