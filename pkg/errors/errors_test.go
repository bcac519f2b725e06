package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", http.StatusInternalServerError)

	if !errors.Is(err, originalErr) {
		t.Errorf("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"too large", NewFileTooLargeError(5), ErrCodeFileTooLarge, http.StatusBadRequest},
		{"disallowed", NewDisallowedTypeError(), ErrCodeDisallowedType, http.StatusBadRequest},
		{"incomplete", NewIncompleteUploadError(2), ErrCodeIncompleteUpload, http.StatusBadRequest},
		{"not found", NewNotFoundError("session"), ErrCodeNotFound, http.StatusNotFound},
		{"integrity", NewIntegrityError(errors.New("missing chunk 3")), ErrCodeIntegrity, http.StatusUnprocessableEntity},
		{"internal", NewInternalError(errors.New("disk")), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %v, want %v", tt.err.HTTPStatus, tt.status)
			}
		})
	}

	if msg := NewIncompleteUploadError(2).Message; msg != "Missing 2 chunks" {
		t.Errorf("unexpected incomplete message %q", msg)
	}
	if msg := NewFileTooLargeError(10 << 30).Message; msg != "File too large. Maximum size is 10GB" {
		t.Errorf("unexpected too large message %q", msg)
	}
}

func TestGetAppError_UnwrapsChain(t *testing.T) {
	appErr := NewNotFoundError("file")
	wrapped := fmt.Errorf("handler: %w", appErr)

	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Errorf("expected nil for plain error")
	}
	if GetAppError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}
