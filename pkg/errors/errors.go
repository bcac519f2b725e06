package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable reason sent to clients.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeFileTooLarge       ErrorCode = "FILE_TOO_LARGE"
	ErrCodeDisallowedType     ErrorCode = "DISALLOWED_TYPE"
	ErrCodeIncompleteUpload   ErrorCode = "INCOMPLETE_UPLOAD"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeIntegrity          ErrorCode = "INTEGRITY_ERROR"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError carries an HTTP status and code alongside the cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// NewFileTooLargeError reports the limit in whole gigabytes, the unit
// clients display.
func NewFileTooLargeError(limit int64) *AppError {
	return NewAppError(ErrCodeFileTooLarge,
		fmt.Sprintf("File too large. Maximum size is %dGB", limit>>30),
		http.StatusBadRequest).
		WithContext("max_file_size", limit)
}

func NewDisallowedTypeError() *AppError {
	return NewAppError(ErrCodeDisallowedType, "File type not allowed", http.StatusBadRequest)
}

func NewIncompleteUploadError(missing int) *AppError {
	return NewAppError(ErrCodeIncompleteUpload, fmt.Sprintf("Missing %d chunks", missing), http.StatusBadRequest).
		WithContext("missing_chunks", missing)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewIntegrityError(err error) *AppError {
	return WrapError(err, ErrCodeIntegrity, err.Error(), http.StatusUnprocessableEntity)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(err error) *AppError {
	return WrapError(err, ErrCodeInternal, "internal server error", http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// GetAppError extracts the first AppError from the error chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
