package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation    = errors.New("document failed validation")
	ErrNotFound      = errors.New("entity not found")
	ErrTransient     = errors.New("transient search engine failure")
	ErrEngineRequest = errors.New("search engine rejected request")
	ErrQueue         = errors.New("job queue failure")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInternal      = errors.New("internal error")
	ErrTimeout       = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// NotFoundf reports an entity missing from the canonical store.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

// Validationf reports a document that must not reach the index.
func Validationf(format string, args ...any) *AppError {
	return Newf(ErrValidation, http.StatusUnprocessableEntity, format, args...)
}

// Transientf reports a retryable engine failure (network, 5xx, 429).
func Transientf(format string, args ...any) *AppError {
	return Newf(ErrTransient, http.StatusServiceUnavailable, format, args...)
}

// IsRetryable reports whether err is worth another attempt under the
// backoff policy. Not-found, validation and rejected requests never are;
// anything unclassified is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEngineRequest):
		return false
	default:
		return true
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout), errors.Is(err, ErrQueue):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrEngineRequest):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}

}
