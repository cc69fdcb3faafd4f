package api

import (
	"errors"
	"fmt"
	"net/http"

	"clipvault/internal/storage"
)

// RequestError carries the HTTP status a failed request should produce.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func errValidation(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func errAuthentication(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func errAuthorization(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusForbidden, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// errUpload reports a remote media operation failure. Upload failures map to
// 400 so clients retry with the same semantics as a rejected payload.
func errUpload(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// statusForError resolves the HTTP status for err, recognising RequestError
// values and the storage sentinels.
func statusForError(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	switch {
	case errors.Is(err, storage.ErrVideoNotFound), errors.Is(err, storage.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}
