package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced by the generation core. Handlers map them to
// transport statuses via their Status field, never by string matching.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeUnauthorized    = "unauthorized"
	CodeConsentMismatch = "consent_mismatch"
	CodePersonaMissing  = "persona_missing"
	CodeQuotaExhausted  = "quota_exhausted"
	CodeProfileNotFound = "profile_not_found"
	CodeNotFound        = "not_found"
	CodeStorageFailure  = "storage_failure"
	CodeDatabaseFailure = "database_failure"
	CodeVertexFailure   = "vertex_failure"
)

type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func InvalidRequest(message string, err error) *Error {
	return New(http.StatusBadRequest, CodeInvalidRequest, message, err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, "missing or invalid credentials", err)
}

func ConsentMismatch(required string) *Error {
	return New(http.StatusForbidden, CodeConsentMismatch, "the accepted consent version is out of date", nil).
		WithDetails(map[string]any{"required_version": required})
}

func PersonaMissing() *Error {
	return New(http.StatusForbidden, CodePersonaMissing, "upload a persona photo before generating", nil)
}

func QuotaExhausted(renewsAt string) *Error {
	e := New(http.StatusTooManyRequests, CodeQuotaExhausted, "no free generations remaining", nil)
	if renewsAt != "" {
		e.Details = map[string]any{"renews_at": renewsAt}
	}
	return e
}

func ProfileNotFound() *Error {
	return New(http.StatusNotFound, CodeProfileNotFound, "profile not found", nil)
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func StorageFailure(err error) *Error {
	return New(http.StatusInternalServerError, CodeStorageFailure, "could not store the uploaded assets", err)
}

func DatabaseFailure(err error) *Error {
	return New(http.StatusInternalServerError, CodeDatabaseFailure, "could not persist the request", err)
}

func VertexFailure(err error) *Error {
	return New(http.StatusBadGateway, CodeVertexFailure, "the render service rejected the job", err)
}

// From extracts a typed API error, wrapping anything else as a 500.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "internal_error", "unexpected error", err)
}
