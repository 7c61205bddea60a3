// Package dto holds the JSON shapes exchanged over the site API.
//
// Every failure leaves the server as an ErrorResponse whose code is one of
// the ErrorCode constants below. Handlers return an *APIError, or a store
// error that handlers.apiError converts into one.
package dto

import (
	"fmt"
	"maps"
	"net/http"
	"strconv"
)

// ErrorCode is the stable, machine readable part of an error response.
type ErrorCode string

// Client errors.
const (
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodeMissingField     ErrorCode = "MISSING_FIELD"
	ErrorCodePayloadTooLarge  ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
)

// Server errors. ASSET_WRITE_ERROR and STORAGE_ERROR tell an admin the change
// was not saved and may be retried.
const (
	ErrorCodeAssetWriteError ErrorCode = "ASSET_WRITE_ERROR"
	ErrorCodeStorageError    ErrorCode = "STORAGE_ERROR"
	ErrorCodeInternal        ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeNotImplemented marks a feature switched off in this deployment,
	// e.g. admin login without a configured password.
	ErrorCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// ErrorDetails is the "error" member of an ErrorResponse.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every non-2xx API response. For validation
// failures Details maps each offending record field to its problem.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is what the server wrappers look for with errors.As to
// build an ErrorResponse. Any other error becomes a 500.
type ErrorWithStatus interface {
	error
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError implements ErrorWithStatus.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	cause      error
}

// NewAPIError returns an error answered with statusCode and code.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{statusCode: statusCode, code: code, message: message}
}

// WithDetails merges details into the error and returns it.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	if len(details) == 0 {
		return e
	}
	if e.details == nil {
		e.details = make(map[string]any, len(details))
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail sets one detail.
func (e *APIError) WithDetail(key string, value any) *APIError {
	return e.WithDetails(map[string]any{key: value})
}

// Wrap records the cause. It shows in Error() and in logs, and is reachable
// with errors.Is/As.
func (e *APIError) Wrap(err error) *APIError {
	e.cause = err
	return e
}

func (e *APIError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.cause)
}

func (e *APIError) StatusCode() int { return e.statusCode }

func (e *APIError) Code() ErrorCode { return e.code }

// Details may be nil.
func (e *APIError) Details() map[string]any { return e.details }

func (e *APIError) Unwrap() error { return e.cause }

// NotFound reports a missing collection, record or asset.
func NotFound(what string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, what+" not found")
}

// BadRequest reports a request that can never succeed as sent.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField reports an empty path parameter or body member.
func MissingField(name string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, "Missing required field: "+name).
		WithDetail("field", name)
}

// Unauthorized is returned on admin routes without a valid bearer token.
func Unauthorized() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, "Unauthorized")
}

func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}

// NotImplemented reports a disabled feature.
func NotImplemented(feature string) *APIError {
	return NewAPIError(http.StatusNotImplemented, ErrorCodeNotImplemented, feature+" is not enabled")
}

// PayloadTooLarge reports a body over the configured request cap.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "Request body exceeds "+strconv.FormatInt(limit, 10)+" bytes").
		WithDetail("limit", limit)
}

// RateLimitExceeded tells the client how many seconds to wait, the same
// value as the Retry-After header.
func RateLimitExceeded(retryAfter int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimited, "Too many requests").
		WithDetail("retry_after", retryAfter)
}
