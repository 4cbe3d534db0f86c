package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Validation (400) -- rejected immediately, never retried.
	ErrCodeValidationInvalidLat   ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon   ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationOutOfRegion  ErrorCode = "validation_outside_operating_region"
	ErrCodeValidationEmptyQuery   ErrorCode = "validation_empty_query"

	// Permission (403) -- terminal, surfaced once, no silent retry loop.
	ErrCodePermissionLocationDenied ErrorCode = "permission_location_denied"

	// Not Found (404)
	ErrCodeNotFoundStop ErrorCode = "not_found_stop"
	ErrCodeNotFoundPlan ErrorCode = "not_found_plan"

	// Data unavailable -- triggers a documented fallback, never surfaced
	// to the caller as an error.
	ErrCodeDataNoPredictions ErrorCode = "data_predictions_unavailable"
	ErrCodeDataNoSchedules   ErrorCode = "data_schedules_unavailable"
	ErrCodeDataNoRoutes      ErrorCode = "data_routes_unavailable"

	// Internal/Upstream (500/502) -- transient, retried with backoff at the
	// transport layer before escalating to component-level failure state.
	ErrCodeInternalUnexpected     ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamTransit        ErrorCode = "upstream_transit_unavailable"
	ErrCodeUpstreamDirections     ErrorCode = "upstream_directions_unavailable"
	ErrCodeUpstreamUnavailable    ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited    ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamMalformedReply ErrorCode = "upstream_malformed_response"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the diagnostic API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "data_"):
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// IsTerminal reports whether an error code represents a failure that must not
// be retried (invalid input or permission denial).
func (c ErrorCode) IsTerminal() bool {
	s := string(c)
	return strings.HasPrefix(s, "validation_") || strings.HasPrefix(s, "permission_")
}

// AppError is the standard application error type used throughout the engine.
// All component errors should be expressed as AppError to enable consistent
// error classification, fallback decisions, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for component errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
