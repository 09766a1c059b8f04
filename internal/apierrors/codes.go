// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:unauthorized", "lers:invalid_status").
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Authentication & Authorization
	CodeUnauthorized = "core:unauthorized"
	CodeForbidden    = "core:forbidden"
	CodeInvalidToken = "core:invalid_token"
	CodeTokenExpired = "core:token_expired"

	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"
	CodeInvalidID        = "core:invalid_id"

	// Resource errors
	CodeNotFound = "core:not_found"
	CodeConflict = "core:conflict"

	// Rate limiting
	CodeRateLimited = "core:rate_limited"

	// Server errors
	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"
)

// LERS domain error codes.
const (
	CodeInvalidStatus   = "lers:invalid_status"
	CodeRequestRequired = "lers:request_required"
	CodeMessageEmpty    = "lers:message_empty"
)

// defaultErrors defines all built-in error codes with their default messages
// and HTTP status.
var defaultErrors = []ErrorCode{
	// Authentication & Authorization
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeForbidden, Message: "Permission denied", HTTPStatus: http.StatusForbidden},
	{Code: CodeInvalidToken, Message: "Invalid or malformed token", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeTokenExpired, Message: "Token has expired", HTTPStatus: http.StatusUnauthorized},

	// Request errors
	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},

	// Resource errors
	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	// Rate limiting
	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},

	// Server errors
	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},

	// LERS domain
	{Code: CodeInvalidStatus, Message: "Invalid presence status", HTTPStatus: http.StatusBadRequest},
	{Code: CodeRequestRequired, Message: "Request ID is required", HTTPStatus: http.StatusBadRequest},
	{Code: CodeMessageEmpty, Message: "Message text is required", HTTPStatus: http.StatusBadRequest},
}

func init() {
	for _, e := range defaultErrors {
		Registry.Register(e)
	}
}
