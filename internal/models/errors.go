package models

import (
	"fmt"
	"net/http"
)

// OAuth2Error represents a standard OAuth2 error response as defined in RFC 6749.
// It implements the error interface and is used by the admin surface to relay
// upstream failures with spec-compliant error codes.
type OAuth2Error struct {
	// Code is the OAuth2 error code (e.g., "invalid_request", "invalid_client").
	Code string `json:"error"`
	// Description provides additional human-readable error information.
	Description string `json:"error_description,omitempty"`
	// URI is a reference to a web page with error information.
	URI string `json:"error_uri,omitempty"`
	// State is the client-provided state parameter for CSRF protection.
	State string `json:"state,omitempty"`
	// StatusCode is the HTTP status code to return (excluded from JSON).
	StatusCode int `json:"-"`
}

// NewInvalidRequest creates a new OAuth2Error with the "invalid_request" error
// code and the provided description. The request is missing a required
// parameter, includes an invalid parameter value, or is otherwise malformed.
// Returns HTTP 400 Bad Request.
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "invalid_request",
		Description: description,
		StatusCode:  http.StatusBadRequest,
	}
}

// NewInvalidClient creates a new OAuth2Error with the "invalid_client" error
// code and the provided description. Client authentication failed (unknown
// client, no client authentication included, or unsupported authentication
// method). Returns HTTP 401 Unauthorized.
func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "invalid_client",
		Description: description,
		StatusCode:  http.StatusUnauthorized,
	}
}

// NewInvalidGrant creates a new OAuth2Error with the "invalid_grant" error
// code and the provided description. The provided authorization grant or
// refresh token is invalid, expired, or revoked. Returns HTTP 400 Bad Request.
func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "invalid_grant",
		Description: description,
		StatusCode:  http.StatusBadRequest,
	}
}

// NewUnsupportedGrantType creates a new OAuth2Error with the
// "unsupported_grant_type" error code. The authorization grant type is not
// supported by the authorization server. Returns HTTP 400 Bad Request.
func NewUnsupportedGrantType(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "unsupported_grant_type",
		Description: description,
		StatusCode:  http.StatusBadRequest,
	}
}

// NewUnauthorizedClient creates a new OAuth2Error with the
// "unauthorized_client" error code. The authenticated client is not
// authorized to use this authorization grant type. Returns HTTP 400.
func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "unauthorized_client",
		Description: description,
		StatusCode:  http.StatusBadRequest,
	}
}

// NewInvalidScope creates a new OAuth2Error with the "invalid_scope" error
// code. The requested scope is invalid, unknown, or malformed.
// Returns HTTP 400 Bad Request.
func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "invalid_scope",
		Description: description,
		StatusCode:  http.StatusBadRequest,
	}
}

// NewServerError creates a new OAuth2Error with the "server_error" error code.
// The server encountered an unexpected condition that prevented it from
// fulfilling the request. Returns HTTP 500 Internal Server Error.
func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "server_error",
		Description: description,
		StatusCode:  http.StatusInternalServerError,
	}
}

// NewTemporarilyUnavailable creates a new OAuth2Error with the
// "temporarily_unavailable" error code. The server is currently unable to
// handle the request, typically because an upstream dependency is down.
// Returns HTTP 503 Service Unavailable.
func NewTemporarilyUnavailable(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "temporarily_unavailable",
		Description: description,
		StatusCode:  http.StatusServiceUnavailable,
	}
}

// NewInsufficientScope creates a new OAuth2Error with the
// "insufficient_scope" error code as defined in RFC 6750. The request
// requires higher privileges than provided by the access token.
// Returns HTTP 403 Forbidden.
func NewInsufficientScope(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        "insufficient_scope",
		Description: description,
		StatusCode:  http.StatusForbidden,
	}
}

// Error implements the error interface, returning the error code and
// description in a readable format.
func (e *OAuth2Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// WithState returns a copy of the error with the state parameter set.
func (e *OAuth2Error) WithState(state string) *OAuth2Error {
	errCopy := *e
	errCopy.State = state
	return &errCopy
}
