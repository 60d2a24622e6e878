// Package models defines the wire-level data structures exchanged with the
// upstream authorization server and consumed by the gateway's admin surface
// and test harness: OAuth2 grant types, token requests/responses, SMART app
// and user administration DTOs, and monitoring events.
package models

import (
	"net/url"
	"strings"
	"time"
)

// GrantType represents the OAuth2 grant type for token requests.
type GrantType string

// ResponseType represents the OAuth2 response type for authorization requests.
type ResponseType string

// TokenType represents the type of access token (typically "Bearer").
type TokenType string

const (
	// GrantTypeAuthorizationCode represents the authorization code grant type.
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	// GrantTypeClientCredentials represents the client credentials grant type.
	GrantTypeClientCredentials GrantType = "client_credentials"
	// GrantTypeRefreshToken represents the refresh token grant type.
	GrantTypeRefreshToken GrantType = "refresh_token"

	// ResponseTypeCode represents the authorization code response type.
	ResponseTypeCode ResponseType = "code"

	// TokenTypeBearer represents the Bearer token type.
	TokenTypeBearer TokenType = "Bearer"
)

// ClientAssertionType is the RFC 7523 client_assertion_type value used by
// SMART Backend Services clients authenticating with private_key_jwt.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// TokenRequest represents a request to the upstream token endpoint. The
// gateway never issues tokens itself; this model shapes requests the test
// harness and tooling send to Keycloak.
type TokenRequest struct {
	// GrantType specifies the OAuth2 grant type being used.
	GrantType GrantType `json:"grant_type"                    form:"grant_type"`
	// Code is the authorization code (required for authorization_code grant).
	Code string `json:"code,omitempty"                form:"code"`
	// RedirectURI must match the redirect URI used in the authorization request.
	RedirectURI string `json:"redirect_uri,omitempty"        form:"redirect_uri"`
	// ClientID is the client identifier.
	ClientID string `json:"client_id"                     form:"client_id"`
	// ClientSecret is the client secret (confidential clients using basic auth).
	ClientSecret string `json:"client_secret,omitempty"       form:"client_secret"`
	// ClientAssertion is the signed JWT used for private_key_jwt authentication.
	ClientAssertion string `json:"client_assertion,omitempty"    form:"client_assertion"`
	// ClientAssertionType identifies the assertion format (RFC 7523 URN).
	ClientAssertionType string `json:"client_assertion_type,omitempty" form:"client_assertion_type"`
	// Scope specifies the requested scopes (space-delimited).
	Scope string `json:"scope,omitempty"               form:"scope"`
	// CodeVerifier is the PKCE code verifier for public clients.
	CodeVerifier string `json:"code_verifier,omitempty"       form:"code_verifier"`
	// RefreshToken is used to obtain new access tokens (refresh_token grant).
	RefreshToken string `json:"refresh_token,omitempty"       form:"refresh_token"`
}

// Values encodes the request as the form body the token endpoint expects.
// Empty optional fields are omitted.
func (t *TokenRequest) Values() url.Values {
	form := url.Values{}
	form.Set("grant_type", string(t.GrantType))

	set := func(key, value string) {
		if value != "" {
			form.Set(key, value)
		}
	}
	set("code", t.Code)
	set("redirect_uri", t.RedirectURI)
	set("client_id", t.ClientID)
	set("client_secret", t.ClientSecret)
	set("client_assertion", t.ClientAssertion)
	set("client_assertion_type", t.ClientAssertionType)
	set("scope", t.Scope)
	set("code_verifier", t.CodeVerifier)
	set("refresh_token", t.RefreshToken)

	return form
}

// TokenResponse represents a successful response from the upstream token
// endpoint as per the OAuth2 specification.
type TokenResponse struct {
	// AccessToken is the issued access token.
	AccessToken string `json:"access_token"`
	// TokenType is the type of token issued (typically "Bearer").
	TokenType TokenType `json:"token_type"`
	// ExpiresIn is the lifetime of the access token in seconds.
	ExpiresIn int `json:"expires_in"`
	// RefreshToken is issued if the client is authorized to receive one.
	RefreshToken string `json:"refresh_token,omitempty"`
	// Scope contains the granted scopes (space-delimited).
	Scope string `json:"scope,omitempty"`
	// IDToken is the OpenID Connect ID token (if openid scope was requested).
	IDToken string `json:"id_token,omitempty"`
	// Patient is the launch-context patient ID in SMART app launch responses.
	Patient string `json:"patient,omitempty"`
}

// Scopes splits the space-delimited scope string into individual scopes.
func (t *TokenResponse) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ErrorResponse represents an OAuth2 error response as defined in RFC 6749.
// The test harness asserts on these bodies returned by the upstream server.
type ErrorResponse struct {
	// Error is the error code as defined in the OAuth2 specification.
	Error string `json:"error"`
	// ErrorDescription provides additional human-readable error information.
	ErrorDescription string `json:"error_description,omitempty"`
	// ErrorURI provides a URI with more information about the error.
	ErrorURI string `json:"error_uri,omitempty"`
	// State is included if the error occurred during authorization with state parameter.
	State string `json:"state,omitempty"`
}

// IntrospectionResponse represents a response from the upstream token
// introspection endpoint (RFC 7662). The gateway relays introspection when
// validating bearer tokens on the admin surface.
type IntrospectionResponse struct {
	// Active indicates whether the token is currently active.
	Active bool `json:"active"`
	// ClientID is the client identifier the token was issued to.
	ClientID string `json:"client_id,omitempty"`
	// Username is the human-readable identifier for the resource owner.
	Username string `json:"username,omitempty"`
	// Scope contains the scopes associated with the token (space-delimited).
	Scope string `json:"scope,omitempty"`
	// TokenType is the type of the token (e.g., "Bearer").
	TokenType TokenType `json:"token_type,omitempty"`
	// ExpiresAt is the token expiration time as a Unix timestamp.
	ExpiresAt int64 `json:"exp,omitempty"`
	// IssuedAt is when the token was issued as a Unix timestamp.
	IssuedAt int64 `json:"iat,omitempty"`
	// Subject is the subject identifier for the token.
	Subject string `json:"sub,omitempty"`
	// Issuer is the issuer identifier for the token.
	Issuer string `json:"iss,omitempty"`
}

// HasScope reports whether the introspected token carries the given scope.
func (r *IntrospectionResponse) HasScope(scope string) bool {
	for _, s := range strings.Fields(r.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the introspected token's exp claim has passed.
// Tokens without an exp claim are treated as unexpired; Active remains the
// authoritative signal.
func (r *IntrospectionResponse) Expired() bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return time.Now().After(time.Unix(r.ExpiresAt, 0))
}
