package models

import "time"

// App represents a registered SMART app as exposed by the gateway admin API.
// The authoritative record lives in Keycloak; this is the administrative view
// the management UI consumes. Secret is excluded from JSON except in the
// one-time registration response.
type App struct {
	// ID is the Keycloak-internal client UUID.
	ID string `json:"id"`
	// ClientID is the OAuth2 client identifier.
	ClientID string `json:"client_id"`
	// Name is the human-readable app name.
	Name string `json:"name"`
	// RedirectURIs are the allowed redirect URIs for this app.
	RedirectURIs []string `json:"redirect_uris"`
	// Scopes are the SMART scopes this app may request.
	Scopes []string `json:"scopes"`
	// GrantTypes are the OAuth2 grant types this app supports.
	GrantTypes []string `json:"grant_types"`
	// Public indicates a public client (no credentials, PKCE required).
	Public bool `json:"public"`
	// AuthMethod is the token endpoint authentication method
	// (client_secret_basic, private_key_jwt, none).
	AuthMethod string `json:"auth_method"`
	// JWKSURL is the app's published key set, required for private_key_jwt.
	JWKSURL string `json:"jwks_url,omitempty"`
	// Enabled indicates if the app is currently active.
	Enabled bool `json:"enabled"`
	// CreatedAt is the app registration timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// RegisterAppRequest is the admin API payload for registering a new app.
type RegisterAppRequest struct {
	ClientID     string   `json:"client_id"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
	GrantTypes   []string `json:"grant_types"`
	Public       bool     `json:"public"`
	AuthMethod   string   `json:"auth_method,omitempty"`
	JWKSURL      string   `json:"jwks_url,omitempty"`
}

// RegisterAppResponse carries the registered app plus its generated secret.
// The secret is only returned once, at registration or rotation time.
type RegisterAppResponse struct {
	App    App    `json:"app"`
	Secret string `json:"secret,omitempty"`
}

// User represents a user account as exposed by the gateway admin API.
// The authoritative record lives in Keycloak.
type User struct {
	// ID is the Keycloak-internal user UUID.
	ID string `json:"id"`
	// Username is the unique login name.
	Username string `json:"username"`
	// Email is the user's email address.
	Email string `json:"email,omitempty"`
	// FirstName is the user's given name.
	FirstName string `json:"first_name,omitempty"`
	// LastName is the user's family name.
	LastName string `json:"last_name,omitempty"`
	// Enabled indicates if the account is active.
	Enabled bool `json:"enabled"`
	// EmailVerified indicates if the email address has been verified.
	EmailVerified bool `json:"email_verified"`
	// FHIRPatientID links the user to a Patient resource for patient-facing apps.
	FHIRPatientID string `json:"fhir_patient_id,omitempty"`
	// CreatedAt is the account creation timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CreateUserRequest is the admin API payload for creating a user account.
type CreateUserRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	FHIRPatientID string `json:"fhir_patient_id,omitempty"`
}

// SetUserEnabledRequest toggles a user account's enabled flag.
type SetUserEnabledRequest struct {
	Enabled bool `json:"enabled"`
}
