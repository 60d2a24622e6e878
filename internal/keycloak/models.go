package keycloak

// ClientRepresentation mirrors the Keycloak admin API client resource,
// limited to the fields the gateway reads and writes.
type ClientRepresentation struct {
	ID                        string            `json:"id,omitempty"`
	ClientID                  string            `json:"clientId"`
	Name                      string            `json:"name,omitempty"`
	Description               string            `json:"description,omitempty"`
	Enabled                   bool              `json:"enabled"`
	PublicClient              bool              `json:"publicClient"`
	ServiceAccountsEnabled    bool              `json:"serviceAccountsEnabled"`
	StandardFlowEnabled       bool              `json:"standardFlowEnabled"`
	DirectAccessGrantsEnabled bool              `json:"directAccessGrantsEnabled"`
	RedirectURIs              []string          `json:"redirectUris,omitempty"`
	WebOrigins                []string          `json:"webOrigins,omitempty"`
	ClientAuthenticatorType   string            `json:"clientAuthenticatorType,omitempty"`
	Secret                    string            `json:"secret,omitempty"`
	DefaultClientScopes       []string          `json:"defaultClientScopes,omitempty"`
	OptionalClientScopes      []string          `json:"optionalClientScopes,omitempty"`
	Attributes                map[string]string `json:"attributes,omitempty"`
	Protocol                  string            `json:"protocol,omitempty"`

	ProtocolMappers []ProtocolMapperRepresentation `json:"protocolMappers,omitempty"`
}

// Keycloak client authenticator types the gateway provisions.
const (
	AuthenticatorClientSecret = "client-secret"
	AuthenticatorSignedJWT    = "client-jwt"
)

// Client attribute keys used when provisioning SMART apps.
const (
	AttrJWKSURL        = "jwks.url"
	AttrUseJWKSURL     = "use.jwks.url"
	AttrPKCEMethod     = "pkce.code.challenge.method"
	AttrTokenAuthSign  = "token.endpoint.auth.signing.alg"
	AttrCreated        = "gateway.created.at"
	AttrFHIRPatientKey = "fhirPatientId"
)

// CredentialRepresentation is the Keycloak secret/password resource.
type CredentialRepresentation struct {
	Type      string `json:"type,omitempty"`
	Value     string `json:"value,omitempty"`
	Temporary bool   `json:"temporary"`
}

// UserRepresentation mirrors the Keycloak admin API user resource, limited
// to the fields the gateway reads and writes.
type UserRepresentation struct {
	ID            string              `json:"id,omitempty"`
	Username      string              `json:"username"`
	Email         string              `json:"email,omitempty"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
	CreatedAt     int64               `json:"createdTimestamp,omitempty"`
}

// ProtocolMapperRepresentation mirrors the Keycloak protocol mapper
// resource. The gateway uses it to project the launch-context patient ID
// into issued tokens.
type ProtocolMapperRepresentation struct {
	ID             string            `json:"id,omitempty"`
	Name           string            `json:"name"`
	Protocol       string            `json:"protocol"`
	ProtocolMapper string            `json:"protocolMapper"`
	Config         map[string]string `json:"config,omitempty"`
}
