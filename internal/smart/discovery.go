// Package smart provides SMART-on-FHIR discovery document construction and
// validation. The gateway does not run its own authorization server: it
// relays the upstream Keycloak realm's OpenID Connect discovery document and
// reshapes it into the SMART configuration document
// (/.well-known/smart-configuration) that SMART apps consume.
package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
)

// maxDiscoveryBodySize bounds the discovery response body read.
const maxDiscoveryBodySize = 1 << 20

// OIDCConfiguration is the upstream OpenID Connect discovery document
// (RFC 8414 / OIDC Discovery), limited to the fields the gateway consumes.
type OIDCConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// Configuration is the SMART configuration document served at
// /.well-known/smart-configuration, per the SMART App Launch specification.
type Configuration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	Capabilities                      []string `json:"capabilities"`
}

// DefaultCapabilities is the SMART capability set the gateway advertises.
// The upstream server enforces the actual behavior; this list reflects what
// the Keycloak realm is provisioned to support.
var DefaultCapabilities = []string{
	"launch-standalone",
	"client-public",
	"client-confidential-symmetric",
	"client-confidential-asymmetric",
	"sso-openid-connect",
	"permission-patient",
	"permission-user",
	"permission-offline",
	"context-standalone-patient",
}

// httpClient is the minimal HTTP client surface, for test injection.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Discoverer fetches and validates upstream discovery documents.
type Discoverer struct {
	client httpClient
}

// NewDiscoverer creates a Discoverer with a sane default HTTP client.
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
	}
}

// NewDiscovererWithClient creates a Discoverer using the provided HTTP client.
func NewDiscovererWithClient(client httpClient) *Discoverer {
	return &Discoverer{client: client}
}

// Discover fetches the OpenID Connect discovery document for the given
// issuer. The issuer must use HTTPS unless it points at localhost, and the
// document's issuer claim must match the requested issuer.
func (d *Discoverer) Discover(ctx context.Context, issuer string) (*OIDCConfiguration, error) {
	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	if issuerURL.Scheme != "https" && !isLocalhost(issuerURL.Host) {
		return nil, fmt.Errorf("issuer must use HTTPS: %s", issuer)
	}

	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	var doc OIDCConfiguration
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.Issuer != strings.TrimSuffix(issuer, "/") && doc.Issuer != issuer {
		return nil, fmt.Errorf("issuer mismatch: requested %q, document claims %q", issuer, doc.Issuer)
	}

	return &doc, nil
}

// BuildConfiguration reshapes an upstream OIDC discovery document into the
// SMART configuration document the gateway serves. Capability and scope
// lists absent upstream fall back to the gateway defaults.
func BuildConfiguration(doc *OIDCConfiguration) *Configuration {
	cfg := &Configuration{
		Issuer:                            doc.Issuer,
		AuthorizationEndpoint:             doc.AuthorizationEndpoint,
		TokenEndpoint:                     doc.TokenEndpoint,
		IntrospectionEndpoint:             doc.IntrospectionEndpoint,
		RevocationEndpoint:                doc.RevocationEndpoint,
		JWKSURI:                           doc.JWKSURI,
		RegistrationEndpoint:              doc.RegistrationEndpoint,
		GrantTypesSupported:               doc.GrantTypesSupported,
		ScopesSupported:                   doc.ScopesSupported,
		ResponseTypesSupported:            doc.ResponseTypesSupported,
		CodeChallengeMethodsSupported:     doc.CodeChallengeMethodsSupported,
		TokenEndpointAuthMethodsSupported: doc.TokenEndpointAuthMethodsSupported,
		Capabilities:                      DefaultCapabilities,
	}

	if len(cfg.GrantTypesSupported) == 0 {
		cfg.GrantTypesSupported = []string{"authorization_code", "client_credentials", "refresh_token"}
	}
	if len(cfg.CodeChallengeMethodsSupported) == 0 {
		cfg.CodeChallengeMethodsSupported = []string{"S256"}
	}
	if len(cfg.TokenEndpointAuthMethodsSupported) == 0 {
		cfg.TokenEndpointAuthMethodsSupported = []string{"client_secret_basic", "private_key_jwt"}
	}

	return cfg
}

// Validate checks the SMART configuration document against the contract the
// gateway and its apps depend on. It is used both at startup (fail fast on a
// misconfigured upstream) and by the security test suite.
func (c *Configuration) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("smart configuration missing issuer")
	}
	if c.AuthorizationEndpoint == "" {
		return fmt.Errorf("smart configuration missing authorization_endpoint")
	}
	if c.TokenEndpoint == "" {
		return fmt.Errorf("smart configuration missing token_endpoint")
	}
	if c.JWKSURI == "" {
		return fmt.Errorf("smart configuration missing jwks_uri")
	}

	for _, endpoint := range []string{c.AuthorizationEndpoint, c.TokenEndpoint, c.JWKSURI} {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("smart configuration endpoint %q is not a valid URL: %w", endpoint, err)
		}
		if u.Scheme != "https" && !isLocalhost(u.Host) {
			return fmt.Errorf("smart configuration endpoint %q must use HTTPS", endpoint)
		}
	}

	if !contains(c.CodeChallengeMethodsSupported, "S256") {
		return fmt.Errorf("smart configuration must list S256 in code_challenge_methods_supported")
	}

	if !contains(c.TokenEndpointAuthMethodsSupported, "private_key_jwt") {
		return fmt.Errorf("smart configuration must list private_key_jwt in token_endpoint_auth_methods_supported")
	}

	return nil
}

// contains reports whether list includes value.
func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// isLocalhost reports whether the host (with optional port) refers to the
// local machine. Localhost issuers are exempt from the HTTPS requirement for
// development setups.
func isLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
