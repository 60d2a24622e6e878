package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

// Introspector validates bearer tokens against the realm's RFC 7662
// introspection endpoint using the gateway's admin client credentials.
type Introspector struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *logrus.Logger
}

// NewIntrospector creates an Introspector for the configured realm.
func NewIntrospector(cfg *config.Config, logger *logrus.Logger) *Introspector {
	return &Introspector{
		endpoint:     cfg.RealmURL() + "/protocol/openid-connect/token/introspect",
		clientID:     cfg.Keycloak.AdminClientID,
		clientSecret: cfg.Keycloak.AdminClientSecret,
		httpClient: &http.Client{
			Timeout: cfg.Keycloak.Timeout,
		},
		logger: logger,
	}
}

// NewIntrospectorWithEndpoint creates an Introspector against an explicit
// endpoint, used by tests.
func NewIntrospectorWithEndpoint(endpoint, clientID, clientSecret string, logger *logrus.Logger) *Introspector {
	return &Introspector{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// Introspect asks the realm whether the token is active and returns its
// claims. Inactive tokens return a response with Active=false, not an error.
func (i *Introspector) Introspect(ctx context.Context, token string) (*models.IntrospectionResponse, error) {
	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set(constants.HeaderContentType, constants.ContentTypeFormURLEncoded)
	req.SetBasicAuth(i.clientID, i.clientSecret)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection request returned status %d", resp.StatusCode)
	}

	var result models.IntrospectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}

	i.logger.WithFields(logrus.Fields{
		"active":    result.Active,
		"client_id": result.ClientID,
	}).Debug("Token introspected")

	return &result, nil
}
