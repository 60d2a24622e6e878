package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/smart"
)

// TestGatewayHandler_SmartConfiguration_ServesStaleOnRefreshFailure pins the
// last-good behavior: once a discovery document has been cached, an upstream
// outage after the cache expires must not take the endpoint down.
func TestGatewayHandler_SmartConfiguration_ServesStaleOnRefreshFailure(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Keycloak: config.KeycloakConfig{BaseURL: upstream.URL, Realm: "smart"},
	}

	handler := NewGatewayHandler(cfg, smart.NewDiscoverer(), logger)

	stale := &smart.Configuration{
		Issuer:                upstream.URL + "/realms/smart",
		AuthorizationEndpoint: upstream.URL + "/realms/smart/protocol/openid-connect/auth",
		TokenEndpoint:         upstream.URL + "/realms/smart/protocol/openid-connect/token",
	}

	handler.mu.Lock()
	handler.cachedConfig = stale
	handler.cachedConfigExp = time.Now().Add(-time.Minute)
	handler.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/.well-known/smart-configuration", nil)
	rec := httptest.NewRecorder()
	handler.SmartConfiguration(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var served smart.Configuration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &served))
	assert.Equal(t, stale.Issuer, served.Issuer)
	assert.Equal(t, stale.TokenEndpoint, served.TokenEndpoint)
}
