package integration_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/smart"
)

// TestLiveDiscovery probes a real authorization server's discovery document.
// It only runs when GATEWAY_TEST_ISSUER points at a reachable issuer, e.g.
//
//	GATEWAY_TEST_ISSUER=http://localhost:8080/realms/smart go test ./test/integration/
func TestLiveDiscovery(t *testing.T) {
	issuer := os.Getenv("GATEWAY_TEST_ISSUER")
	if issuer == "" {
		t.Skip("GATEWAY_TEST_ISSUER not set")
	}

	doc, err := smart.NewDiscoverer().Discover(context.Background(), issuer)
	require.NoError(t, err)

	cfg := smart.BuildConfiguration(doc)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, issuer, cfg.Issuer)
	assert.Contains(t, cfg.CodeChallengeMethodsSupported, "S256")
	assert.Contains(t, cfg.TokenEndpointAuthMethodsSupported, "private_key_jwt")
}
