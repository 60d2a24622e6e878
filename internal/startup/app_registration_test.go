package startup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/client"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/keycloak"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

type noopTokenManager struct{}

func (noopTokenManager) GetToken(context.Context) (string, error) { return "token", nil }
func (noopTokenManager) InvalidateToken()                         {}

// newCountingRealm returns a realm stub that counts client creations and a
// keycloak service pointed at it.
func newCountingRealm(t *testing.T) (*keycloak.Service, *atomic.Int32) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	var creates atomic.Int32
	clients := make(map[string]string)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/clients":
			var rep keycloak.ClientRepresentation
			json.NewDecoder(r.Body).Decode(&rep)
			if _, ok := clients[rep.ClientID]; ok {
				w.WriteHeader(http.StatusConflict)
				return
			}
			id := uuid.New().String()
			clients[rep.ClientID] = id
			creates.Add(1)
			w.Header().Set("Location", "http://"+r.Host+"/clients/"+id)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/clients":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("[]"))
		default:
			// GET /clients/{id} and client-secret lookups
			if r.Method == http.MethodGet {
				w.Header().Set("Content-Type", "application/json")
				for clientID, id := range clients {
					if r.URL.Path == "/clients/"+id {
						json.NewEncoder(w).Encode(keycloak.ClientRepresentation{
							ID: id, ClientID: clientID, Enabled: true, PublicClient: true,
						})
						return
					}
				}
				json.NewEncoder(w).Encode(keycloak.CredentialRepresentation{Value: "secret"})
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	base := client.NewBaseClient(server.URL, 10*time.Second, logger)
	return keycloak.NewServiceWithClient(client.NewOAuth2Client(base, noopTokenManager{}), logger), &creates
}

func TestRegisterApps_FromConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	apps := []models.RegisterAppRequest{
		{
			ClientID:     "dashboard",
			Name:         "Dashboard",
			RedirectURIs: []string{"http://localhost:3000/callback"},
			GrantTypes:   []string{"authorization_code"},
			Public:       true,
		},
		{
			ClientID:   "reporter",
			Name:       "Reporter",
			GrantTypes: []string{"client_credentials"},
		},
	}
	raw, err := json.Marshal(apps)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile("apps.json", raw, 0o600))

	cache, err := keycloak.NewRegistrationCache(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)

	kc, creates := newCountingRealm(t)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.Config{
		AppAutoRegister: config.AppAutoRegisterConfig{
			Enabled:    true,
			ConfigPath: "apps.json",
		},
	}

	svc := NewAppRegistrationService(cfg, kc, cache, logger)
	require.NoError(t, svc.RegisterApps(context.Background()))
	assert.Equal(t, int32(2), creates.Load())

	// A second startup finds both apps in the cache and registers nothing.
	require.NoError(t, svc.RegisterApps(context.Background()))
	assert.Equal(t, int32(2), creates.Load())
}

func TestRegisterApps_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	kc, creates := newCountingRealm(t)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.Config{
		AppAutoRegister: config.AppAutoRegisterConfig{
			Enabled:    true,
			ConfigPath: "missing.json",
		},
	}

	svc := NewAppRegistrationService(cfg, kc, nil, logger)
	require.NoError(t, svc.RegisterApps(context.Background()))
	assert.Equal(t, int32(0), creates.Load())
}

func TestValidateConfigPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "relative_json", path: "configs/apps.json"},
		{name: "traversal", path: "../secrets/apps.json", wantErr: true},
		{name: "not_json", path: "configs/apps.yaml", wantErr: true},
		{name: "allowed_absolute", path: "/app/configs/apps.json"},
		{name: "forbidden_absolute", path: "/etc/passwd.json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
