package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/client"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/handlers"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/keycloak"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
)

// fixedTokenManager satisfies client.TokenManager without a token server.
type fixedTokenManager struct{}

func (fixedTokenManager) GetToken(context.Context) (string, error) { return "admin-token", nil }
func (fixedTokenManager) InvalidateToken()                         {}

// realmStub is a minimal Keycloak admin API stand-in for the client
// administration endpoints the admin handler relays to.
type realmStub struct {
	clients map[string]*keycloak.ClientRepresentation
	secrets map[string]string
}

func newRealmAdminStub() *realmStub {
	return &realmStub{
		clients: make(map[string]*keycloak.ClientRepresentation),
		secrets: make(map[string]string),
	}
}

func (s *realmStub) handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/clients", func(w http.ResponseWriter, req *http.Request) {
		var rep keycloak.ClientRepresentation
		json.NewDecoder(req.Body).Decode(&rep)
		for _, existing := range s.clients {
			if existing.ClientID == rep.ClientID {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		rep.ID = uuid.New().String()
		s.clients[rep.ID] = &rep
		if !rep.PublicClient {
			s.secrets[rep.ID] = "initial-secret"
		}
		w.Header().Set("Location", "http://keycloak/admin/realms/smart/clients/"+rep.ID)
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)

	r.HandleFunc("/clients", func(w http.ResponseWriter, req *http.Request) {
		reps := make([]*keycloak.ClientRepresentation, 0, len(s.clients))
		for _, rep := range s.clients {
			reps = append(reps, rep)
		}
		json.NewEncoder(w).Encode(reps)
	}).Methods(http.MethodGet)

	r.HandleFunc("/clients/{id}", func(w http.ResponseWriter, req *http.Request) {
		rep, ok := s.clients[mux.Vars(req)["id"]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(rep)
	}).Methods(http.MethodGet)

	r.HandleFunc("/clients/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		if _, ok := s.clients[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.clients, id)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	r.HandleFunc("/clients/{id}/client-secret", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(keycloak.CredentialRepresentation{Value: s.secrets[mux.Vars(req)["id"]]})
	}).Methods(http.MethodGet)

	r.HandleFunc("/clients/{id}/client-secret", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		s.secrets[id] = "rotated-secret"
		json.NewEncoder(w).Encode(keycloak.CredentialRepresentation{Value: s.secrets[id]})
	}).Methods(http.MethodPost)

	return r
}

// newAdminRouter wires the admin handler against a realm stub and returns
// the router plus the hub receiving admin events.
func newAdminRouter(t *testing.T) (*mux.Router, *monitor.Hub) {
	t.Helper()
	return newAdminRouterWithCache(t, nil)
}

func newAdminRouterWithCache(t *testing.T, cache *keycloak.RegistrationCache) (*mux.Router, *monitor.Hub) {
	t.Helper()

	stub := newRealmAdminStub()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	logger := testLogger()
	base := client.NewBaseClient(server.URL, 10*time.Second, logger)
	kc := keycloak.NewServiceWithClient(client.NewOAuth2Client(base, fixedTokenManager{}), logger)

	hub := monitor.NewHub(16, 16, logger)
	handler := handlers.NewAdminHandler(kc, gatewayConfig("http://localhost:8080"), cache, hub, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router, hub
}

// newFailingAdminRouter wires the admin handler against an upstream that
// answers every call with a server error.
func newFailingAdminRouter(t *testing.T) *mux.Router {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	logger := testLogger()
	base := client.NewBaseClient(server.URL, 10*time.Second, logger)
	kc := keycloak.NewServiceWithClient(client.NewOAuth2Client(base, fixedTokenManager{}), logger)

	handler := handlers.NewAdminHandler(kc, gatewayConfig("http://localhost:8080"), nil, nil, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func postJSON(t *testing.T, router *mux.Router, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminHandler_RegisterApp(t *testing.T) {
	t.Parallel()

	router, hub := newAdminRouter(t)

	rec := postJSON(t, router, "/apps", models.RegisterAppRequest{
		ClientID:   "backend-service",
		Name:       "Backend Service",
		GrantTypes: []string{"client_credentials"},
		Scopes:     []string{"system/*.read"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.RegisterAppResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "backend-service", result.App.ClientID)
	assert.NotEmpty(t, result.Secret)

	events := hub.Recent(models.TopicAdmin, 0)
	require.Len(t, events, 1)
	assert.Equal(t, "app_registered", events[0].Type)
	assert.Equal(t, "backend-service", events[0].ClientID)
}

func TestAdminHandler_RegisterApp_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload models.RegisterAppRequest
	}{
		{
			name: "missing_client_id",
			payload: models.RegisterAppRequest{
				Name:       "No ID",
				GrantTypes: []string{"client_credentials"},
			},
		},
		{
			name: "missing_grant_types",
			payload: models.RegisterAppRequest{
				ClientID: "no-grants",
				Name:     "No Grants",
			},
		},
		{
			name: "authorization_code_without_redirects",
			payload: models.RegisterAppRequest{
				ClientID:   "no-redirects",
				Name:       "No Redirects",
				GrantTypes: []string{"authorization_code"},
			},
		},
		{
			name: "public_client_credentials",
			payload: models.RegisterAppRequest{
				ClientID:   "public-backend",
				Name:       "Public Backend",
				Public:     true,
				GrantTypes: []string{"client_credentials"},
			},
		},
		{
			name: "unsupported_grant",
			payload: models.RegisterAppRequest{
				ClientID:   "password-app",
				Name:       "Password App",
				GrantTypes: []string{"password"},
			},
		},
		{
			name: "private_key_jwt_without_jwks",
			payload: models.RegisterAppRequest{
				ClientID:   "asymmetric-app",
				Name:       "Asymmetric App",
				GrantTypes: []string{"client_credentials"},
				AuthMethod: "private_key_jwt",
			},
		},
	}

	router, _ := newAdminRouter(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/apps", tt.payload)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "invalid_request", body["error"])
			assert.NotEmpty(t, body["error_description"])
		})
	}
}

func TestAdminHandler_RegisterApp_Conflict(t *testing.T) {
	t.Parallel()

	router, _ := newAdminRouter(t)

	payload := models.RegisterAppRequest{
		ClientID:   "dup-app",
		Name:       "Duplicate",
		GrantTypes: []string{"client_credentials"},
	}

	require.Equal(t, http.StatusCreated, postJSON(t, router, "/apps", payload).Code)

	rec := postJSON(t, router, "/apps", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body["error"])
}

func TestAdminHandler_ListApps_UpstreamDown(t *testing.T) {
	t.Parallel()

	router := newFailingAdminRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apps", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "temporarily_unavailable", body["error"])
	assert.NotEmpty(t, body["error_description"])
}

func TestAdminHandler_DeleteApp_ForgetsRegistration(t *testing.T) {
	t.Parallel()

	cache, err := keycloak.NewRegistrationCache(filepath.Join(t.TempDir(), "registered.json"))
	require.NoError(t, err)
	require.NoError(t, cache.Record("startup-app"))

	router, _ := newAdminRouterWithCache(t, cache)

	require.Equal(t, http.StatusCreated, postJSON(t, router, "/apps", models.RegisterAppRequest{
		ClientID:   "startup-app",
		Name:       "Startup App",
		GrantTypes: []string{"client_credentials"},
	}).Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/apps/startup-app", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.False(t, cache.Has("startup-app"), "deleted app must be re-registered on the next startup")
}

func TestAdminHandler_GetApp_NotFound(t *testing.T) {
	t.Parallel()

	router, _ := newAdminRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/apps/missing-app", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandler_AppLifecycle(t *testing.T) {
	t.Parallel()

	router, hub := newAdminRouter(t)

	require.Equal(t, http.StatusCreated, postJSON(t, router, "/apps", models.RegisterAppRequest{
		ClientID:   "lifecycle-app",
		Name:       "Lifecycle",
		GrantTypes: []string{"client_credentials"},
	}).Code)

	// List includes it.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apps", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var apps []models.App
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, "lifecycle-app", apps[0].ClientID)

	// Rotate its secret.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/apps/lifecycle-app/secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.Equal(t, "rotated-secret", rotated["secret"])

	// Delete it.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/apps/lifecycle-app", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apps/lifecycle-app", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	types := make([]string, 0, 3)
	for _, event := range hub.Recent(models.TopicAdmin, 0) {
		types = append(types, event.Type)
	}
	assert.Equal(t, []string{"app_registered", "secret_rotated", "app_deleted"}, types)
}

func TestAdminHandler_CreateUser_Validation(t *testing.T) {
	t.Parallel()

	router, _ := newAdminRouter(t)

	rec := postJSON(t, router, "/users", models.CreateUserRequest{Email: "nobody@example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error_description"], "username")
}
