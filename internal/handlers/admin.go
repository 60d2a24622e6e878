// Package handlers provides HTTP handlers for the gateway endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/keycloak"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
)

// AdminHandler handles SMART app and user administration endpoints. All
// operations are relayed to the upstream realm; the gateway holds no
// administrative state of its own beyond the auto-registration cache.
type AdminHandler struct {
	kc        *keycloak.Service
	config    *config.Config
	cache     *keycloak.RegistrationCache
	publisher monitor.Publisher
	logger    *logrus.Logger
}

// NewAdminHandler creates a new admin handler instance with the provided
// dependencies. The cache and publisher may be nil.
func NewAdminHandler(kc *keycloak.Service, cfg *config.Config, cache *keycloak.RegistrationCache, publisher monitor.Publisher, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		kc:        kc,
		config:    cfg,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterRoutes registers admin routes on the provided router.
// Note: The router should already have admin auth middleware applied.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/apps", h.ListApps).Methods(http.MethodGet)
	router.HandleFunc("/apps", h.RegisterApp).Methods(http.MethodPost)
	router.HandleFunc("/apps/{clientId}", h.GetApp).Methods(http.MethodGet)
	router.HandleFunc("/apps/{clientId}", h.DeleteApp).Methods(http.MethodDelete)
	router.HandleFunc("/apps/{clientId}/secret", h.RotateSecret).Methods(http.MethodPost)

	router.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	router.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/users/{username}", h.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/users/{username}", h.DeleteUser).Methods(http.MethodDelete)
	router.HandleFunc("/users/{username}/enabled", h.SetUserEnabled).Methods(http.MethodPut)
}

// ListApps handles GET /apps and returns all registered SMART apps.
func (h *AdminHandler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.kc.ListApps(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list apps")
		h.writeError(w, upstreamError("failed to list apps"))
		return
	}

	h.writeJSONResponse(w, apps, http.StatusOK)
}

// RegisterApp handles POST /apps and registers a new SMART app in the realm.
//
// Responses:
//   - 201: App registered; confidential apps receive their secret once
//   - 400: Invalid request payload
//   - 409: An app with the same client_id already exists
//   - 502: Upstream realm error
func (h *AdminHandler) RegisterApp(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, models.NewInvalidRequest("invalid request body"))
		return
	}

	if err := validateRegisterApp(&req); err != nil {
		h.writeError(w, models.NewInvalidRequest(err.Error()))
		return
	}

	result, err := h.kc.CreateApp(r.Context(), &req)
	if err != nil {
		if errors.Is(err, keycloak.ErrAlreadyExists) {
			h.writeError(w, conflictError("app already exists"))
			return
		}
		h.logger.WithError(err).Error("Failed to register app")
		h.writeError(w, upstreamError("failed to register app"))
		return
	}

	h.publish(models.TopicAdmin, "app_registered", result.App.ClientID)
	h.writeJSONResponse(w, result, http.StatusCreated)
}

// GetApp handles GET /apps/{clientId}.
func (h *AdminHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]

	app, err := h.kc.GetApp(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			h.writeError(w, notFoundError("app not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to fetch app")
		h.writeError(w, upstreamError("failed to fetch app"))
		return
	}

	h.writeJSONResponse(w, app, http.StatusOK)
}

// DeleteApp handles DELETE /apps/{clientId}. A deleted app is also removed
// from the auto-registration cache so a later startup re-registers it.
func (h *AdminHandler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]

	if err := h.kc.DeleteApp(r.Context(), clientID); err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			h.writeError(w, notFoundError("app not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to delete app")
		h.writeError(w, upstreamError("failed to delete app"))
		return
	}

	if h.cache != nil {
		if err := h.cache.Forget(clientID); err != nil {
			h.logger.WithError(err).WithField("client_id", clientID).Warn("Failed to update registration cache")
		}
	}

	h.publish(models.TopicAdmin, "app_deleted", clientID)
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /apps/{clientId}/secret. The new secret is
// returned once and not retrievable afterwards.
func (h *AdminHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]

	secret, err := h.kc.RotateSecret(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			h.writeError(w, notFoundError("app not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to rotate secret")
		h.writeError(w, upstreamError("failed to rotate secret"))
		return
	}

	h.publish(models.TopicAdmin, "secret_rotated", clientID)
	h.writeJSONResponse(w, map[string]string{"secret": secret}, http.StatusOK)
}

// ListUsers handles GET /users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.kc.ListUsers(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list users")
		h.writeError(w, upstreamError("failed to list users"))
		return
	}

	h.writeJSONResponse(w, users, http.StatusOK)
}

// CreateUser handles POST /users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, models.NewInvalidRequest("invalid request body"))
		return
	}

	if req.Username == "" {
		h.writeError(w, models.NewInvalidRequest("username is required"))
		return
	}

	user, err := h.kc.CreateUser(r.Context(), &req)
	if err != nil {
		if errors.Is(err, keycloak.ErrAlreadyExists) {
			h.writeError(w, conflictError("user already exists"))
			return
		}
		h.logger.WithError(err).Error("Failed to create user")
		h.writeError(w, upstreamError("failed to create user"))
		return
	}

	h.publish(models.TopicAdmin, "user_created", "")
	h.writeJSONResponse(w, user, http.StatusCreated)
}

// GetUser handles GET /users/{username}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	user, err := h.kc.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			h.writeError(w, notFoundError("user not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to fetch user")
		h.writeError(w, upstreamError("failed to fetch user"))
		return
	}

	h.writeJSONResponse(w, user, http.StatusOK)
}

// DeleteUser handles DELETE /users/{username}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	if err := h.kc.DeleteUser(r.Context(), username); err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			h.writeError(w, notFoundError("user not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to delete user")
		h.writeError(w, upstreamError("failed to delete user"))
		return
	}

	h.publish(models.TopicAdmin, "user_deleted", "")
	w.WriteHeader(http.StatusNoContent)
}

// SetUserEnabled handles PUT /users/{username}/enabled.
func (h *AdminHandler) SetUserEnabled(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	var req models.SetUserEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, models.NewInvalidRequest("invalid request body"))
		return
	}

	user, err := h.kc.SetUserEnabled(r.Context(), username, req.Enabled)
	if err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			h.writeError(w, notFoundError("user not found"))
			return
		}
		h.logger.WithError(err).Error("Failed to update user")
		h.writeError(w, upstreamError("failed to update user"))
		return
	}

	h.publish(models.TopicAdmin, "user_updated", "")
	h.writeJSONResponse(w, user, http.StatusOK)
}

// validateRegisterApp checks the registration payload before relaying it.
func validateRegisterApp(req *models.RegisterAppRequest) error {
	if req.ClientID == "" {
		return errors.New("client_id is required")
	}
	if len(req.GrantTypes) == 0 {
		return errors.New("at least one grant type is required")
	}
	for _, gt := range req.GrantTypes {
		switch gt {
		case string(models.GrantTypeAuthorizationCode):
			if len(req.RedirectURIs) == 0 {
				return errors.New("redirect_uris are required for the authorization_code grant")
			}
		case string(models.GrantTypeClientCredentials):
			if req.Public {
				return errors.New("public clients cannot use the client_credentials grant")
			}
		default:
			return errors.New("unsupported grant type: " + gt)
		}
	}
	if req.AuthMethod == "private_key_jwt" && req.JWKSURL == "" {
		return errors.New("jwks_url is required for private_key_jwt")
	}
	return nil
}

// notFoundError reports a missing realm resource. RFC 6749 has no dedicated
// code for this, so invalid_request carries a 404 status.
func notFoundError(description string) *models.OAuth2Error {
	err := models.NewInvalidRequest(description)
	err.StatusCode = http.StatusNotFound
	return err
}

// conflictError reports a duplicate realm resource as invalid_request with a
// 409 status.
func conflictError(description string) *models.OAuth2Error {
	err := models.NewInvalidRequest(description)
	err.StatusCode = http.StatusConflict
	return err
}

// upstreamError reports a realm failure as temporarily_unavailable with a
// 502 status, distinguishing upstream faults from gateway faults.
func upstreamError(description string) *models.OAuth2Error {
	err := models.NewTemporarilyUnavailable(description)
	err.StatusCode = http.StatusBadGateway
	return err
}

// publish emits an admin monitoring event.
func (h *AdminHandler) publish(topic models.EventTopic, eventType, clientID string) {
	if h.publisher == nil {
		return
	}
	event := models.NewMonitorEvent(topic, eventType)
	event.ClientID = clientID
	h.publisher.Publish(event)
}

// writeJSONResponse writes a JSON response with the given data and status code.
func (h *AdminHandler) writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an OAuth2 error response with its associated status code.
func (h *AdminHandler) writeError(w http.ResponseWriter, oauthErr *models.OAuth2Error) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(oauthErr.StatusCode)

	if err := json.NewEncoder(w).Encode(oauthErr); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}
