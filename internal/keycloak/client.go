// Package keycloak relays SMART app and user administration to the upstream
// Keycloak realm's admin REST API. The realm is the authoritative store;
// the gateway translates its administrative view to and from Keycloak
// representations and never persists app or user records itself.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/client"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

// ErrNotFound indicates the requested app or user does not exist in the realm.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists indicates a conflicting app or user already exists.
var ErrAlreadyExists = errors.New("already exists")

// Service relays administrative operations to the Keycloak admin REST API.
type Service struct {
	admin  *client.OAuth2Client
	logger *logrus.Logger
}

// NewService creates a Keycloak admin relay backed by the gateway's admin
// service account. API calls target the realm admin base URL
// (e.g. "http://localhost:8080/admin/realms/smart").
func NewService(cfg *config.Config, logger *logrus.Logger) *Service {
	tokenManager := client.NewTokenManager(
		cfg.Keycloak.AdminClientID,
		cfg.Keycloak.AdminClientSecret,
		cfg.TokenURL(),
		logger,
	)
	base := client.NewBaseClient(cfg.AdminRealmURL(), cfg.Keycloak.Timeout, logger)
	return &Service{
		admin:  client.NewOAuth2Client(base, tokenManager),
		logger: logger,
	}
}

// NewServiceWithClient creates a Service with a pre-built admin client,
// used by tests to point the relay at a stub server.
func NewServiceWithClient(admin *client.OAuth2Client, logger *logrus.Logger) *Service {
	return &Service{admin: admin, logger: logger}
}

// CreateApp registers a SMART app as a Keycloak client. For confidential
// apps the generated secret is fetched and returned once; it is never
// stored by the gateway.
func (s *Service) CreateApp(ctx context.Context, req *models.RegisterAppRequest) (*models.RegisterAppResponse, error) {
	rep := appToRepresentation(req)

	resp, err := s.admin.DoWithAuth(ctx, http.MethodPost, "/clients", rep)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		// fall through
	case http.StatusConflict:
		return nil, fmt.Errorf("client %q: %w", req.ClientID, ErrAlreadyExists)
	default:
		return nil, s.admin.ParseErrorResponse(resp)
	}

	// Keycloak returns the new client's admin URL in the Location header;
	// the trailing segment is the internal UUID.
	id := idFromLocation(resp.Header.Get(constants.HeaderLocation))
	if id == "" {
		return nil, fmt.Errorf("create client response missing Location header")
	}

	app, err := s.getAppByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &models.RegisterAppResponse{App: *app}

	if !req.Public && app.AuthMethod != "private_key_jwt" {
		secret, err := s.fetchSecret(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Secret = secret
	}

	s.logger.WithFields(logrus.Fields{
		"client_id": app.ClientID,
		"id":        app.ID,
		"public":    app.Public,
	}).Info("SMART app registered")

	return result, nil
}

// GetApp looks up a registered app by its OAuth2 client identifier.
func (s *Service) GetApp(ctx context.Context, clientID string) (*models.App, error) {
	rep, err := s.findByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	app := representationToApp(rep)
	return &app, nil
}

// ListApps returns all apps registered in the realm, excluding Keycloak's
// built-in bookkeeping clients.
func (s *Service) ListApps(ctx context.Context) ([]models.App, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/clients", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	var reps []ClientRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&reps); err != nil {
		return nil, fmt.Errorf("failed to decode client list: %w", err)
	}

	apps := make([]models.App, 0, len(reps))
	for i := range reps {
		if isBuiltinClient(reps[i].ClientID) {
			continue
		}
		apps = append(apps, representationToApp(&reps[i]))
	}
	return apps, nil
}

// DeleteApp removes a registered app from the realm.
func (s *Service) DeleteApp(ctx context.Context, clientID string) error {
	rep, err := s.findByClientID(ctx, clientID)
	if err != nil {
		return err
	}

	resp, err := s.admin.DoWithAuth(ctx, http.MethodDelete, "/clients/"+url.PathEscape(rep.ID), nil)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return s.admin.ParseErrorResponse(resp)
	}

	s.logger.WithFields(logrus.Fields{
		"client_id": clientID,
	}).Info("SMART app deleted")

	return nil
}

// RotateSecret generates a fresh client secret for a confidential app and
// returns it. The previous secret stops working immediately.
func (s *Service) RotateSecret(ctx context.Context, clientID string) (string, error) {
	rep, err := s.findByClientID(ctx, clientID)
	if err != nil {
		return "", err
	}
	if rep.PublicClient {
		return "", fmt.Errorf("client %q is public and has no secret", clientID)
	}

	resp, err := s.admin.DoWithAuth(ctx, http.MethodPost, "/clients/"+url.PathEscape(rep.ID)+"/client-secret", nil)
	if err != nil {
		return "", fmt.Errorf("failed to rotate client secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.admin.ParseErrorResponse(resp)
	}

	var cred CredentialRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return "", fmt.Errorf("failed to decode client secret: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"client_id": clientID,
	}).Info("Client secret rotated")

	return cred.Value, nil
}

// CreateUser creates a user account in the realm.
func (s *Service) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	rep := &UserRepresentation{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Enabled:   true,
	}
	if req.FHIRPatientID != "" {
		rep.Attributes = map[string][]string{
			AttrFHIRPatientKey: {req.FHIRPatientID},
		}
	}

	resp, err := s.admin.DoWithAuth(ctx, http.MethodPost, "/users", rep)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		// fall through
	case http.StatusConflict:
		return nil, fmt.Errorf("user %q: %w", req.Username, ErrAlreadyExists)
	default:
		return nil, s.admin.ParseErrorResponse(resp)
	}

	id := idFromLocation(resp.Header.Get(constants.HeaderLocation))
	if id == "" {
		return nil, fmt.Errorf("create user response missing Location header")
	}

	user, err := s.getUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"username": user.Username,
		"id":       user.ID,
	}).Info("User created")

	return user, nil
}

// GetUser looks up a user by username.
func (s *Service) GetUser(ctx context.Context, username string) (*models.User, error) {
	rep, err := s.findUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	user := representationToUser(rep)
	return &user, nil
}

// ListUsers returns all user accounts in the realm.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	var reps []UserRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&reps); err != nil {
		return nil, fmt.Errorf("failed to decode user list: %w", err)
	}

	users := make([]models.User, 0, len(reps))
	for i := range reps {
		users = append(users, representationToUser(&reps[i]))
	}
	return users, nil
}

// DeleteUser removes a user account from the realm.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	rep, err := s.findUserByUsername(ctx, username)
	if err != nil {
		return err
	}

	resp, err := s.admin.DoWithAuth(ctx, http.MethodDelete, "/users/"+url.PathEscape(rep.ID), nil)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return s.admin.ParseErrorResponse(resp)
	}

	s.logger.WithFields(logrus.Fields{
		"username": username,
	}).Info("User deleted")

	return nil
}

// SetUserEnabled toggles a user account's enabled flag. Disabling revokes
// the account's ability to authenticate without deleting it.
func (s *Service) SetUserEnabled(ctx context.Context, username string, enabled bool) (*models.User, error) {
	rep, err := s.findUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	rep.Enabled = enabled

	resp, err := s.admin.DoWithAuth(ctx, http.MethodPut, "/users/"+url.PathEscape(rep.ID), rep)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	s.logger.WithFields(logrus.Fields{
		"username": username,
		"enabled":  enabled,
	}).Info("User enabled flag updated")

	user := representationToUser(rep)
	return &user, nil
}

// findByClientID resolves an OAuth2 client identifier to its full
// representation via Keycloak's clientId query filter.
func (s *Service) findByClientID(ctx context.Context, clientID string) (*ClientRepresentation, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/clients?clientId="+url.QueryEscape(clientID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	var reps []ClientRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&reps); err != nil {
		return nil, fmt.Errorf("failed to decode client lookup: %w", err)
	}

	// The clientId filter matches prefixes in some Keycloak versions, so
	// require an exact match.
	for i := range reps {
		if reps[i].ClientID == clientID {
			return &reps[i], nil
		}
	}
	return nil, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
}

// getAppByID fetches a client by its internal UUID.
func (s *Service) getAppByID(ctx context.Context, id string) (*models.App, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/clients/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	var rep ClientRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, fmt.Errorf("failed to decode client: %w", err)
	}

	app := representationToApp(&rep)
	return &app, nil
}

// fetchSecret retrieves the current secret for a confidential client.
func (s *Service) fetchSecret(ctx context.Context, id string) (string, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/clients/"+url.PathEscape(id)+"/client-secret", nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch client secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.admin.ParseErrorResponse(resp)
	}

	var cred CredentialRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return "", fmt.Errorf("failed to decode client secret: %w", err)
	}
	return cred.Value, nil
}

// findUserByUsername resolves a username to its full representation via
// Keycloak's exact-match username filter.
func (s *Service) findUserByUsername(ctx context.Context, username string) (*UserRepresentation, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/users?exact=true&username="+url.QueryEscape(username), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	var reps []UserRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&reps); err != nil {
		return nil, fmt.Errorf("failed to decode user lookup: %w", err)
	}

	for i := range reps {
		if reps[i].Username == username {
			return &reps[i], nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

// getUserByID fetches a user by internal UUID.
func (s *Service) getUserByID(ctx context.Context, id string) (*models.User, error) {
	resp, err := s.admin.DoWithAuth(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.admin.ParseErrorResponse(resp)
	}

	var rep UserRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	user := representationToUser(&rep)
	return &user, nil
}

// appToRepresentation maps a registration request to a Keycloak client
// representation, translating grant types to Keycloak flow flags.
func appToRepresentation(req *models.RegisterAppRequest) *ClientRepresentation {
	rep := &ClientRepresentation{
		ClientID:     req.ClientID,
		Name:         req.Name,
		Enabled:      true,
		PublicClient: req.Public,
		RedirectURIs: req.RedirectURIs,
		Protocol:     "openid-connect",
		Attributes: map[string]string{
			AttrCreated: time.Now().UTC().Format(time.RFC3339),
		},
		OptionalClientScopes: req.Scopes,
	}

	for _, gt := range req.GrantTypes {
		switch gt {
		case string(models.GrantTypeAuthorizationCode):
			rep.StandardFlowEnabled = true
		case string(models.GrantTypeClientCredentials):
			rep.ServiceAccountsEnabled = true
		}
	}

	// App-launch clients get the launch-context patient ID projected into
	// their tokens.
	if rep.StandardFlowEnabled {
		rep.ProtocolMappers = []ProtocolMapperRepresentation{patientClaimMapper()}
	}

	switch {
	case req.Public:
		rep.ClientAuthenticatorType = AuthenticatorClientSecret
		rep.Attributes[AttrPKCEMethod] = "S256"
	case req.AuthMethod == "private_key_jwt":
		rep.ClientAuthenticatorType = AuthenticatorSignedJWT
		rep.Attributes[AttrUseJWKSURL] = "true"
		rep.Attributes[AttrJWKSURL] = req.JWKSURL
		rep.Attributes[AttrTokenAuthSign] = "RS384"
	default:
		rep.ClientAuthenticatorType = AuthenticatorClientSecret
	}

	return rep
}

// patientClaimMapper builds the protocol mapper that copies the user's
// fhirPatientId attribute into the "patient" claim of issued tokens.
func patientClaimMapper() ProtocolMapperRepresentation {
	return ProtocolMapperRepresentation{
		Name:           "smart-patient-claim",
		Protocol:       "openid-connect",
		ProtocolMapper: "oidc-usermodel-attribute-mapper",
		Config: map[string]string{
			"user.attribute":       AttrFHIRPatientKey,
			"claim.name":           "patient",
			"jsonType.label":       "String",
			"id.token.claim":       "true",
			"access.token.claim":   "true",
			"userinfo.token.claim": "true",
		},
	}
}

// representationToApp maps a Keycloak client representation to the
// administrative view the gateway exposes.
func representationToApp(rep *ClientRepresentation) models.App {
	app := models.App{
		ID:           rep.ID,
		ClientID:     rep.ClientID,
		Name:         rep.Name,
		RedirectURIs: rep.RedirectURIs,
		Scopes:       rep.OptionalClientScopes,
		Public:       rep.PublicClient,
		Enabled:      rep.Enabled,
		JWKSURL:      rep.Attributes[AttrJWKSURL],
	}

	if rep.StandardFlowEnabled {
		app.GrantTypes = append(app.GrantTypes, string(models.GrantTypeAuthorizationCode))
	}
	if rep.ServiceAccountsEnabled {
		app.GrantTypes = append(app.GrantTypes, string(models.GrantTypeClientCredentials))
	}

	switch {
	case rep.PublicClient:
		app.AuthMethod = "none"
	case rep.ClientAuthenticatorType == AuthenticatorSignedJWT:
		app.AuthMethod = "private_key_jwt"
	default:
		app.AuthMethod = "client_secret_basic"
	}

	if created, ok := rep.Attributes[AttrCreated]; ok {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			app.CreatedAt = t
		}
	}

	return app
}

// representationToUser maps a Keycloak user representation to the
// administrative view the gateway exposes.
func representationToUser(rep *UserRepresentation) models.User {
	user := models.User{
		ID:            rep.ID,
		Username:      rep.Username,
		Email:         rep.Email,
		FirstName:     rep.FirstName,
		LastName:      rep.LastName,
		Enabled:       rep.Enabled,
		EmailVerified: rep.EmailVerified,
	}
	if ids := rep.Attributes[AttrFHIRPatientKey]; len(ids) > 0 {
		user.FHIRPatientID = ids[0]
	}
	if rep.CreatedAt > 0 {
		user.CreatedAt = time.UnixMilli(rep.CreatedAt).UTC()
	}
	return user
}

// idFromLocation extracts the trailing path segment from a Location header.
func idFromLocation(location string) string {
	if location == "" {
		return ""
	}
	if idx := strings.LastIndex(location, "/"); idx >= 0 {
		return location[idx+1:]
	}
	return location
}

// isBuiltinClient reports whether a clientId belongs to Keycloak's default
// realm clients rather than a registered SMART app.
func isBuiltinClient(clientID string) bool {
	switch clientID {
	case "account", "account-console", "admin-cli", "broker",
		"realm-management", "security-admin-console":
		return true
	}
	return false
}
