// Package main provides a CLI tool for managing SMART apps through the
// gateway admin API and for exercising the SMART Backend Services flow:
// generating signing keys, printing the public JWKS, and requesting tokens
// with a signed client assertion.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/assertion"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/token"
)

type appManager struct {
	baseURL string
	token   string
	client  *http.Client
}

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8445", "Gateway base URL")
		adminToken = flag.String("token", "", "Bearer token for admin API calls")
		configFile = flag.String("config", "", "Path to app configuration file")
		action     = flag.String("action", "register", "Action to perform: register, list, get, delete, rotate-secret, backend-token, auth-url")
		clientID   = flag.String("client-id", "", "Client ID for app operations")
		name       = flag.String("name", "", "App name for single registration")
		redirects  = flag.String("redirects", "", "Comma-separated redirect URIs")
		scopes     = flag.String("scopes", "", "Comma-separated scopes")
		grants     = flag.String("grants", "", "Comma-separated grant types")
		public     = flag.Bool("public", false, "Register as a public client (PKCE)")
		tokenURL   = flag.String("token-url", "", "Realm token endpoint for backend-token")
		authURL    = flag.String("auth-url", "", "Realm authorization endpoint for auth-url")
		algorithm  = flag.String("alg", "RS384", "Assertion signing algorithm: RS384 or ES384")
	)
	flag.Parse()

	manager := &appManager{
		baseURL: *baseURL,
		token:   *adminToken,
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	switch *action {
	case "register":
		runRegister(manager, *configFile, *name, *clientID, *redirects, *scopes, *grants, *public)
	case "list":
		apps, err := manager.listApps()
		if err != nil {
			fatal("Error listing apps: %v", err)
		}
		for i := range apps {
			printApp(&apps[i])
			fmt.Println()
		}
	case "get":
		requireClientID(*clientID)
		app, err := manager.getApp(*clientID)
		if err != nil {
			fatal("Error getting app: %v", err)
		}
		printApp(app)
	case "delete":
		requireClientID(*clientID)
		if err := manager.deleteApp(*clientID); err != nil {
			fatal("Error deleting app: %v", err)
		}
		fmt.Printf("App %s deleted\n", *clientID)
	case "rotate-secret":
		requireClientID(*clientID)
		secret, err := manager.rotateSecret(*clientID)
		if err != nil {
			fatal("Error rotating secret: %v", err)
		}
		fmt.Printf("New secret: %s\n", secret)
	case "backend-token":
		requireClientID(*clientID)
		if *tokenURL == "" {
			fatal("Token URL is required for backend-token")
		}
		if err := runBackendToken(*clientID, *tokenURL, *algorithm, *scopes); err != nil {
			fatal("Error requesting token: %v", err)
		}
	case "auth-url":
		requireClientID(*clientID)
		if *authURL == "" {
			fatal("Authorization URL is required for auth-url")
		}
		if err := runAuthURL(*clientID, *authURL, *redirects, *scopes); err != nil {
			fatal("Error building authorization URL: %v", err)
		}
	default:
		fatal("Unknown action: %s", *action)
	}
}

func runRegister(manager *appManager, configFile, name, clientID, redirects, scopes, grants string, public bool) {
	switch {
	case configFile != "":
		if err := manager.registerFromConfig(configFile); err != nil {
			fatal("Error registering from config: %v", err)
		}
	case name != "" && clientID != "":
		req := models.RegisterAppRequest{
			ClientID:     clientID,
			Name:         name,
			RedirectURIs: parseStringList(redirects),
			Scopes:       parseStringList(scopes),
			GrantTypes:   parseStringList(grants),
			Public:       public,
		}
		result, err := manager.registerApp(&req)
		if err != nil {
			fatal("Error registering app: %v", err)
		}
		fmt.Println("App registered successfully:")
		printApp(&result.App)
		if result.Secret != "" {
			fmt.Printf("Secret (shown once): %s\n", result.Secret)
		}
	default:
		fatal("Please specify -config, or both -name and -client-id, for registration")
	}
}

// runBackendToken generates an ephemeral key pair, prints its public JWKS
// (to be configured on the app's Keycloak client), signs a client assertion,
// and exchanges it for an access token.
func runBackendToken(clientID, tokenURL, algorithm, scopes string) error {
	keyPair, err := assertion.GenerateKeyPair(algorithm)
	if err != nil {
		return err
	}

	jwks, err := keyPair.PublicJWKS()
	if err != nil {
		return err
	}
	fmt.Printf("Public JWKS:\n%s\n\n", jwks)

	builder := assertion.NewBuilder(clientID, tokenURL, keyPair, 2*time.Minute)
	signed, err := builder.Sign()
	if err != nil {
		return err
	}

	tokenReq := models.TokenRequest{
		GrantType:           models.GrantTypeClientCredentials,
		ClientAssertionType: models.ClientAssertionType,
		ClientAssertion:     signed,
	}
	if scopes != "" {
		tokenReq.Scope = strings.Join(parseStringList(scopes), " ")
	}
	data := tokenReq.Values()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp models.TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return err
	}

	fmt.Printf("Access token: %s\n", tokenResp.AccessToken)
	fmt.Printf("Expires in: %ds\n", tokenResp.ExpiresIn)
	fmt.Printf("Scope: %s\n", tokenResp.Scope)
	return nil
}

// runAuthURL builds a PKCE-protected authorization request URL for a public
// app. The printed code verifier must be presented at the token exchange.
func runAuthURL(clientID, authURL, redirects, scopes string) error {
	redirectURIs := parseStringList(redirects)
	if len(redirectURIs) == 0 {
		return errors.New("at least one redirect URI is required for auth-url")
	}

	verifier, err := token.GenerateCodeVerifier()
	if err != nil {
		return err
	}
	challenge, err := token.CodeChallenge(verifier, token.CodeChallengeMethodS256)
	if err != nil {
		return err
	}
	state := uuid.NewString()

	params := url.Values{}
	params.Set("response_type", string(models.ResponseTypeCode))
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURIs[0])
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", token.CodeChallengeMethodS256)
	if scopes != "" {
		params.Set("scope", strings.Join(parseStringList(scopes), " "))
	}

	fmt.Printf("Code verifier (keep for the token exchange): %s\n", verifier)
	fmt.Printf("State: %s\n\n", state)
	fmt.Printf("Authorization URL:\n%s?%s\n", authURL, params.Encode())
	return nil
}

// validateConfigPath validates the config path to prevent directory traversal attacks.
func validateConfigPath(configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in config path")
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must be a JSON file")
	}

	return nil
}

func (am *appManager) registerFromConfig(configPath string) error {
	// Validate and sanitize the config path for security
	if err := validateConfigPath(configPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	// #nosec G304 - configPath is validated above to prevent directory traversal
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var configs []models.RegisterAppRequest
	if err := json.NewDecoder(file).Decode(&configs); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	fmt.Printf("Registering %d apps from config...\n", len(configs))

	for i := range configs {
		fmt.Printf("[%d/%d] Registering %s...", i+1, len(configs), configs[i].ClientID)
		result, err := am.registerApp(&configs[i])
		if err != nil {
			fmt.Printf(" FAILED: %v\n", err)
			continue
		}
		fmt.Printf(" SUCCESS\n")
		fmt.Printf("  Client ID: %s\n", result.App.ClientID)
		if result.Secret != "" {
			fmt.Printf("  Secret (shown once): %s\n", result.Secret)
		}
		fmt.Println()
	}

	return nil
}

func (am *appManager) registerApp(req *models.RegisterAppRequest) (*models.RegisterAppResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := am.do(http.MethodPost, "/api/v1/admin/apps", bytes.NewBuffer(payload), http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var result models.RegisterAppResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func (am *appManager) listApps() ([]models.App, error) {
	body, err := am.do(http.MethodGet, "/api/v1/admin/apps", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var apps []models.App
	if err := json.Unmarshal(body, &apps); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return apps, nil
}

func (am *appManager) getApp(clientID string) (*models.App, error) {
	body, err := am.do(http.MethodGet, "/api/v1/admin/apps/"+url.PathEscape(clientID), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var app models.App
	if err := json.Unmarshal(body, &app); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &app, nil
}

func (am *appManager) deleteApp(clientID string) error {
	_, err := am.do(http.MethodDelete, "/api/v1/admin/apps/"+url.PathEscape(clientID), nil, http.StatusNoContent)
	return err
}

func (am *appManager) rotateSecret(clientID string) (string, error) {
	body, err := am.do(http.MethodPost, "/api/v1/admin/apps/"+url.PathEscape(clientID)+"/secret", nil, http.StatusOK)
	if err != nil {
		return "", err
	}

	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return result["secret"], nil
}

func (am *appManager) do(method, path string, body io.Reader, wantStatus int) ([]byte, error) {
	req, err := http.NewRequest(method, am.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if am.token != "" {
		req.Header.Set("Authorization", "Bearer "+am.token)
	}

	resp, err := am.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		var errorResp map[string]string
		if json.Unmarshal(respBody, &errorResp) == nil && errorResp["error_description"] != "" {
			return nil, fmt.Errorf("API error: %s", errorResp["error_description"])
		}
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

func requireClientID(clientID string) {
	if clientID == "" {
		fatal("Client ID is required for this operation")
	}
}

func parseStringList(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

func printApp(app *models.App) {
	fmt.Printf("Client ID: %s\n", app.ClientID)
	fmt.Printf("Name: %s\n", app.Name)
	fmt.Printf("Redirect URIs: %s\n", strings.Join(app.RedirectURIs, ", "))
	fmt.Printf("Scopes: %s\n", strings.Join(app.Scopes, ", "))
	fmt.Printf("Grant Types: %s\n", strings.Join(app.GrantTypes, ", "))
	fmt.Printf("Auth Method: %s\n", app.AuthMethod)
	fmt.Printf("Public: %v\n", app.Public)
	fmt.Printf("Enabled: %v\n", app.Enabled)
	if !app.CreatedAt.IsZero() {
		fmt.Printf("Created: %s\n", app.CreatedAt.Format(time.RFC3339))
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
