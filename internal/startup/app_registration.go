// Package startup provides utilities for service initialization including
// SMART app auto-registration from configuration files.
package startup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/keycloak"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

// AppRegistrationService handles automatic SMART app registration in the
// upstream realm during service startup. A JSON scratch cache records which
// apps were already registered so repeated startups skip redundant calls;
// the realm remains authoritative.
type AppRegistrationService struct {
	config *config.Config
	kc     *keycloak.Service
	cache  *keycloak.RegistrationCache
	logger *logrus.Logger
}

// NewAppRegistrationService creates a new app registration service.
func NewAppRegistrationService(
	cfg *config.Config,
	kc *keycloak.Service,
	cache *keycloak.RegistrationCache,
	logger *logrus.Logger,
) *AppRegistrationService {
	return &AppRegistrationService{
		config: cfg,
		kc:     kc,
		cache:  cache,
		logger: logger,
	}
}

// RegisterApps handles app registration based on configuration.
// It can register apps from a configuration file and/or create a sample app.
func (s *AppRegistrationService) RegisterApps(ctx context.Context) error {
	if s.config.AppAutoRegister.CreateSampleApp {
		if err := s.createSampleApp(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to create sample app")
		}
	}

	if s.config.AppAutoRegister.Enabled {
		if err := s.registerFromConfig(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to register apps from config")
			return err
		}
	}

	return nil
}

// createSampleApp creates a default public SMART app for local testing.
func (s *AppRegistrationService) createSampleApp(ctx context.Context) error {
	req := &models.RegisterAppRequest{
		ClientID:     "sample-smart-app",
		Name:         "Sample SMART App",
		RedirectURIs: []string{"http://localhost:3000/callback"},
		Scopes:       []string{"openid", "fhirUser", "launch/patient", "patient/*.read"},
		GrantTypes:   []string{string(models.GrantTypeAuthorizationCode)},
		Public:       true,
	}

	result, err := s.registerOnce(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create sample app: %w", err)
	}
	if result == nil {
		return nil // already registered
	}

	s.logger.WithFields(logrus.Fields{
		"client_id": result.App.ClientID,
	}).Info("Sample app created for testing")

	return nil
}

// registerFromConfig reads and registers apps from the configuration file.
func (s *AppRegistrationService) registerFromConfig(ctx context.Context) error {
	configPath := s.config.AppAutoRegister.ConfigPath

	// Validate and sanitize the config path for security
	if err := validateConfigPath(configPath); err != nil {
		s.logger.WithError(err).Error("Invalid config path")
		return fmt.Errorf("invalid config path: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		s.logger.WithField("config_path", configPath).Warn("App config file not found, skipping auto-registration")
		return nil
	}

	// #nosec G304 - configPath is validated above to prevent directory traversal
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open app config file: %w", err)
	}
	defer file.Close()

	var apps []models.RegisterAppRequest
	if decodeErr := json.NewDecoder(file).Decode(&apps); decodeErr != nil {
		return fmt.Errorf("failed to parse app config file: %w", decodeErr)
	}

	s.logger.WithFields(logrus.Fields{
		"config_path": configPath,
		"app_count":   len(apps),
	}).Info("Auto-registering apps from config file")

	for i := range apps {
		result, regErr := s.registerOnce(ctx, &apps[i])
		if regErr != nil {
			s.logger.WithFields(logrus.Fields{
				"client_id": apps[i].ClientID,
				"error":     regErr,
			}).Error("Failed to register app from config")
			continue
		}
		if result == nil {
			s.logger.WithFields(logrus.Fields{
				"client_id": apps[i].ClientID,
			}).Debug("App already registered, skipping")
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"client_id": result.App.ClientID,
			"name":      result.App.Name,
			"index":     i + 1,
			"total":     len(apps),
		}).Info("App registered from config")
	}

	return nil
}

// registerOnce registers an app unless the cache or the realm already has
// it. Returns nil without error when the app already exists.
func (s *AppRegistrationService) registerOnce(ctx context.Context, req *models.RegisterAppRequest) (*models.RegisterAppResponse, error) {
	if s.cache != nil && s.cache.Has(req.ClientID) {
		return nil, nil
	}

	result, err := s.kc.CreateApp(ctx, req)
	if err != nil {
		if errors.Is(err, keycloak.ErrAlreadyExists) {
			// Realm already has it; remember that so the next startup
			// does not ask again.
			s.recordInCache(req.ClientID)
			return nil, nil
		}
		return nil, err
	}

	s.recordInCache(req.ClientID)
	return result, nil
}

func (s *AppRegistrationService) recordInCache(clientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Record(clientID); err != nil {
		s.logger.WithError(err).Warn("Failed to update registration cache")
	}
}

// validateConfigPath validates the config path to prevent directory traversal attacks.
func validateConfigPath(configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in config path")
	}

	if filepath.IsAbs(cleanPath) {
		if err := validateAbsolutePath(cleanPath); err != nil {
			return err
		}
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must be a JSON file")
	}

	return nil
}

// validateAbsolutePath checks if absolute path is in allowed directories.
func validateAbsolutePath(cleanPath string) error {
	allowedPrefixes := []string{
		"/app/configs/",
		"/opt/app/configs/",
		"/usr/local/app/configs/",
	}

	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(cleanPath, prefix) {
			return nil
		}
	}

	// For development, also allow configs/ directory in current working directory
	cwd, err := os.Getwd()
	if err == nil {
		configsDir := filepath.Join(cwd, "configs")
		if strings.HasPrefix(cleanPath, configsDir) {
			return nil
		}
	}

	return errors.New("absolute paths not allowed outside of permitted directories")
}
