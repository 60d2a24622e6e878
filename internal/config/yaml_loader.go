package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// loadYAMLConfig loads operational configuration from YAML files based on the
// environment. It first loads defaults.yaml, then overlays environment-specific
// configuration (local.yaml, nonprod.yaml, or prod.yaml).
// Returns a map of configuration values to be merged into the main Config struct.
func loadYAMLConfig(env Environment) (map[string]interface{}, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("defaults")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	// Load defaults
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read defaults config: %w", err)
	}

	// Determine environment-specific config file
	var envConfigFile string
	switch env {
	case Local:
		envConfigFile = "local"
	case NonProd:
		envConfigFile = "nonprod"
	case Prod:
		envConfigFile = "prod"
	default:
		envConfigFile = "local"
	}

	// Load environment-specific overrides
	envViper := viper.New()
	envViper.SetConfigType("yaml")
	envViper.SetConfigName(envConfigFile)
	envViper.AddConfigPath("./configs")
	envViper.AddConfigPath("../configs")
	envViper.AddConfigPath("../../configs")

	if err := envViper.ReadInConfig(); err != nil {
		// Environment-specific config is optional, only return error if it's not a "file not found" error
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read %s config: %w", envConfigFile, err)
		}
	}

	// Merge environment-specific config into defaults
	if err := v.MergeConfigMap(envViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge environment config: %w", err)
	}

	return v.AllSettings(), nil
}

// ApplyOperationalOverrides overlays operational YAML settings (rate limits,
// monitor tuning, SMART capabilities) on top of the environment-derived
// configuration. Missing YAML files are not an error: environment variables
// and struct defaults remain authoritative.
func (c *Config) ApplyOperationalOverrides() error {
	settings, err := loadYAMLConfig(c.Environment.Environment)
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	if security, ok := settings["security"].(map[string]interface{}); ok {
		if rps, ok := security["rate_limit_rps"].(int); ok && rps > 0 {
			c.Security.RateLimitRPS = rps
		}
		if burst, ok := security["rate_limit_burst"].(int); ok && burst > 0 {
			c.Security.RateLimitBurst = burst
		}
	}

	if monitor, ok := settings["monitor"].(map[string]interface{}); ok {
		if size, ok := monitor["buffer_size"].(int); ok && size > 0 {
			c.Monitor.BufferSize = size
		}
		if queue, ok := monitor["client_queue"].(int); ok && queue > 0 {
			c.Monitor.ClientQueue = queue
		}
	}

	return nil
}
