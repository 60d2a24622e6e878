package config

// ServiceURLs contains URLs for upstream services based on environment.
// URLs are automatically configured based on the current environment setting;
// explicit KEYCLOAK_BASE_URL / FHIR_BASE_URL values always win.
type ServiceURLs struct {
	// KeycloakBaseURL is the base URL for the Keycloak authorization server.
	KeycloakBaseURL string
	// FHIRBaseURL is the base URL for the upstream FHIR server.
	FHIRBaseURL string
}

// GetServiceURLs returns environment-appropriate URLs for upstream services.
// It reads the environment from the config and returns the corresponding URLs.
// Calling code does not need to know about the environment - it's handled internally.
//
// Example usage:
//
//	cfg, _ := config.Load()
//	urls := cfg.GetServiceURLs()
//	issuer := urls.KeycloakBaseURL
func (c *Config) GetServiceURLs() ServiceURLs {
	switch c.Environment.Environment {
	case NonProd:
		fallthrough
	case Prod:
		return ServiceURLs{
			KeycloakBaseURL: "http://keycloak.auth.svc.cluster.local:8080",
			FHIRBaseURL:     "http://hapi-fhir.fhir.svc.cluster.local:8080/fhir",
		}
	case Local:
		fallthrough
	default:
		return ServiceURLs{
			KeycloakBaseURL: "http://localhost:8080",
			FHIRBaseURL:     "http://localhost:8090/fhir",
		}
	}
}
