package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/smart"
)

// maxEchoBodySize bounds the echo fixture's request body.
const maxEchoBodySize = 1 << 20

// smartConfigCacheTTL is how long a fetched discovery document is reused
// before the upstream is asked again.
const smartConfigCacheTTL = 5 * time.Minute

// GatewayHandler serves the gateway's fixture surface and the SMART
// discovery relay.
type GatewayHandler struct {
	config     *config.Config
	discoverer *smart.Discoverer
	logger     *logrus.Logger

	mu              sync.RWMutex
	cachedConfig    *smart.Configuration
	cachedConfigExp time.Time
}

// NewGatewayHandler creates a gateway handler.
func NewGatewayHandler(cfg *config.Config, discoverer *smart.Discoverer, logger *logrus.Logger) *GatewayHandler {
	return &GatewayHandler{
		config:     cfg,
		discoverer: discoverer,
		logger:     logger,
	}
}

// RegisterRoutes registers the fixture and discovery routes.
func (h *GatewayHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.Root).Methods(http.MethodGet)
	router.HandleFunc("/hello", h.Hello).Methods(http.MethodGet)
	router.HandleFunc("/echo", h.Echo).Methods(http.MethodPost)
	router.HandleFunc("/.well-known/smart-configuration", h.SmartConfiguration).Methods(http.MethodGet)
}

// Root handles GET / and returns the service banner.
func (h *GatewayHandler) Root(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"service": "smart-on-fhir-gateway",
		"version": getVersion(),
		"issuer":  h.config.RealmURL(),
		"fhir":    h.config.FHIR.BaseURL,
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode service banner")
	}
}

// Hello handles GET /hello, a plain liveness fixture used by the test
// harness.
func (h *GatewayHandler) Hello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypePlainUTF8)
	_, _ = w.Write([]byte("hello"))
}

// Echo handles POST /echo and reflects the request body back, used by the
// test harness to verify proxy plumbing end to end.
func (h *GatewayHandler) Echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEchoBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	contentType := r.Header.Get(constants.HeaderContentType)
	if contentType == "" {
		contentType = constants.ContentTypeJSON
	}

	w.Header().Set(constants.HeaderContentType, contentType)
	_, _ = w.Write(body)
}

// SmartConfiguration handles GET /.well-known/smart-configuration. The
// document is built from the upstream realm's OIDC discovery and cached
// briefly to spare the upstream on dashboard polls.
func (h *GatewayHandler) SmartConfiguration(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	cached := h.cachedConfig
	expiry := h.cachedConfigExp
	h.mu.RUnlock()

	if cached != nil && time.Now().Before(expiry) {
		h.writeConfig(w, cached)
		return
	}

	doc, err := h.discoverer.Discover(r.Context(), h.config.RealmURL())
	if err != nil {
		h.logger.WithError(err).Error("Upstream discovery failed")
		h.serveStaleOrError(w, cached)
		return
	}

	cfg := smart.BuildConfiguration(doc)
	if err := cfg.Validate(); err != nil {
		h.logger.WithError(err).Error("Upstream discovery document invalid")
		h.serveStaleOrError(w, cached)
		return
	}

	h.mu.Lock()
	h.cachedConfig = cfg
	h.cachedConfigExp = time.Now().Add(smartConfigCacheTTL)
	h.mu.Unlock()

	h.writeConfig(w, cfg)
}

func (h *GatewayHandler) writeConfig(w http.ResponseWriter, cfg *smart.Configuration) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.WithError(err).Error("Failed to encode smart configuration")
	}
}

// serveStaleOrError falls back to the last-good document when a refresh
// fails. An expired document beats no document; 502 is reserved for the
// first fetch having never succeeded.
func (h *GatewayHandler) serveStaleOrError(w http.ResponseWriter, cached *smart.Configuration) {
	if cached != nil {
		h.writeConfig(w, cached)
		return
	}

	oauthErr := models.NewTemporarilyUnavailable("upstream discovery failed")
	oauthErr.StatusCode = http.StatusBadGateway

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(oauthErr.StatusCode)
	if err := json.NewEncoder(w).Encode(oauthErr); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}
