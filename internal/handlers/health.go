package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
)

const (
	// HealthCheckTimeout is the default timeout for health check operations.
	HealthCheckTimeout = 5 * time.Second
)

// Pinger abstracts the optional Redis connection for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	config     *config.Config
	redis      Pinger
	hub        *monitor.Hub
	logger     *logrus.Logger
	metrics    *Metrics
	httpClient *http.Client
	startTime  time.Time
}

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Details    map[string]interface{}     `json:"details,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Metrics holds Prometheus metrics for monitoring.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec

	// Monitoring relay metrics
	MonitorSubscribers prometheus.Gauge

	// Health metrics
	HealthChecksTotal     *prometheus.CounterVec
	ComponentHealthStatus *prometheus.GaugeVec
}

// NewHealthHandler creates a new health check handler. The redis pinger may
// be nil when rate limiting is disabled.
func NewHealthHandler(
	cfg *config.Config,
	redis Pinger,
	hub *monitor.Hub,
	logger *logrus.Logger,
) *HealthHandler {
	metrics := NewMetrics()
	prometheus.MustRegister(
		metrics.HTTPRequestsTotal,
		metrics.HTTPRequestDuration,
		metrics.ProxyRequestsTotal,
		metrics.MonitorSubscribers,
		metrics.HealthChecksTotal,
		metrics.ComponentHealthStatus,
	)

	return &HealthHandler{
		config:  cfg,
		redis:   redis,
		hub:     hub,
		logger:  logger,
		metrics: metrics,
		httpClient: &http.Client{
			Timeout: HealthCheckTimeout,
		},
		startTime: time.Now(),
	}
}

// NewMetrics creates and returns Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ProxyRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_fhir_proxy_requests_total",
				Help: "Total number of proxied FHIR requests",
			},
			[]string{"method", "status_code"},
		),
		MonitorSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_monitor_subscribers",
				Help: "Number of connected monitoring subscribers",
			},
		),
		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"endpoint", "status"},
		),
		ComponentHealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_component_health_status",
				Help: "Health status of service components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
	}
}

// RegisterRoutes registers health check and monitoring endpoints.
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Health provides a comprehensive health check including all components.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	h.logger.Debug("Processing health check request")

	components := make(map[string]ComponentHealth)
	overallStatus := StatusHealthy

	// Check the upstream authorization server (critical)
	keycloakHealth := h.checkKeycloak(ctx)
	components["keycloak"] = keycloakHealth
	if keycloakHealth.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	// Check the upstream FHIR server (critical)
	fhirHealth := h.checkFHIR(ctx)
	components["fhir"] = fhirHealth
	if fhirHealth.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	// Check Redis (optional, degrades rate limiting when unavailable)
	redisHealth := h.checkRedis(ctx)
	components["redis"] = redisHealth
	if redisHealth.Status != StatusHealthy && overallStatus == StatusHealthy {
		overallStatus = StatusDegraded
	}

	// Update Prometheus metrics
	statusLabel := string(overallStatus)
	h.metrics.HealthChecksTotal.WithLabelValues("health", statusLabel).Inc()

	for component, health := range components {
		healthValue := float64(0)
		if health.Status == StatusHealthy {
			healthValue = 1
		}
		h.metrics.ComponentHealthStatus.WithLabelValues(component).Set(healthValue)
	}
	h.metrics.MonitorSubscribers.Set(float64(h.hub.SubscriberCount()))

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    getVersion(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
		Details: map[string]interface{}{
			"check_duration":      time.Since(start).String(),
			"monitor_subscribers": h.hub.SubscriberCount(),
		},
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}

	h.logger.WithFields(logrus.Fields{
		"status":   overallStatus,
		"duration": time.Since(start).String(),
	}).Debug("Health check completed")
}

// Liveness provides a simple liveness check that returns 200 if the service is alive.
// This is used by Kubernetes to determine if the pod should be restarted.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.metrics.HealthChecksTotal.WithLabelValues("liveness", "healthy").Inc()

	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode liveness response")
	}
}

// Readiness checks if the service is ready to receive traffic.
// The gateway is ready once the upstream authorization server is reachable;
// Redis being down only degrades rate limiting.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	h.logger.Debug("Processing readiness check")

	components := make(map[string]ComponentHealth)
	ready := true

	keycloakHealth := h.checkKeycloak(ctx)
	components["keycloak"] = keycloakHealth
	if keycloakHealth.Status != StatusHealthy {
		ready = false
	}

	components["redis"] = h.checkRedis(ctx)

	statusLabel := "ready"
	if !ready {
		statusLabel = "not_ready"
	}
	h.metrics.HealthChecksTotal.WithLabelValues("readiness", statusLabel).Inc()

	response := ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode readiness response")
	}

	h.logger.WithFields(logrus.Fields{
		"ready":    ready,
		"duration": time.Since(start).String(),
	}).Debug("Readiness check completed")
}

// Metrics exposes the metric set for other handlers to record into.
func (h *HealthHandler) MetricSet() *Metrics {
	return h.metrics
}

// InstrumentHTTP records request counts and durations for every request
// passing through it.
func (m *Metrics) InstrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &metricsRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := metricPath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// metricPath collapses high-cardinality paths into stable label values.
func metricPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/fhir/"):
		return "/fhir"
	case strings.HasPrefix(path, "/api/v1/admin"):
		return "/api/v1/admin"
	case strings.HasPrefix(path, "/api/v1/monitor"):
		return "/api/v1/monitor"
	}
	return path
}

// metricsRecorder captures the status code for the instrumentation layer.
type metricsRecorder struct {
	http.ResponseWriter

	statusCode int
}

func (mr *metricsRecorder) WriteHeader(code int) {
	mr.statusCode = code
	mr.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (mr *metricsRecorder) Unwrap() http.ResponseWriter {
	return mr.ResponseWriter
}

func (mr *metricsRecorder) Flush() {
	if flusher, ok := mr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (mr *metricsRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := mr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// checkKeycloak probes the realm's discovery document.
func (h *HealthHandler) checkKeycloak(ctx context.Context) ComponentHealth {
	return h.checkEndpoint(ctx, "Keycloak", h.config.RealmURL()+"/.well-known/openid-configuration")
}

// checkFHIR probes the upstream FHIR server's capability statement.
func (h *HealthHandler) checkFHIR(ctx context.Context) ComponentHealth {
	return h.checkEndpoint(ctx, "FHIR server", h.config.FHIR.BaseURL+"/metadata")
}

// checkEndpoint performs a GET probe against an upstream URL.
func (h *HealthHandler) checkEndpoint(ctx context.Context, name, url string) ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return ComponentHealth{
			Status:      StatusUnhealthy,
			Message:     name + " probe request invalid: " + err.Error(),
			LastChecked: time.Now(),
		}
	}

	resp, err := h.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		h.logger.WithError(err).Warn(name + " health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      name + " unreachable: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      name + " returned server error",
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := name + " is healthy"
	if duration > time.Second {
		status = StatusDegraded
		message = name + " response time is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

// checkRedis checks Redis connectivity when rate limiting is enabled.
func (h *HealthHandler) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.redis == nil {
		return ComponentHealth{
			Status:      StatusHealthy,
			Message:     "Redis not configured (rate limiting disabled)",
			LastChecked: time.Now(),
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.redis.Ping(checkCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.WithError(err).Warn("Redis health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      "Redis connection failed: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	return ComponentHealth{
		Status:       StatusHealthy,
		Message:      "Redis is healthy",
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

// getVersion returns the service version (would typically come from build info).
func getVersion() string {
	// In a real deployment, this would be injected at build time
	return "1.0.0"
}
