// Package proxy implements the gateway's FHIR reverse proxy. Requests under
// /fhir are forwarded to the upstream FHIR server with their Authorization
// header intact; the upstream validates issued tokens against the realm.
// Each proxied exchange is published to the monitoring relay.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
)

// FHIRProxy forwards requests to the upstream FHIR server.
type FHIRProxy struct {
	upstream  *url.URL
	proxy     *httputil.ReverseProxy
	publisher monitor.Publisher
	requests  *prometheus.CounterVec
	logger    *logrus.Logger
}

// NewFHIRProxy creates a reverse proxy to the given upstream base URL
// (e.g. "http://localhost:8090/fhir"). The publisher and requests counter
// may be nil, in which case no monitoring events or metrics are emitted.
func NewFHIRProxy(upstreamURL string, timeout time.Duration, publisher monitor.Publisher, requests *prometheus.CounterVec, logger *logrus.Logger) (*FHIRProxy, error) {
	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid FHIR upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("FHIR upstream URL must be absolute: %s", upstreamURL)
	}

	p := &FHIRProxy{
		upstream:  upstream,
		publisher: publisher,
		requests:  requests,
		logger:    logger,
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// The upstream sees the gateway as the client; keep the
			// original bearer token so it can authorize the call.
			pr.Out.Header.Set(constants.HeaderAuthorization, pr.In.Header.Get(constants.HeaderAuthorization))
			pr.Out.Host = upstream.Host
		},
		ErrorHandler: p.handleUpstreamError,
		Transport: &http.Transport{
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   16,
		},
	}
	p.proxy = rp

	return p, nil
}

// Handler returns the HTTP handler that strips the given route prefix
// (e.g. "/fhir") before forwarding and observes the exchange.
func (p *FHIRProxy) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Rewrite the path so /fhir/Patient/123 reaches the upstream as
		// {upstream.Path}/Patient/123.
		inner := strings.TrimPrefix(r.URL.Path, prefix)
		if !strings.HasPrefix(inner, "/") {
			inner = "/" + inner
		}
		r.URL.Path = inner

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		p.proxy.ServeHTTP(recorder, r)

		p.observe(r, recorder.status, time.Since(start))
	})
}

// handleUpstreamError answers a FHIR OperationOutcome when the upstream is
// unreachable, since FHIR clients expect FHIR-shaped errors.
func (p *FHIRProxy) handleUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"error":  err,
	}).Error("FHIR upstream request failed")

	outcome := fmt.Sprintf(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"transient","diagnostics":%q}]}`,
		"upstream FHIR server unavailable")

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeFHIRJSON)
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(outcome))
}

// observe publishes a monitoring event and counts the completed proxied
// exchange.
func (p *FHIRProxy) observe(r *http.Request, status int, duration time.Duration) {
	if p.requests != nil {
		p.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	}

	if p.publisher == nil {
		return
	}

	event := models.NewMonitorEvent(models.TopicFHIR, "fhir_request")
	event.Method = r.Method
	event.Path = r.URL.Path
	event.Status = status
	event.DurationMS = duration.Milliseconds()
	p.publisher.Publish(event)
}

// statusRecorder captures the response status for observability.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush forwards to the underlying writer so streamed upstream responses
// are not buffered.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
