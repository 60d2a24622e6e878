package proxy_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/proxy"
)

type capturePublisher struct {
	events []*models.MonitorEvent
}

func (p *capturePublisher) Publish(event *models.MonitorEvent) {
	p.events = append(p.events, event)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestNewFHIRProxy_InvalidUpstream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{name: "relative_url", url: "/fhir"},
		{name: "missing_scheme", url: "localhost:8090/fhir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := proxy.NewFHIRProxy(tt.url, 5*time.Second, nil, nil, quietLogger())
			assert.Error(t, err)
		})
	}
}

func TestFHIRProxy_ForwardsRequest(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotForwardedFor string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotForwardedFor = r.Header.Get("X-Forwarded-For")

		w.Header().Set("Content-Type", "application/fhir+json")
		w.Write([]byte(`{"resourceType":"Patient","id":"123"}`))
	}))
	defer upstream.Close()

	p, err := proxy.NewFHIRProxy(upstream.URL+"/fhir", 5*time.Second, nil, nil, quietLogger())
	require.NoError(t, err)

	gateway := httptest.NewServer(p.Handler("/fhir"))
	defer gateway.Close()

	req, err := http.NewRequest(http.MethodGet, gateway.URL+"/fhir/Patient/123", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token-abc")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/fhir/Patient/123", gotPath)
	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.NotEmpty(t, gotForwardedFor)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"resourceType":"Patient"`)
}

func TestFHIRProxy_PublishesMonitorEvent(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	publisher := &capturePublisher{}
	p, err := proxy.NewFHIRProxy(upstream.URL, 5*time.Second, publisher, nil, quietLogger())
	require.NoError(t, err)

	gateway := httptest.NewServer(p.Handler("/fhir"))
	defer gateway.Close()

	resp, err := http.Get(gateway.URL + "/fhir/Observation/missing")
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, models.TopicFHIR, event.Topic)
	assert.Equal(t, "fhir_request", event.Type)
	assert.Equal(t, http.MethodGet, event.Method)
	assert.Equal(t, "/Observation/missing", event.Path)
	assert.Equal(t, http.StatusNotFound, event.Status)
}

func TestFHIRProxy_CountsProxiedRequests(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_fhir_proxy_requests_total", Help: "test"},
		[]string{"method", "status_code"},
	)

	p, err := proxy.NewFHIRProxy(upstream.URL, 5*time.Second, nil, requests, quietLogger())
	require.NoError(t, err)

	gateway := httptest.NewServer(p.Handler("/fhir"))
	defer gateway.Close()

	for i := 0; i < 3; i++ {
		resp, getErr := http.Get(gateway.URL + "/fhir/Patient")
		require.NoError(t, getErr)
		resp.Body.Close()
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(requests.WithLabelValues(http.MethodGet, "200")))
}

func TestFHIRProxy_UpstreamUnavailable(t *testing.T) {
	t.Parallel()

	// Grab a port that nothing listens on.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	p, err := proxy.NewFHIRProxy(deadURL, time.Second, nil, nil, quietLogger())
	require.NoError(t, err)

	gateway := httptest.NewServer(p.Handler("/fhir"))
	defer gateway.Close()

	resp, err := http.Get(gateway.URL + "/fhir/Patient/123")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "application/fhir+json", resp.Header.Get("Content-Type"))

	var outcome struct {
		ResourceType string `json:"resourceType"`
		Issue        []struct {
			Severity string `json:"severity"`
			Code     string `json:"code"`
		} `json:"issue"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, "OperationOutcome", outcome.ResourceType)
	require.Len(t, outcome.Issue, 1)
	assert.Equal(t, "error", outcome.Issue[0].Severity)
	assert.Equal(t, "transient", outcome.Issue[0].Code)
}
