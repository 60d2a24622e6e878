package handlers_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/handlers"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
)

// newMonitorServer starts the monitoring endpoints on a test server and
// returns the hub they are bound to.
func newMonitorServer(t *testing.T) (*httptest.Server, *monitor.Hub) {
	t.Helper()

	logger := testLogger()
	hub := monitor.NewHub(16, 16, logger)

	cfg := &config.Config{
		Monitor: config.MonitorConfig{
			BufferSize:   16,
			ClientQueue:  16,
			PingInterval: 30 * time.Second,
		},
	}

	router := mux.NewRouter()
	handlers.NewMonitorHandler(hub, cfg, logger).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub
}

// waitForSubscribers blocks until the hub has the expected subscriber count.
func waitForSubscribers(t *testing.T, hub *monitor.Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", want, hub.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitorHandler_Recent(t *testing.T) {
	t.Parallel()

	server, hub := newMonitorServer(t)

	hub.Publish(models.NewMonitorEvent(models.TopicOAuth, "token_request"))
	hub.Publish(models.NewMonitorEvent(models.TopicFHIR, "fhir_request"))
	hub.Publish(models.NewMonitorEvent(models.TopicOAuth, "token_request"))

	tests := []struct {
		name      string
		query     string
		wantCount int
	}{
		{name: "all_events", query: "", wantCount: 3},
		{name: "topic_filter", query: "?topic=fhir", wantCount: 1},
		{name: "limit_keeps_newest", query: "?limit=2", wantCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + "/recent" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)

			var events []models.MonitorEvent
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
			assert.Len(t, events, tt.wantCount)
		})
	}
}

func TestMonitorHandler_Recent_InvalidLimit(t *testing.T) {
	t.Parallel()

	server, _ := newMonitorServer(t)

	for _, limit := range []string{"abc", "0", "-5"} {
		resp, err := http.Get(server.URL + "/recent?limit=" + limit)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit=%s", limit)
	}
}

func TestMonitorHandler_SSE(t *testing.T) {
	t.Parallel()

	server, hub := newMonitorServer(t)

	resp, err := http.Get(server.URL + "/events?topics=oauth")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	waitForSubscribers(t, hub, 1)

	// The fhir event should be filtered out; only the oauth event arrives.
	hub.Publish(models.NewMonitorEvent(models.TopicFHIR, "fhir_request"))
	hub.Publish(models.NewMonitorEvent(models.TopicOAuth, "token_request"))

	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()

	select {
	case payload := <-lines:
		var event models.MonitorEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &event))
		assert.Equal(t, models.TopicOAuth, event.Topic)
		assert.Equal(t, "token_request", event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE event")
	}
}

func TestMonitorHandler_SSE_OutlivesServerWriteTimeout(t *testing.T) {
	t.Parallel()

	logger := testLogger()
	hub := monitor.NewHub(16, 16, logger)

	cfg := &config.Config{
		Monitor: config.MonitorConfig{
			BufferSize:   16,
			ClientQueue:  16,
			PingInterval: 50 * time.Millisecond,
		},
	}

	router := mux.NewRouter()
	handlers.NewMonitorHandler(hub, cfg, logger).RegisterRoutes(router)

	server := httptest.NewUnstartedServer(router)
	server.Config.WriteTimeout = 200 * time.Millisecond
	server.Start()
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Keepalives must keep arriving well past the server's write timeout.
	deadline := time.Now().Add(600 * time.Millisecond)
	reader := bufio.NewReader(resp.Body)
	keepalives := 0
	for time.Now().Before(deadline) {
		line, readErr := reader.ReadString('\n')
		require.NoError(t, readErr, "stream must stay open past the write timeout")
		if strings.HasPrefix(line, ": keepalive") {
			keepalives++
		}
		if keepalives >= 5 {
			break
		}
	}

	assert.GreaterOrEqual(t, keepalives, 5)
}

func TestMonitorHandler_WebSocket(t *testing.T) {
	t.Parallel()

	server, hub := newMonitorServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?topics=fhir", nil)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	waitForSubscribers(t, hub, 1)

	hub.Publish(models.NewMonitorEvent(models.TopicOAuth, "token_request"))
	hub.Publish(models.NewMonitorEvent(models.TopicFHIR, "fhir_request"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.MonitorEvent
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, models.TopicFHIR, event.Topic)
	assert.Equal(t, "fhir_request", event.Type)
}

func TestMonitorHandler_WebSocket_ControlSubscribe(t *testing.T) {
	t.Parallel()

	server, hub := newMonitorServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?topics=fhir", nil)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	waitForSubscribers(t, hub, 1)

	require.NoError(t, conn.WriteJSON(monitor.ControlMessage{
		Action: "subscribe",
		Topics: []string{"admin"},
	}))

	// The control message is applied asynchronously by the read pump.
	time.Sleep(100 * time.Millisecond)

	hub.Publish(models.NewMonitorEvent(models.TopicAdmin, "app_registered"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.MonitorEvent
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, models.TopicAdmin, event.Topic)
}
