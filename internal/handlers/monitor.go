package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/config"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/constants"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/monitor"
)

const (
	// wsWriteTimeout bounds individual WebSocket writes.
	wsWriteTimeout = 10 * time.Second
	// defaultRecentLimit caps /recent responses when no limit is given.
	defaultRecentLimit = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by the middleware stack.
	},
}

// MonitorHandler serves the monitoring relay endpoints: WebSocket and SSE
// live streams plus a recent-events backfill.
type MonitorHandler struct {
	hub    *monitor.Hub
	config *config.Config
	logger *logrus.Logger
}

// NewMonitorHandler creates a monitoring handler bound to the given hub.
func NewMonitorHandler(hub *monitor.Hub, cfg *config.Config, logger *logrus.Logger) *MonitorHandler {
	return &MonitorHandler{
		hub:    hub,
		config: cfg,
		logger: logger,
	}
}

// RegisterRoutes registers monitoring endpoints on the provided router.
func (h *MonitorHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.WebSocket).Methods(http.MethodGet)
	router.HandleFunc("/events", h.SSE).Methods(http.MethodGet)
	router.HandleFunc("/recent", h.Recent).Methods(http.MethodGet)
}

// WebSocket upgrades the connection and streams events for the requested
// topics (?topics=oauth,fhir; empty means all). Clients may adjust their
// subscription in-stream with {"action":"subscribe","topics":[...]} messages.
func (h *MonitorHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	sub := h.hub.Register(parseTopics(r))

	go h.writePump(sub, conn)
	go h.readPump(sub, conn)
}

// readPump consumes subscription control messages until the client hangs up.
func (h *MonitorHandler) readPump(sub *monitor.Subscriber, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(sub)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg monitor.ControlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		h.hub.HandleControl(sub, msg)
	}
}

// writePump forwards hub events to the WebSocket connection and keeps it
// alive with periodic pings.
func (h *MonitorHandler) writePump(sub *monitor.Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(h.config.Monitor.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SSE streams events as Server-Sent Events for clients that cannot use
// WebSockets. Topic filtering works the same way as the WebSocket endpoint
// but the subscription is fixed for the connection's lifetime.
func (h *MonitorHandler) SSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// A long-lived stream must outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.WithError(err).Warn("Failed to clear write deadline for event stream")
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Register(parseTopics(r))
	defer h.hub.Unregister(sub)

	keepalive := time.NewTicker(h.config.Monitor.PingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case message, ok := <-sub.Send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", message)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Recent returns buffered events for dashboard backfill. Supports ?topic=
// and ?limit= query parameters.
func (h *MonitorHandler) Recent(w http.ResponseWriter, r *http.Request) {
	topic := models.EventTopic(r.URL.Query().Get("topic"))

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events := h.hub.Recent(topic, limit)

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(events); err != nil {
		h.logger.WithError(err).Error("Failed to encode recent events")
	}
}

// parseTopics reads the topics query parameter into typed topics.
func parseTopics(r *http.Request) []models.EventTopic {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	topics := make([]models.EventTopic, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			topics = append(topics, models.EventTopic(p))
		}
	}
	return topics
}
