package models

import (
	"time"

	"github.com/google/uuid"
)

// EventTopic groups monitoring events for subscriber filtering.
type EventTopic string

const (
	// TopicOAuth covers token and authorization traffic observed by the gateway.
	TopicOAuth EventTopic = "oauth"
	// TopicFHIR covers proxied FHIR requests.
	TopicFHIR EventTopic = "fhir"
	// TopicAdmin covers app and user administration operations.
	TopicAdmin EventTopic = "admin"
	// TopicSystem covers gateway lifecycle and health events.
	TopicSystem EventTopic = "system"
)

// MonitorEvent is a single entry in the monitoring relay feed. Events are
// append-only observations; the dashboard keeps a bounded local list and
// re-renders as events arrive.
type MonitorEvent struct {
	// ID is the unique event identifier.
	ID string `json:"id"`
	// Topic is the subscription topic this event belongs to.
	Topic EventTopic `json:"topic"`
	// Type is the event type within the topic (e.g. "token_request",
	// "app_registered", "fhir_request").
	Type string `json:"type"`
	// Timestamp is when the event was observed.
	Timestamp time.Time `json:"timestamp"`
	// Method is the HTTP method of the observed request, if any.
	Method string `json:"method,omitempty"`
	// Path is the request path of the observed request, if any.
	Path string `json:"path,omitempty"`
	// Status is the HTTP response status of the observed request, if any.
	Status int `json:"status,omitempty"`
	// DurationMS is the observed request duration in milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`
	// ClientID is the OAuth2 client involved, when known.
	ClientID string `json:"client_id,omitempty"`
	// Detail carries event-specific structured data.
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// NewMonitorEvent creates a monitoring event with a fresh ID and timestamp.
func NewMonitorEvent(topic EventTopic, eventType string) *MonitorEvent {
	return &MonitorEvent{
		ID:        uuid.New().String(),
		Topic:     topic,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
