// Package monitor implements the gateway's monitoring relay. Traffic
// observations (token requests, proxied FHIR calls, admin operations) are
// published to a hub-and-spoke broadcaster; dashboard clients subscribe via
// WebSocket or Server-Sent Events, filtered by topic, and can backfill from
// a bounded buffer of recent events.
package monitor

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

// Subscriber represents a single dashboard connection. Events are delivered
// on Send as pre-marshaled JSON; a subscriber whose queue stays full is
// dropped rather than allowed to stall the relay.
type Subscriber struct {
	ID     string
	Send   chan []byte
	topics map[models.EventTopic]struct{}
}

// Wants reports whether the subscriber receives the given topic. An empty
// topic set means all topics.
func (s *Subscriber) Wants(topic models.EventTopic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// ControlMessage is an inbound subscription update from a dashboard client.
type ControlMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is the interface traffic-observing code publishes through.
type Publisher interface {
	Publish(event *models.MonitorEvent)
}

// Hub is the central broadcaster. All operations are thread-safe.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	recent      *ringBuffer
	queueDepth  int
	logger      *logrus.Logger
}

// NewHub creates a Hub retaining bufferSize recent events, with per-subscriber
// send queues of queueDepth.
func NewHub(bufferSize, queueDepth int, logger *logrus.Logger) *Hub {
	if queueDepth <= 0 {
		queueDepth = 1
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		recent:      newRingBuffer(bufferSize),
		queueDepth:  queueDepth,
		logger:      logger,
	}
}

// Register creates a subscriber for the given topics (nil or empty means all
// topics) and adds it to the hub.
func (h *Hub) Register(topics []models.EventTopic) *Subscriber {
	sub := &Subscriber{
		ID:   uuid.New().String(),
		Send: make(chan []byte, h.queueDepth),
	}
	if len(topics) > 0 {
		sub.topics = make(map[models.EventTopic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
		"topics":        topics,
	}).Debug("Monitor subscriber registered")

	return sub
}

// Unregister removes a subscriber and closes its Send channel. Safe to call
// more than once.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(sub)
}

func (h *Hub) unregisterLocked(sub *Subscriber) {
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.Send)

	h.logger.WithFields(logrus.Fields{
		"subscriber_id": sub.ID,
	}).Debug("Monitor subscriber unregistered")
}

// HandleControl applies an inbound subscription update from a client.
func (h *Hub) HandleControl(sub *Subscriber, msg ControlMessage) {
	topics := make([]models.EventTopic, 0, len(msg.Topics))
	for _, t := range msg.Topics {
		topics = append(topics, models.EventTopic(t))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		if sub.topics == nil {
			sub.topics = make(map[models.EventTopic]struct{}, len(topics))
		}
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	case "unsubscribe":
		for _, t := range topics {
			delete(sub.topics, t)
		}
	}
}

// Publish records the event in the recent buffer and delivers it to every
// subscriber interested in its topic. Subscribers whose queues are full are
// dropped so one stalled dashboard cannot back-pressure the gateway.
func (h *Hub) Publish(event *models.MonitorEvent) {
	h.recent.add(event)

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"event_id": event.ID,
			"error":    err,
		}).Error("Failed to marshal monitor event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if !sub.Wants(event.Topic) {
			continue
		}
		select {
		case sub.Send <- data:
		default:
			h.logger.WithFields(logrus.Fields{
				"subscriber_id": sub.ID,
			}).Warn("Dropping slow monitor subscriber")
			h.unregisterLocked(sub)
		}
	}
}

// Recent returns retained events in arrival order, optionally filtered by
// topic and bounded by limit.
func (h *Hub) Recent(topic models.EventTopic, limit int) []*models.MonitorEvent {
	return h.recent.snapshot(topic, limit)
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
