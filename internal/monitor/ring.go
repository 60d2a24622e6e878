package monitor

import (
	"sync"

	"github.com/quotentiroler/smart-on-fhir-proxy/gateway-service/internal/models"
)

// ringBuffer retains the most recent events so a dashboard connecting
// mid-stream can backfill its view. Oldest events are overwritten once the
// buffer is full.
type ringBuffer struct {
	mu     sync.RWMutex
	events []*models.MonitorEvent
	next   int
	full   bool
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer{
		events: make([]*models.MonitorEvent, capacity),
	}
}

func (r *ringBuffer) add(event *models.MonitorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = event
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns retained events in arrival order, optionally filtered to
// a single topic. A zero or negative limit returns everything retained.
func (r *ringBuffer) snapshot(topic models.EventTopic, limit int) []*models.MonitorEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	start := 0
	if r.full {
		size = len(r.events)
		start = r.next
	}

	out := make([]*models.MonitorEvent, 0, size)
	for i := 0; i < size; i++ {
		event := r.events[(start+i)%len(r.events)]
		if topic != "" && event.Topic != topic {
			continue
		}
		out = append(out, event)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
