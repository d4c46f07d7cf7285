// Package events is the in-process pub/sub fabric for live platform updates.
// Delivery is at-most-once: slow subscribers lose events instead of stalling
// the publishers.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types carried over the hub.
const (
	TypePortStatusChanged = "port.status_changed"
	TypeSessionStarted    = "session.started"
	TypeSessionUpdated    = "session.updated"
	TypeSessionCompleted  = "session.completed"
	TypeBookingUpdated    = "booking.updated"
	TypePaymentUpdated    = "payment.updated"
	TypeStationUpdated    = "station.updated"
)

// Entity kinds used to build topics.
const (
	EntityStation = "station"
	EntityPort    = "port"
	EntitySession = "session"
	EntityBooking = "booking"
	EntityPayment = "payment"
)

// Event is a single broadcast message.
type Event struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	StationID string    `json:"station_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// Topics lists the channels this event fans out to: the tenant firehose, the
// entity itself, and the owning station when set.
func (e Event) Topics() []string {
	topics := make([]string, 0, 3)
	if e.TenantID != "" {
		topics = append(topics, "tenant:"+e.TenantID)
	}
	if e.Entity != "" && e.EntityID != "" {
		topics = append(topics, e.Entity+":"+e.EntityID)
	}
	if e.StationID != "" && (e.Entity != EntityStation || e.EntityID != e.StationID) {
		topics = append(topics, EntityStation+":"+e.StationID)
	}
	return topics
}

// Subscription is a handle to a topic set. Callers must Close it when done.
type Subscription struct {
	hub    *Hub
	topics []string
	ch     chan Event
	once   sync.Once
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// Hub fans events out to subscribers. A single dispatcher goroutine drains
// the publish queue, so all subscribers observe events in one global order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	queue  chan Event
	logger *zap.Logger
}

// NewHub builds event hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		queue:  make(chan Event, 256),
		logger: logger,
	}
}

// Run dispatches queued events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-h.queue:
			h.dispatch(evt)
		}
	}
}

// Publish enqueues an event without blocking. When the queue is full the
// event is dropped.
func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case h.queue <- evt:
	default:
		h.logger.Warn("event queue full, dropping event",
			zap.String("type", evt.Type),
			zap.String("entity_id", evt.EntityID))
	}
}

// Subscribe registers a handle for the given topics.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		hub:    h,
		topics: topics,
		ch:     make(chan Event, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		set, ok := h.subs[topic]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[topic] = set
		}
		set[sub] = struct{}{}
	}
	return sub
}

func (h *Hub) dispatch(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Subscription]struct{})
	for _, topic := range evt.Topics() {
		for sub := range h.subs[topic] {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			select {
			case sub.ch <- evt:
			default:
				h.logger.Warn("subscriber buffer full, dropping event",
					zap.String("topic", topic),
					zap.String("type", evt.Type))
			}
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range sub.topics {
		set, ok := h.subs[topic]
		if !ok {
			continue
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}
