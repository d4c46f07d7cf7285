package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargenet/internal/events"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Frame is one outgoing message.
type Frame struct {
	Type      string    `json:"type"`
	Entity    string    `json:"entity,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	StationID string    `json:"station_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// frameType maps hub event types onto the wire vocabulary.
func frameType(eventType string) string {
	switch eventType {
	case events.TypeStationUpdated:
		return "station_status"
	case events.TypePortStatusChanged:
		return "port_status"
	case events.TypeSessionStarted, events.TypeSessionUpdated, events.TypeSessionCompleted:
		return "session_update"
	case events.TypePaymentUpdated:
		return "payment_update"
	case events.TypeBookingUpdated:
		return "booking_update"
	default:
		return eventType
	}
}

// command is one incoming control message.
type command struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// client is one connected dashboard. It starts on the tenant firehose and
// may narrow or widen its topic set with subscribe/unsubscribe commands.
type client struct {
	conn     *websocket.Conn
	hub      *events.Hub
	tenantID string
	userID   string
	logger   *zap.Logger

	send   chan Frame
	done   chan struct{}
	topics map[string]struct{}
	sub    *events.Subscription
}

func newClient(conn *websocket.Conn, hub *events.Hub, tenantID, userID string, logger *zap.Logger) *client {
	c := &client{
		conn:     conn,
		hub:      hub,
		tenantID: tenantID,
		userID:   userID,
		logger:   logger,
		send:     make(chan Frame, sendBuffer),
		done:     make(chan struct{}),
		topics:   map[string]struct{}{"tenant:" + tenantID: {}},
	}
	c.resubscribe()
	return c
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer c.cleanup()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Info("websocket client disconnected",
				zap.String("tenant_id", c.tenantID),
				zap.String("user_id", c.userID),
				zap.Error(err))
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.enqueue(Frame{Type: "error", Message: "invalid command", Timestamp: time.Now().UTC()})
			continue
		}
		c.handle(cmd)
	}
}

func (c *client) handle(cmd command) {
	switch cmd.Action {
	case "subscribe":
		for _, topic := range cmd.Topics {
			if !validateTopic(topic, c.tenantID) {
				c.enqueue(Frame{Type: "error", Message: "invalid topic " + topic, Timestamp: time.Now().UTC()})
				return
			}
		}
		for _, topic := range cmd.Topics {
			c.topics[topic] = struct{}{}
		}
	case "unsubscribe":
		for _, topic := range cmd.Topics {
			delete(c.topics, topic)
		}
	case "ping":
		c.enqueue(Frame{Type: "pong", Timestamp: time.Now().UTC()})
		return
	default:
		c.enqueue(Frame{Type: "error", Message: "unknown action " + cmd.Action, Timestamp: time.Now().UTC()})
		return
	}

	c.resubscribe()
	c.enqueue(Frame{Type: "subscribed", Data: c.topicList(), Timestamp: time.Now().UTC()})
}

// resubscribe swaps the hub subscription for the current topic set. The old
// forward goroutine exits when its channel closes.
func (c *client) resubscribe() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	topics := c.topicList()
	if len(topics) == 0 {
		return
	}
	sub := c.hub.Subscribe(topics...)
	c.sub = sub
	go c.forward(sub)
}

// forward bridges one hub subscription into the send queue. Events from
// other tenants are dropped no matter which topic carried them.
func (c *client) forward(sub *events.Subscription) {
	for evt := range sub.Events() {
		if evt.TenantID != c.tenantID {
			continue
		}
		c.enqueue(Frame{
			Type:      frameType(evt.Type),
			Entity:    evt.Entity,
			EntityID:  evt.EntityID,
			StationID: evt.StationID,
			Data:      evt.Payload,
			Timestamp: evt.At,
		})
	}
}

func (c *client) topicList() []string {
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}

// enqueue drops the frame when the client cannot keep up.
func (c *client) enqueue(frame Frame) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.logger.Warn("dropping websocket frame, buffer full",
			zap.String("tenant_id", c.tenantID),
			zap.String("type", frame.Type))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, nil)
			return
		case frame := <-c.send:
			payload, err := json.Marshal(frame)
			if err != nil {
				c.logger.Warn("frame marshal failed", zap.Error(err))
				continue
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) cleanup() {
	if c.sub != nil {
		c.sub.Close()
	}
	close(c.done)
	_ = c.conn.Close()
}
