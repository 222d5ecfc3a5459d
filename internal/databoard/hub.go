package databoard

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/bus"
)

// Message types exchanged with dashboard clients.
const (
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypePing        = "ping"
	MsgTypePong        = "pong"
	MsgTypeEvent       = "event"
	MsgTypeResponse    = "response"
	MsgTypeError       = "error"

	// sendBufferSize is the per-client outbound message buffer.
	sendBufferSize = 256
)

// Message is the envelope for client-facing traffic.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SubscribePayload carries the point patterns a client wants. Patterns
// use the bus form: "deviceID/pointID", "deviceID/*", or "*".
type SubscribePayload struct {
	Patterns []string `json:"patterns"`
}

// Logger is the minimal logging interface the databoard needs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// Hub tracks connected dashboard clients and broadcasts point events
// to those whose subscriptions match.
type Hub struct {
	logger  Logger
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("databoard client connected", "clients", h.ClientCount())
}

// Unregister removes a client. Only the goroutine that removes the
// client from the map closes its send channel, so shutdown and pump
// exit cannot double-close.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("databoard client disconnected", "clients", h.ClientCount())
}

// Broadcast fans an event out to every client with a matching
// subscription. It never blocks on a slow client; a full send buffer
// drops the message for that client only.
func (h *Hub) Broadcast(ev bus.Event) {
	msg := Message{
		Type:      MsgTypeEvent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast message", "error", err)
		return
	}

	// Snapshot under the hub lock, send outside it.
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	topic := ev.Topic()
	for _, c := range clients {
		if c.wants(topic) {
			c.trySend(data)
		}
	}
}

// Feed pumps a bus subscription into the hub until the subscription
// ends. Blocks; run it on its own goroutine. Pattern filtering happens
// per client, so the feed normally subscribes to the whole stream.
func (h *Hub) Feed(sub *bus.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			h.Broadcast(ev)
		case <-sub.Done():
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client so their write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// matchTopic matches a subscription pattern against "deviceID/pointID".
func matchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	dev, pt, ok := strings.Cut(pattern, "/")
	topicDev, topicPt, _ := strings.Cut(topic, "/")
	if !ok {
		return dev == topicDev
	}
	if dev != topicDev {
		return false
	}
	return pt == "*" || pt == topicPt
}
