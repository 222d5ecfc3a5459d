package databoard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connected dashboard consumer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	patterns map[string]struct{}

	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
}

// readPump consumes client messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	deadline := c.pingInterval + c.pongTimeout
	c.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("databoard read error", "error", err)
			} else {
				c.hub.logger.Debug("databoard connection closed", "error", err)
			}
			return
		}
		// Any inbound traffic keeps the connection alive.
		c.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck
		c.handleMessage(message)
	}
}

// writePump pushes queued messages and protocol pings to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case MsgTypeSubscribe:
		c.handleSubscribe(msg)
	case MsgTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case MsgTypePing:
		c.sendResponse(msg.ID, MsgTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *Client) handleSubscribe(msg Message) {
	sub, ok := c.decodeSubscribe(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, p := range sub.Patterns {
		c.patterns[p] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("databoard client subscribed", "patterns", sub.Patterns)
	c.sendResponse(msg.ID, MsgTypeResponse, map[string]any{"subscribed": sub.Patterns})
}

func (c *Client) handleUnsubscribe(msg Message) {
	sub, ok := c.decodeSubscribe(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, p := range sub.Patterns {
		delete(c.patterns, p)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, MsgTypeResponse, map[string]any{"unsubscribed": sub.Patterns})
}

func (c *Client) decodeSubscribe(msg Message) (SubscribePayload, bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return SubscribePayload{}, false
	}
	var sub SubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return SubscribePayload{}, false
	}
	return sub, true
}

// wants reports whether any of the client's patterns match the topic.
func (c *Client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.patterns {
		if matchTopic(p, topic) {
			return true
		}
	}
	return false
}

// trySend queues data for the write pump, dropping on a full buffer or
// a channel closed by concurrent disconnect.
func (c *Client) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendResponse(id, msgType string, payload any) {
	msg := Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(id, message string) {
	c.sendResponse(id, MsgTypeError, map[string]string{"message": message})
}
