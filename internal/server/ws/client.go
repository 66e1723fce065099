package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// client is one WebSocket connection and its channel subscriptions.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg changes market subscriptions:
//
//	{"action":"subscribe","channels":["market:<id>"]}
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// newClient subscribes to every market and, when identified, to the user's
// own channel.
func newClient(h *Hub, conn *websocket.Conn, userID string) *client {
	subs := map[string]bool{"market:*": true}
	if userID != "" {
		subs["user:"+userID] = true
	}
	return &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID, subs: subs}
}

// wants reports whether channel matches a subscription. User channels match
// exactly; market subscriptions may end in "*".
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	if !strings.HasPrefix(channel, "market:") {
		return false
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// apply handles a subscribe or unsubscribe request. The user channel is fixed
// at connect time, so only market channels are accepted.
func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		if !strings.HasPrefix(ch, "market:") {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

// greet queues the "connected" envelope ahead of any event.
func (c *client) greet(uptime time.Duration) {
	msg, err := json.Marshal(map[string]any{
		"type": "connected",
		"payload": map[string]any{
			"user_id":        c.userID,
			"uptime_seconds": int64(max(uptime, 0).Seconds()),
		},
	})
	if err == nil {
		c.send <- msg
	}
}

func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: connection closed unexpectedly",
					slog.String("user_id", c.userID), slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
