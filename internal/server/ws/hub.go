// Package ws pushes market and user events from the signal bus to WebSocket
// clients. Market channels are public; a user channel reaches only the
// connections that identified as that user.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// busChannels are the bus patterns the hub listens on.
var busChannels = []string{"market:*", "user:*"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front of /ws.
	CheckOrigin: func(*http.Request) bool { return true },
}

// routed is one bus payload tagged with its concrete channel.
type routed struct {
	channel string
	data    []byte
}

// Hub tracks connected clients and routes bus events to them.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	startedAt time.Time
	inbox     chan routed

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub reading from bus. Nothing is delivered until Run.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		logger:    logger,
		startedAt: time.Now().UTC(),
		inbox:     make(chan routed, 256),
		clients:   make(map[*client]struct{}),
	}
}

// Run forwards bus events to subscribed clients until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for _, pattern := range busChannels {
		go h.pump(ctx, pattern)
	}
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case msg := <-h.inbox:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg routed) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg.channel) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: client too slow, dropping event",
				slog.String("channel", msg.channel), slog.String("user_id", c.userID))
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// add registers c and reports false once the hub has stopped.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected",
		slog.String("user_id", c.userID), slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("clients", len(h.clients)))
}

// pump subscribes to one bus pattern and feeds the hub inbox.
func (h *Hub) pump(ctx context.Context, pattern string) {
	msgs, err := h.bus.Subscribe(ctx, pattern)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("pattern", pattern), slog.String("error", err.Error()))
		return
	}
	for data := range msgs {
		ch := channelOf(data)
		if ch == "" {
			continue
		}
		select {
		case h.inbox <- routed{channel: ch, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// channelOf derives the concrete channel of an event payload; pattern
// subscriptions on the bus do not report it.
func channelOf(data []byte) string {
	var evt struct {
		MarketID string `json:"market_id"`
		UserID   string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return ""
	}
	if evt.UserID != "" {
		return "user:" + evt.UserID
	}
	return "market:" + evt.MarketID
}

// HandleWS upgrades the request and attaches a client. The X-User-ID header
// set by the gateway selects the private user channel, as on the REST routes.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, userID)
	c.greet(time.Since(h.startedAt))
	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}
