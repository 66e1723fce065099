package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/notify"
)

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	h := http.Header{}
	if user != "" {
		h.Set("X-User-ID", user)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello["type"])
	return conn
}

func publish(t *testing.T, bus *notify.LocalBus, evt domain.Event) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), notify.Channel(evt), payload))
}

func TestHubRoutesMarketAndPrivateEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewLocalBus(10)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	alice := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return bus.Subscribers() == len(busChannels) },
		2*time.Second, 5*time.Millisecond)
	_ = alice.SetReadDeadline(time.Now().Add(5 * time.Second))

	publish(t, bus, domain.Event{Type: domain.EventPriceUpdate, MarketID: "m1"})
	publish(t, bus, domain.Event{Type: domain.EventBalanceUpdate, UserID: "alice"})

	var types []domain.EventType
	for range 2 {
		var got domain.Event
		require.NoError(t, alice.ReadJSON(&got))
		types = append(types, got.Type)
	}
	assert.ElementsMatch(t, []domain.EventType{domain.EventPriceUpdate, domain.EventBalanceUpdate}, types)

	publish(t, bus, domain.Event{Type: domain.EventBalanceUpdate, UserID: "bob"})
	publish(t, bus, domain.Event{Type: domain.EventOrderExecuted, UserID: "alice"})

	var got domain.Event
	require.NoError(t, alice.ReadJSON(&got))
	assert.Equal(t, domain.EventOrderExecuted, got.Type, "bob's event is never delivered to alice")
}

func TestClientSubscriptions(t *testing.T) {
	c := newClient(nil, nil, "alice")
	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"market:*"}})

	assert.False(t, c.wants("market:m1"))
	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"market:m1", "user:bob", "user:*"}})
	assert.True(t, c.wants("market:m1"))
	assert.False(t, c.wants("user:bob"))
	assert.True(t, c.wants("user:alice"))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"market:*"}})
	assert.True(t, c.wants("market:m2"))
	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"market:*", "market:m1"}})
	assert.False(t, c.wants("market:m1"))

	anon := newClient(nil, nil, "")
	assert.True(t, anon.wants("market:m9"))
	assert.False(t, anon.wants("user:"))
}

func TestChannelOf(t *testing.T) {
	assert.Equal(t, "user:u", channelOf([]byte(`{"type":"x","market_id":"m","user_id":"u"}`)))
	assert.Equal(t, "market:m", channelOf([]byte(`{"type":"x","market_id":"m"}`)))
	assert.Equal(t, "", channelOf([]byte(`not json`)))
}

func TestHandleWSAfterHubStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(notify.NewLocalBus(1), slog.New(slog.NewTextHandler(io.Discard, nil)))
	stopped := make(chan struct{})
	go func() { _ = hub.Run(ctx); close(stopped) }()
	cancel()
	<-stopped

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestUserChannelRequiresHeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewLocalBus(10)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?user_id=alice", nil)
	require.NoError(t, err)
	defer conn.Close()
	var hello struct {
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "", hello.Payload["user_id"])

	require.Eventually(t, func() bool { return bus.Subscribers() == len(busChannels) },
		2*time.Second, 5*time.Millisecond)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	publish(t, bus, domain.Event{Type: domain.EventBalanceUpdate, UserID: "alice"})
	publish(t, bus, domain.Event{Type: domain.EventPriceUpdate, MarketID: "m1"})

	var got domain.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.EventPriceUpdate, got.Type, "query parameter does not open alice's channel")
}
