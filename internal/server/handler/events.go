package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// StreamReader is the replay half of domain.SignalBus.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler replays the durable event stream for operators.
type EventsHandler struct {
	bus    StreamReader
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler over stream.
func NewEventsHandler(bus StreamReader, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, stream: stream, logger: logger}
}

type streamEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Replay returns up to limit events after the "after" cursor. The response
// carries the cursor for the next page.
// GET /api/events?after=<id>&limit=<n>
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		limit = n
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "read events", err)
		return
	}
	entries := make([]streamEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		entries = append(entries, streamEntry{ID: m.ID, Event: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries, "next": next})
}
