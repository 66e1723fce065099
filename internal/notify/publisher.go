package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// EventStream is the durable stream every event is appended to.
const EventStream = "events"

// Channel returns the pub/sub channel an event is delivered on. User events
// are private to the user; everything else is public to the market.
func Channel(evt domain.Event) string {
	if evt.UserID != "" {
		return "user:" + evt.UserID
	}
	return "market:" + evt.MarketID
}

// Publisher implements domain.EventPublisher. Events go to the signal bus
// synchronously; operator notifications are queued and sent by Run so a slow
// webhook never holds a market lock.
type Publisher struct {
	bus      domain.SignalBus
	notifier *Notifier
	queue    chan domain.Event
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. notifier may be nil.
func NewPublisher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		notifier: notifier,
		queue:    make(chan domain.Event, 256),
		logger:   logger,
	}
}

// Emit publishes evt. Delivery failures are logged, never returned.
func (p *Publisher) Emit(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.ErrorContext(ctx, "notify: marshal event",
			slog.String("type", string(evt.Type)), slog.String("error", err.Error()))
		return
	}

	ch := Channel(evt)
	if err := p.bus.Publish(ctx, ch, payload); err != nil {
		p.logger.WarnContext(ctx, "notify: publish failed",
			slog.String("channel", ch), slog.String("error", err.Error()))
	}
	if err := p.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		p.logger.WarnContext(ctx, "notify: stream append failed",
			slog.String("type", string(evt.Type)), slog.String("error", err.Error()))
	}

	if p.notifier == nil || !p.notifier.Enabled() || !p.notifier.Wants(string(evt.Type)) {
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.logger.WarnContext(ctx, "notify: queue full, dropping notification",
			slog.String("type", string(evt.Type)), slog.String("market_id", evt.MarketID))
	}
}

// Run sends queued operator notifications until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-p.queue:
			title, msg := Describe(evt)
			if err := p.notifier.Notify(ctx, string(evt.Type), title, msg); err != nil {
				p.logger.WarnContext(ctx, "notify: deliver notification",
					slog.String("type", string(evt.Type)), slog.String("error", err.Error()))
			}
		}
	}
}

// Describe renders an operator-facing title and body for evt.
func Describe(evt domain.Event) (title, message string) {
	title = strings.ReplaceAll(string(evt.Type), "_", " ")
	var b strings.Builder
	if evt.MarketID != "" {
		fmt.Fprintf(&b, "market: %s\n", evt.MarketID)
	}
	switch evt.Type {
	case domain.EventMarketSettled:
		title = "Market settled"
		fmt.Fprintf(&b, "%v\nresult: %v\npayouts: %v\nrefunds: %v\nmargin: %v",
			evt.Payload["question"], evt.Payload["result"], evt.Payload["payouts"],
			evt.Payload["refunds"], evt.Payload["margin"])
	case domain.EventMarketHalted:
		title = "Market halted"
		fmt.Fprintf(&b, "reason: %v", evt.Payload["reason"])
	case domain.EventOracleUnavailable:
		title = "Oracle unavailable"
		fmt.Fprintf(&b, "%v\nerror: %v", evt.Payload["question"], evt.Payload["error"])
	default:
		keys := make([]string, 0, len(evt.Payload))
		for k := range evt.Payload {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, evt.Payload[k])
		}
	}
	return title, strings.TrimRight(b.String(), "\n")
}
