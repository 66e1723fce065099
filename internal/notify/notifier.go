// Package notify delivers exchange events: to subscribers over the signal bus
// and, for operator-facing event types, to Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Sender is one operator notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every Sender, filtered by event type. An
// empty filter lets every event type through.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders and the event types in events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Wants reports whether event passes the filter.
func (n *Notifier) Wants(event string) bool {
	if len(n.allowed) == 0 {
		return true
	}
	_, ok := n.allowed[event]
	return ok
}

// Notify delivers to all senders in parallel when event passes the filter.
// Every sender is attempted; failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Wants(event) || len(n.senders) == 0 {
		return nil
	}

	errs := make([]error, len(n.senders))
	var wg sync.WaitGroup
	for i, s := range n.senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.WarnContext(ctx, "notify: send failed",
					slog.String("sender", s.Name()),
					slog.String("event", event),
					slog.String("error", err.Error()))
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: deliver %s: %w", event, err)
	}
	return nil
}
