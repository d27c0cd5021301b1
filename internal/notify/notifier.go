// Package notify forwards session events to chat channels (Telegram, Discord).
// Delivery can be filtered by event kind so operators only hear about the
// events they care about.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards kinds in the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Allows reports whether kind passes the filter.
func (n *Notifier) Allows(kind string) bool {
	return len(n.events) == 0 || n.events[kind]
}

// Notify sends to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Run subscribes to session events on bus and notifies for each one until
// ctx is done. Undecodable payloads are skipped.
func (n *Notifier) Run(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, domain.SessionEventsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	n.logger.Info("notify: relay started", slog.Int("senders", len(n.senders)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var evt domain.SessionEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				n.logger.Warn("notify: bad event payload", slog.String("error", err.Error()))
				continue
			}
			title, msg := Format(evt)
			// Sender errors are already logged in dispatch.
			_ = n.Notify(ctx, string(evt.Kind), title, msg)
		}
	}
}

// Format renders an event as a title and a message body.
func Format(evt domain.SessionEvent) (string, string) {
	var title string
	switch evt.Kind {
	case domain.EventBreakerLocked:
		title = "Circuit breaker locked"
	case domain.EventExecutionSubmitted:
		title = "Order submitted"
	case domain.EventExecutionFailed:
		title = "Order failed"
	case domain.EventTradeClosed:
		title = "Trade closed"
	case domain.EventPreflightRejected:
		title = "Preflight rejected"
	case domain.EventPreflightConfirmed:
		title = "Preflight confirmed"
	case domain.EventSessionStarted:
		title = "Session started"
	case domain.EventSessionArchived:
		title = "Sessions archived"
	default:
		title = string(evt.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "trader: %s", evt.TraderID)
	if evt.SessionID != "" {
		fmt.Fprintf(&b, "\nsession: %s", evt.SessionID)
	}
	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, evt.Data[k])
	}
	return title, b.String()
}
