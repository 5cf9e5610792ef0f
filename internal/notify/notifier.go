// Package notify delivers operator notifications for pipeline events.
// Notifications fan out to all registered senders (Discord webhook,
// Telegram) and can be filtered by event kind so operators only hear about
// the outcomes they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tradegate/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier (e.g. "discord").
	Name() string
}

// Notifier formats pipeline events into operator messages and dispatches
// them to every sender. The allowed set filters by event kind; an empty set
// allows everything.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only event
// kinds listed in kinds are forwarded; an empty list forwards all kinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[domain.EventKind(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// HandleEvent is the bus subscriber. Formatting failures and sender errors
// are logged, never propagated: notification delivery must not disturb the
// pipeline.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) {
	if len(n.allowed) > 0 && !n.allowed[ev.Kind()] {
		return
	}

	title, message, ok := formatEvent(ev)
	if !ok {
		return
	}
	n.dispatch(ctx, title, message)
}

// formatEvent renders an event as an operator-facing title and body. Events
// with no operator-facing story (e.g. AlertValidated) report ok=false.
func formatEvent(ev domain.Event) (title, message string, ok bool) {
	switch e := ev.(type) {
	case domain.OrderSubmitted:
		return "Order submitted",
			fmt.Sprintf("%s %s x%d @ %s (order %s)",
				strings.ToUpper(string(e.Signal.Direction)), e.Signal.Symbol,
				e.Signal.Quantity, e.Signal.EntryPrice, e.BrokerOrderID),
			true
	case domain.OrderFailed:
		return "Order FAILED",
			fmt.Sprintf("%s %s x%d: %s",
				strings.ToUpper(string(e.Signal.Direction)), e.Signal.Symbol,
				e.Signal.Quantity, e.Err),
			true
	case domain.RiskRejected:
		return "Signal rejected",
			fmt.Sprintf("%s %s x%d: %s",
				strings.ToUpper(string(e.Signal.Direction)), e.Signal.Symbol,
				e.Signal.Quantity, e.Reason),
			true
	case domain.EmergencyStop:
		return "TRADING HALTED", e.Reason, true
	case domain.EmergencyReset:
		return "Trading resumed", "submissions are flowing again", true
	default:
		return "", "", false
	}
}

// dispatch sends to every sender; one channel failing does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
