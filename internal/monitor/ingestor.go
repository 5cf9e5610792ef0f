package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/parser"
)

// Publisher publishes pipeline events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Ingestor filters gateway messages down to the watched alert channel,
// validates them through the parser, and publishes AlertValidated events.
// Messages that fail validation are logged and dropped; a malformed alert
// never reaches risk evaluation.
type Ingestor struct {
	parser    *parser.Parser
	bus       Publisher
	channelID string
	logger    *slog.Logger
}

// NewIngestor creates an Ingestor watching the given channel ID.
func NewIngestor(p *parser.Parser, bus Publisher, channelID string, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		parser:    p,
		bus:       bus,
		channelID: channelID,
		logger:    logger.With(slog.String("component", "ingestor")),
	}
}

// HandleMessage is the GatewayClient callback. Bot-authored messages are
// ignored so the pipeline cannot feed on its own notifications.
func (i *Ingestor) HandleMessage(ctx context.Context, msg ChannelMessage) {
	if msg.ChannelID != i.channelID || msg.AuthorBot || msg.Content == "" {
		return
	}

	now := time.Now()
	sig, err := i.parser.Parse(msg.Content, now)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			i.logger.Info("alert rejected",
				slog.String("reason", verr.Error()),
				slog.String("author_id", msg.AuthorID),
			)
		} else {
			i.logger.Error("alert validation error",
				slog.String("error", err.Error()),
			)
		}
		return
	}

	i.logger.Info("alert validated",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("instrument", string(sig.Instrument)),
		slog.Int("quantity", sig.Quantity),
	)
	i.bus.Publish(ctx, domain.AlertValidated{At: now.UTC(), Signal: sig})
}
