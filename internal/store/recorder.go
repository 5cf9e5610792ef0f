// Package store holds persistence helpers shared by the concrete store
// implementations.
package store

import (
	"context"
	"log/slog"

	"tradegate/internal/domain"
)

// Recorder mirrors every pipeline event into the audit store. Audit writes
// are best-effort: a storage failure is logged and never blocks the
// pipeline.
type Recorder struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing to the given audit store.
func NewRecorder(audit domain.AuditStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_recorder")),
	}
}

// HandleEvent is the bus subscriber.
func (r *Recorder) HandleEvent(ctx context.Context, ev domain.Event) {
	detail := eventDetail(ev)
	if err := r.audit.Log(ctx, string(ev.Kind()), detail); err != nil {
		r.logger.ErrorContext(ctx, "audit write failed",
			slog.String("event", string(ev.Kind())),
			slog.String("error", err.Error()),
		)
	}
}

// eventDetail flattens an event into the JSONB detail map.
func eventDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"occurred_at": ev.OccurredAt(),
	}

	addSignal := func(sig domain.TradeSignal) {
		detail["signal_id"] = sig.ID
		detail["symbol"] = sig.Symbol
		detail["direction"] = string(sig.Direction)
		detail["instrument"] = string(sig.Instrument)
		detail["quantity"] = sig.Quantity
		detail["entry_price"] = sig.EntryPrice.String()
		detail["stop_price"] = sig.StopPrice.String()
		if sig.HasTarget() {
			detail["target_price"] = sig.TargetPrice.String()
		}
	}

	switch e := ev.(type) {
	case domain.AlertValidated:
		addSignal(e.Signal)
	case domain.RiskApproved:
		addSignal(e.Signal)
	case domain.RiskRejected:
		addSignal(e.Signal)
		detail["reason"] = string(e.Reason)
	case domain.OrderSubmitted:
		addSignal(e.Signal)
		detail["broker_order_id"] = e.BrokerOrderID
	case domain.OrderFailed:
		addSignal(e.Signal)
		detail["error"] = e.Err
	case domain.EmergencyStop:
		detail["reason"] = e.Reason
	case domain.EmergencyReset:
		// No extra fields.
	}
	return detail
}
