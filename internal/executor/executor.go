// Package executor orchestrates the execution pipeline: it consumes
// validated signals, gates them through the emergency controller and the
// risk manager, submits approved bracket orders to the broker, and publishes
// exactly one terminal event per signal.
package executor

import (
	"context"
	"log/slog"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/risk"
)

// Broker is the interface through which the executor submits orders. It is
// implemented by the TradeStation client; the broker owns its own timeout
// and retry policy, the executor calls it at most once per approved signal.
type Broker interface {
	SubmitBracketOrder(ctx context.Context, sig domain.TradeSignal) (orderID string, err error)
}

// Gate answers whether new submissions are currently allowed and consumes
// order outcomes. Implemented by the emergency controller. Every admitted
// signal must end in exactly one of RecordOutcome (a broker call was made)
// or ReleaseTrial (it died before the broker), or a half-open trial slot
// would stay occupied forever.
type Gate interface {
	MayProceed() bool
	RecordOutcome(ctx context.Context, success bool)
	ReleaseTrial()
}

// RiskManager is the slice of the risk manager the executor needs.
type RiskManager interface {
	Evaluate(sig domain.TradeSignal) risk.Decision
	Commit(sig domain.TradeSignal) (domain.PositionExposure, error)
	Abort(signalID string) error
}

// Publisher publishes pipeline events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Executor drives a validated signal through the decision pipeline. Shared
// state lives behind the Gate and RiskManager mutexes; the broker call, the
// only long-blocking operation, happens with no lock held.
type Executor struct {
	broker Broker
	gate   Gate
	riskMg RiskManager
	bus    Publisher
	dedup  domain.DedupStore
	logger *slog.Logger
}

// New creates an Executor. dedup may be nil to disable duplicate
// suppression (tests).
func New(broker Broker, gate Gate, riskMg RiskManager, bus Publisher, dedup domain.DedupStore, logger *slog.Logger) *Executor {
	return &Executor{
		broker: broker,
		gate:   gate,
		riskMg: riskMg,
		bus:    bus,
		dedup:  dedup,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// HandleAlert is the bus subscriber for AlertValidated events.
func (e *Executor) HandleAlert(ctx context.Context, ev domain.Event) {
	alert, ok := ev.(domain.AlertValidated)
	if !ok {
		return
	}
	e.Process(ctx, alert.Signal)
}

// Process runs the full decision pipeline for one signal. Every path
// publishes at most one terminal event (RiskRejected, OrderSubmitted, or
// OrderFailed); duplicates and commit invariant violations publish nothing.
func (e *Executor) Process(ctx context.Context, sig domain.TradeSignal) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)

	// 1. Duplicate suppression by signal identity, not UUID: the same alert
	// relayed twice must not produce two submission decisions.
	if e.dedup != nil {
		seen, err := e.dedup.Seen(ctx, sig.IdentityKey())
		if err != nil {
			log.Warn("dedup check failed, continuing without it",
				slog.String("error", err.Error()),
			)
		} else if seen {
			log.Debug("signal deduplicated, skipping")
			return
		}
	}

	// 2. Emergency gate. A vetoed signal is never risk-evaluated.
	if !e.gate.MayProceed() {
		log.Warn("signal suppressed: trading halted")
		e.bus.Publish(ctx, domain.RiskRejected{
			At:     time.Now().UTC(),
			Signal: sig,
			Reason: domain.ReasonSuppressed,
		})
		return
	}

	// 3. Risk admission. Evaluate reserves the exposure atomically; the
	// reservation is resolved below by Commit or Abort.
	dec := e.riskMg.Evaluate(sig)
	if !dec.Approved {
		// The gate admitted this signal but no broker call will happen, so
		// hand back a half-open trial slot instead of recording an outcome.
		e.gate.ReleaseTrial()
		e.bus.Publish(ctx, domain.RiskRejected{
			At:     time.Now().UTC(),
			Signal: sig,
			Reason: dec.Reason,
		})
		return
	}
	e.bus.Publish(ctx, domain.RiskApproved{At: time.Now().UTC(), Signal: sig})

	// 4. Submit. No component lock is held while we wait on the broker.
	orderID, err := e.broker.SubmitBracketOrder(ctx, sig)
	if err != nil {
		// The breaker sees the broker outcome before any bookkeeping that
		// could itself fail; an invariant error in Abort must not hide a
		// real submission failure from the failure count.
		e.gate.RecordOutcome(ctx, false)
		if abortErr := e.riskMg.Abort(sig.ID); abortErr != nil {
			log.Error("risk abort failed after broker error",
				slog.String("error", abortErr.Error()),
			)
		}
		log.Error("order submission failed", slog.String("error", err.Error()))
		e.bus.Publish(ctx, domain.OrderFailed{
			At:     time.Now().UTC(),
			Signal: sig,
			Err:    err.Error(),
		})
		return
	}
	e.gate.RecordOutcome(ctx, true)

	// 5. Confirmed: promote the reservation to an open position.
	pos, err := e.riskMg.Commit(sig)
	if err != nil {
		// Double commit or lost reservation is a programming defect; halt
		// this signal path loudly rather than publish a bogus outcome.
		log.Error("risk commit failed", slog.String("error", err.Error()))
		return
	}

	log.Info("order submitted",
		slog.String("order_id", orderID),
		slog.String("position_id", pos.ID),
		slog.String("risk", pos.RiskAmount.String()),
	)
	e.bus.Publish(ctx, domain.OrderSubmitted{
		At:            time.Now().UTC(),
		Signal:        sig,
		BrokerOrderID: orderID,
	})
}
