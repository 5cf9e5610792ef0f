// Package risk owns all exposure bookkeeping. The manager is the sole
// mutator of open-position state; every admission decision happens under one
// lock so two concurrent signals can never both pass a limit check that only
// one should pass.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// Config holds the limits and the option contract multiplier.
type Config struct {
	Limits domain.RiskLimits
	// ContractMultiplier scales option risk (100 for standard US equity
	// options). Equity signals always use a multiplier of 1.
	ContractMultiplier int
}

// Decision is the outcome of evaluating one signal.
type Decision struct {
	Approved   bool
	Reason     domain.RejectReason // set when rejected
	RiskAmount decimal.Decimal
}

// reservation is risk admitted by Evaluate but not yet confirmed by the
// broker. It counts against every limit until Commit or Abort resolves it.
type reservation struct {
	signal     domain.TradeSignal
	riskAmount decimal.Decimal
}

// Manager enforces the configured risk limits. Evaluate atomically reserves
// the candidate's risk so the check and the eventual commit form a single
// admission decision; the broker call happens outside the lock and the
// reservation is resolved by Commit (success) or Abort (failure).
type Manager struct {
	mu         sync.Mutex
	limits     domain.RiskLimits
	multiplier decimal.Decimal
	open       map[string]domain.PositionExposure // positionID -> exposure
	reserved   map[string]reservation             // signalID -> pending admission
	logger     *slog.Logger
}

// NewManager creates a Manager with the given limits.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	mult := cfg.ContractMultiplier
	if mult <= 0 {
		mult = 100
	}
	return &Manager{
		limits:     cfg.Limits,
		multiplier: decimal.NewFromInt(int64(mult)),
		open:       make(map[string]domain.PositionExposure),
		reserved:   make(map[string]reservation),
		logger:     logger.With(slog.String("component", "risk")),
	}
}

// RiskAmount computes the dollar risk of a signal: quantity times the
// entry-to-stop distance, scaled by the contract multiplier for options.
func (m *Manager) RiskAmount(sig domain.TradeSignal) decimal.Decimal {
	amount := sig.RiskPerUnit().Mul(decimal.NewFromInt(int64(sig.Quantity)))
	if sig.Instrument == domain.InstrumentOption {
		amount = amount.Mul(m.multiplier)
	}
	return amount
}

// Evaluate checks the signal against all limits and, on approval, records a
// reservation keyed by signal ID. Counting both open positions and pending
// reservations closes the check-then-act window between evaluation and
// commit. Rejections are expected outcomes, never errors.
func (m *Manager) Evaluate(sig domain.TradeSignal) Decision {
	riskAmount := m.RiskAmount(sig)

	m.mu.Lock()
	defer m.mu.Unlock()

	inFlight := len(m.open) + len(m.reserved)
	if inFlight+1 > m.limits.MaxOpenPositions {
		m.logger.Warn("signal rejected: position limit",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.Int("open", inFlight),
			slog.Int("max", m.limits.MaxOpenPositions),
		)
		return Decision{Reason: domain.ReasonTooManyOpenPositions, RiskAmount: riskAmount}
	}

	if riskAmount.GreaterThan(m.limits.MaxRiskPerTrade) {
		m.logger.Warn("signal rejected: per-trade risk",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("risk", riskAmount.String()),
			slog.String("max", m.limits.MaxRiskPerTrade.String()),
		)
		return Decision{Reason: domain.ReasonPerTradeRiskExceeded, RiskAmount: riskAmount}
	}

	total := m.aggregateLocked().Add(riskAmount)
	if total.GreaterThan(m.limits.MaxAggregateRisk) {
		m.logger.Warn("signal rejected: aggregate risk",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("would_be", total.String()),
			slog.String("max", m.limits.MaxAggregateRisk.String()),
		)
		return Decision{Reason: domain.ReasonAggregateRiskExceed, RiskAmount: riskAmount}
	}

	m.reserved[sig.ID] = reservation{signal: sig, riskAmount: riskAmount}
	m.logger.Info("signal approved",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("risk", riskAmount.String()),
	)
	return Decision{Approved: true, RiskAmount: riskAmount}
}

// Commit promotes a reservation to an open position after the broker
// confirmed submission. Committing a signal that was never reserved (or was
// already committed) is a programming defect.
func (m *Manager) Commit(sig domain.TradeSignal) (domain.PositionExposure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reserved[sig.ID]
	if !ok {
		return domain.PositionExposure{}, domain.NewInvariantError("commit of unreserved signal %s", sig.ID)
	}
	delete(m.reserved, sig.ID)

	pos := domain.PositionExposure{
		ID:         uuid.New().String(),
		Signal:     res.signal,
		RiskAmount: res.riskAmount,
		OpenedAt:   time.Now().UTC(),
	}
	m.open[pos.ID] = pos

	m.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("risk", pos.RiskAmount.String()),
		slog.String("aggregate", m.aggregateLocked().String()),
	)
	return pos, nil
}

// Abort drops a reservation after a failed submission so its risk no longer
// counts against the limits.
func (m *Manager) Abort(signalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reserved[signalID]; !ok {
		return domain.NewInvariantError("abort of unreserved signal %s", signalID)
	}
	delete(m.reserved, signalID)
	m.logger.Info("reservation aborted", slog.String("signal_id", signalID))
	return nil
}

// Release removes an open position on explicit close or expiry.
func (m *Manager) Release(positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[positionID]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.open, positionID)
	m.logger.Info("position released",
		slog.String("position_id", positionID),
		slog.String("symbol", pos.Signal.Symbol),
		slog.String("aggregate", m.aggregateLocked().String()),
	)
	return nil
}

// AggregateRisk returns the summed risk of all committed, un-released
// positions. Reservations are excluded: they are admission bookkeeping, not
// confirmed exposure.
func (m *Manager) AggregateRisk() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total decimal.Decimal
	for _, p := range m.open {
		total = total.Add(p.RiskAmount)
	}
	return total
}

// OpenCount returns the number of committed open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// OpenPositions returns a snapshot of all open positions.
func (m *Manager) OpenPositions() []domain.PositionExposure {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.PositionExposure, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p)
	}
	return out
}

// aggregateLocked sums committed and reserved risk. Callers must hold mu.
func (m *Manager) aggregateLocked() decimal.Decimal {
	var total decimal.Decimal
	for _, p := range m.open {
		total = total.Add(p.RiskAmount)
	}
	for _, r := range m.reserved {
		total = total.Add(r.riskAmount)
	}
	return total
}
