package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionExposure is the risk bookkeeping record for one open trade. It is
// created when an order submission is confirmed and removed on explicit
// close. Owned exclusively by the risk manager.
type PositionExposure struct {
	ID         string // UUID
	Signal     TradeSignal
	RiskAmount decimal.Decimal // quantity * |entry - stop| * multiplier
	OpenedAt   time.Time
}

// RiskLimits is the read-only limit snapshot the risk manager enforces.
type RiskLimits struct {
	MaxOpenPositions int
	MaxRiskPerTrade  decimal.Decimal
	MaxAggregateRisk decimal.Decimal
}
