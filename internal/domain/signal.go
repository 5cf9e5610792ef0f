package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether the alert opens a long or short position.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Instrument is the traded security type.
type Instrument string

const (
	InstrumentEquity Instrument = "equity"
	InstrumentOption Instrument = "option"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// TradeSignal is a validated, normalized trade alert ready for risk
// evaluation. It is constructed once by the parser and flows read-only
// through the rest of the pipeline.
type TradeSignal struct {
	ID         string // UUID, assigned at parse time
	Symbol     string // underlying symbol, upper-cased
	Direction  Direction
	Instrument Instrument

	// Option fields; zero values for equities.
	Strike     decimal.Decimal
	Expiration time.Time // date resolution, local calendar
	OptionType OptionType

	Quantity    int // contracts or shares, always > 0
	EntryPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal // zero when the alert carries no target

	RawMessage string
	ReceivedAt time.Time
}

// HasTarget reports whether the alert included a profit target leg.
func (s TradeSignal) HasTarget() bool {
	return s.TargetPrice.IsPositive()
}

// RiskPerUnit is the per-contract (or per-share) distance between entry and
// stop price.
func (s TradeSignal) RiskPerUnit() decimal.Decimal {
	return s.EntryPrice.Sub(s.StopPrice).Abs()
}

// IdentityKey is a stable key derived from the signal's economic content
// (not its UUID). Re-posted or relayed copies of the same alert share one
// identity, which drives dedup and broker idempotency.
func (s TradeSignal) IdentityKey() string {
	parts := []string{
		s.Symbol,
		string(s.Direction),
		string(s.Instrument),
		s.Strike.String(),
		s.Expiration.Format("2006-01-02"),
		string(s.OptionType),
		strconv.Itoa(s.Quantity),
		s.EntryPrice.String(),
		s.StopPrice.String(),
		s.TargetPrice.String(),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
