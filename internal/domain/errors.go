package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced position does not exist.
var ErrNotFound = errors.New("not found")

// RejectReason is the closed enum of risk rejection causes.
type RejectReason string

const (
	ReasonTooManyOpenPositions RejectReason = "too_many_open_positions"
	ReasonPerTradeRiskExceeded RejectReason = "per_trade_risk_exceeded"
	ReasonAggregateRiskExceed  RejectReason = "aggregate_risk_exceeded"
	// ReasonSuppressed marks signals dropped before risk evaluation because
	// the emergency controller vetoed processing.
	ReasonSuppressed RejectReason = "suppressed"
)

// ValidationError describes a malformed or inconsistent alert. Alerts that
// fail validation are logged and dropped before entering the pipeline.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid alert: " + e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// InvariantError indicates a programming defect (double commit, negative
// aggregate risk). It is the only error class allowed to escalate as a hard
// failure instead of an event.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Msg
}

// NewInvariantError builds an InvariantError with a formatted message.
func NewInvariantError(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is an invariant violation.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
