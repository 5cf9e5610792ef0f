package domain

import "time"

// EventKind tags each event variant so bus subscribers can register for
// exactly the kinds they care about.
type EventKind string

const (
	EventAlertValidated EventKind = "alert_validated"
	EventRiskApproved   EventKind = "risk_approved"
	EventRiskRejected   EventKind = "risk_rejected"
	EventOrderSubmitted EventKind = "order_submitted"
	EventOrderFailed    EventKind = "order_failed"
	EventEmergencyStop  EventKind = "emergency_stop"
	EventEmergencyReset EventKind = "emergency_reset"
)

// Event is the closed set of pipeline events. Events are immutable value
// objects; the bus never mutates them.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
}

// AlertValidated is published once per successfully parsed alert.
type AlertValidated struct {
	At     time.Time
	Signal TradeSignal
}

func (e AlertValidated) Kind() EventKind       { return EventAlertValidated }
func (e AlertValidated) OccurredAt() time.Time { return e.At }

// RiskApproved is published when a signal passes all risk checks.
type RiskApproved struct {
	At     time.Time
	Signal TradeSignal
}

func (e RiskApproved) Kind() EventKind       { return EventRiskApproved }
func (e RiskApproved) OccurredAt() time.Time { return e.At }

// RiskRejected is the terminal event for signals the pipeline declined.
// Rejections are expected business outcomes, not errors.
type RiskRejected struct {
	At     time.Time
	Signal TradeSignal
	Reason RejectReason
}

func (e RiskRejected) Kind() EventKind       { return EventRiskRejected }
func (e RiskRejected) OccurredAt() time.Time { return e.At }

// OrderSubmitted is the terminal event for signals whose bracket order was
// accepted by the broker.
type OrderSubmitted struct {
	At            time.Time
	Signal        TradeSignal
	BrokerOrderID string
}

func (e OrderSubmitted) Kind() EventKind       { return EventOrderSubmitted }
func (e OrderSubmitted) OccurredAt() time.Time { return e.At }

// OrderFailed is the terminal event for signals whose submission failed at
// the broker boundary.
type OrderFailed struct {
	At     time.Time
	Signal TradeSignal
	Err    string
}

func (e OrderFailed) Kind() EventKind       { return EventOrderFailed }
func (e OrderFailed) OccurredAt() time.Time { return e.At }

// EmergencyStop announces that all new submissions are suspended, either
// because the breaker opened or the kill switch was engaged.
type EmergencyStop struct {
	At     time.Time
	Reason string
}

func (e EmergencyStop) Kind() EventKind       { return EventEmergencyStop }
func (e EmergencyStop) OccurredAt() time.Time { return e.At }

// EmergencyReset announces that trading resumed.
type EmergencyReset struct {
	At time.Time
}

func (e EmergencyReset) Kind() EventKind       { return EventEmergencyReset }
func (e EmergencyReset) OccurredAt() time.Time { return e.At }
