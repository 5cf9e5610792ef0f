package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
	"tradegate/internal/emergency"
	"tradegate/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignal(id string) domain.TradeSignal {
	return domain.TradeSignal{
		ID:         id,
		Symbol:     "AAPL",
		Direction:  domain.DirectionBuy,
		Instrument: domain.InstrumentOption,
		Strike:     decimal.RequireFromString("250"),
		Expiration: time.Date(2026, time.October, 10, 0, 0, 0, 0, time.UTC),
		OptionType: domain.OptionCall,
		Quantity:   1,
		EntryPrice: decimal.RequireFromString("1.29"),
		StopPrice:  decimal.RequireFromString("1.00"),
	}
}

// fakeBroker scripts submission outcomes.
type fakeBroker struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (b *fakeBroker) SubmitBracketOrder(_ context.Context, _ domain.TradeSignal) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return "ORD-1", nil
}

func (b *fakeBroker) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// fakeGate scripts the emergency controller answer and records outcomes.
type fakeGate struct {
	mu       sync.Mutex
	allow    bool
	outcomes []bool
	released int
}

func (g *fakeGate) MayProceed() bool { return g.allow }

func (g *fakeGate) RecordOutcome(_ context.Context, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes = append(g.outcomes, success)
}

func (g *fakeGate) ReleaseTrial() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
}

func (g *fakeGate) recorded() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bool(nil), g.outcomes...)
}

func (g *fakeGate) releaseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// capturingBus records published events.
type capturingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *capturingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *capturingBus) kinds() []domain.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventKind, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Kind()
	}
	return out
}

func (b *capturingBus) terminalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		switch ev.Kind() {
		case domain.EventRiskRejected, domain.EventOrderSubmitted, domain.EventOrderFailed:
			n++
		}
	}
	return n
}

func newRiskManager(maxOpen int) *risk.Manager {
	return risk.NewManager(risk.Config{
		Limits: domain.RiskLimits{
			MaxOpenPositions: maxOpen,
			MaxRiskPerTrade:  decimal.RequireFromString("500"),
			MaxAggregateRisk: decimal.RequireFromString("2000"),
		},
		ContractMultiplier: 100,
	}, testLogger())
}

func TestProcess_SuccessfulSubmission(t *testing.T) {
	broker := &fakeBroker{}
	gate := &fakeGate{allow: true}
	riskMgr := newRiskManager(5)
	bus := &capturingBus{}

	exec := New(broker, gate, riskMgr, bus, nil, testLogger())
	exec.Process(context.Background(), testSignal("s1"))

	assert.Equal(t, []domain.EventKind{domain.EventRiskApproved, domain.EventOrderSubmitted}, bus.kinds())
	assert.Equal(t, 1, bus.terminalCount())
	assert.Equal(t, []bool{true}, gate.recorded())
	assert.Equal(t, 1, riskMgr.OpenCount(), "reservation was committed")
}

func TestProcess_BrokerFailureAbortsReservation(t *testing.T) {
	broker := &fakeBroker{err: errors.New("rejected by exchange")}
	gate := &fakeGate{allow: true}
	riskMgr := newRiskManager(5)
	bus := &capturingBus{}

	exec := New(broker, gate, riskMgr, bus, nil, testLogger())
	exec.Process(context.Background(), testSignal("s1"))

	assert.Equal(t, []domain.EventKind{domain.EventRiskApproved, domain.EventOrderFailed}, bus.kinds())
	assert.Equal(t, 1, bus.terminalCount())
	assert.Equal(t, []bool{false}, gate.recorded())
	assert.Equal(t, 0, riskMgr.OpenCount())
	assert.True(t, riskMgr.AggregateRisk().IsZero(), "aborted risk no longer counts")

	// The freed slot admits the next signal.
	exec2broker := &fakeBroker{}
	exec2 := New(exec2broker, gate, riskMgr, bus, nil, testLogger())
	exec2.Process(context.Background(), testSignal("s2"))
	assert.Equal(t, 1, riskMgr.OpenCount())
}

func TestProcess_RiskRejection(t *testing.T) {
	broker := &fakeBroker{}
	gate := &fakeGate{allow: true}
	riskMgr := newRiskManager(1)
	bus := &capturingBus{}

	exec := New(broker, gate, riskMgr, bus, nil, testLogger())
	exec.Process(context.Background(), testSignal("s1"))
	exec.Process(context.Background(), testSignal("s2"))

	assert.Equal(t, 1, broker.callCount(), "rejected signal never reaches the broker")
	assert.Equal(t, 2, bus.terminalCount())

	kinds := bus.kinds()
	require.Len(t, kinds, 3)
	assert.Equal(t, domain.EventRiskRejected, kinds[2])

	// Risk rejections are not broker failures and must not feed the breaker,
	// but they must hand back a possible trial slot.
	assert.Equal(t, []bool{true}, gate.recorded())
	assert.Equal(t, 1, gate.releaseCount())
}

func TestProcess_SuppressedWhenGateVetoes(t *testing.T) {
	broker := &fakeBroker{}
	gate := &fakeGate{allow: false}
	riskMgr := newRiskManager(5)
	bus := &capturingBus{}

	exec := New(broker, gate, riskMgr, bus, nil, testLogger())
	exec.Process(context.Background(), testSignal("s1"))

	assert.Equal(t, 0, broker.callCount())
	assert.Equal(t, 0, riskMgr.OpenCount())

	kinds := bus.kinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, domain.EventRiskRejected, kinds[0])

	rej := bus.events[0].(domain.RiskRejected)
	assert.Equal(t, domain.ReasonSuppressed, rej.Reason)
}

func TestProcess_DuplicateSuppressedSilently(t *testing.T) {
	broker := &fakeBroker{}
	gate := &fakeGate{allow: true}
	riskMgr := newRiskManager(5)
	bus := &capturingBus{}
	dedup := NewMemoryDedup(time.Minute)

	exec := New(broker, gate, riskMgr, bus, dedup, testLogger())

	// Same economic content, different UUIDs: one submission.
	exec.Process(context.Background(), testSignal("s1"))
	exec.Process(context.Background(), testSignal("s2"))

	assert.Equal(t, 1, broker.callCount())
	assert.Equal(t, 1, bus.terminalCount(), "duplicates publish no terminal event")
}

// abortFailingRisk wraps a real manager but loses every reservation, so
// Abort reports an invariant violation.
type abortFailingRisk struct {
	*risk.Manager
}

func (a *abortFailingRisk) Abort(signalID string) error {
	return domain.NewInvariantError("abort of unreserved signal %s", signalID)
}

func TestProcess_BrokerFailureCountedDespiteAbortError(t *testing.T) {
	broker := &fakeBroker{err: errors.New("rejected by exchange")}
	gate := &fakeGate{allow: true}
	bus := &capturingBus{}

	exec := New(broker, gate, &abortFailingRisk{newRiskManager(5)}, bus, nil, testLogger())
	exec.Process(context.Background(), testSignal("s1"))

	// A real broker failure feeds the breaker and publishes its terminal
	// event even when the reservation bookkeeping is broken.
	assert.Equal(t, []bool{false}, gate.recorded())
	kinds := bus.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, domain.EventOrderFailed, kinds[1])
}

func TestProcess_RejectedTrialFreesHalfOpenSlot(t *testing.T) {
	ctx := context.Background()
	bus := &capturingBus{}
	ctrl := emergency.NewController(emergency.Config{
		FailureThreshold: 1,
		FailureWindow:    5 * time.Minute,
		Cooldown:         10 * time.Minute,
	}, bus, testLogger())

	now := time.Date(2026, time.August, 23, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	ctrl.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	})
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}

	riskMgr := newRiskManager(5)
	healthyBroker := &fakeBroker{}
	failing := New(&fakeBroker{err: errors.New("rejected by exchange")}, ctrl, riskMgr, bus, nil, testLogger())
	healthy := New(healthyBroker, ctrl, riskMgr, bus, nil, testLogger())

	// One failed order opens the breaker at threshold 1.
	failing.Process(ctx, testSignal("s1"))
	require.Equal(t, emergency.StateOpen, ctrl.State().Breaker)

	// After cooldown the next signal is admitted as the trial but dies at
	// the risk check (100 contracts blow the per-trade limit). The trial
	// slot must come back instead of staying occupied forever.
	advance(11 * time.Minute)
	oversized := testSignal("s2")
	oversized.Quantity = 100
	healthy.Process(ctx, oversized)
	require.Equal(t, emergency.StateHalfOpen, ctrl.State().Breaker)
	assert.Equal(t, 0, healthyBroker.callCount(), "the rejected trial never reached the broker")

	// A later signal becomes the new trial; its success closes the breaker.
	advance(time.Hour)
	healthy.Process(ctx, testSignal("s3"))
	assert.Equal(t, emergency.StateClosed, ctrl.State().Breaker)
	assert.Equal(t, 1, healthyBroker.callCount())

	assert.Equal(t, []domain.EventKind{
		domain.EventRiskApproved,
		domain.EventEmergencyStop,
		domain.EventOrderFailed,
		domain.EventRiskRejected,
		domain.EventRiskApproved,
		domain.EventEmergencyReset,
		domain.EventOrderSubmitted,
	}, bus.kinds())
}

func TestHandleAlert_IgnoresOtherEvents(t *testing.T) {
	broker := &fakeBroker{}
	gate := &fakeGate{allow: true}
	bus := &capturingBus{}

	exec := New(broker, gate, newRiskManager(5), bus, nil, testLogger())
	exec.HandleAlert(context.Background(), domain.EmergencyReset{At: time.Now()})

	assert.Equal(t, 0, broker.callCount())
	assert.Empty(t, bus.kinds())
}

func TestHandleAlert_ProcessesValidatedAlert(t *testing.T) {
	broker := &fakeBroker{}
	gate := &fakeGate{allow: true}
	bus := &capturingBus{}

	exec := New(broker, gate, newRiskManager(5), bus, nil, testLogger())
	exec.HandleAlert(context.Background(), domain.AlertValidated{
		At:     time.Now(),
		Signal: testSignal("s1"),
	})

	assert.Equal(t, 1, broker.callCount())
}
