package notify

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
)

type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) sentTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignal() domain.TradeSignal {
	return domain.TradeSignal{
		ID:         "sig-1",
		Symbol:     "AAPL",
		Direction:  domain.DirectionBuy,
		Instrument: domain.InstrumentOption,
		Quantity:   2,
		EntryPrice: decimal.RequireFromString("1.29"),
		StopPrice:  decimal.RequireFromString("1.00"),
	}
}

func TestHandleEvent_FormatsOrderSubmitted(t *testing.T) {
	sender := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	n.HandleEvent(context.Background(), domain.OrderSubmitted{
		At:            time.Now(),
		Signal:        testSignal(),
		BrokerOrderID: "ORD-42",
	})

	require.Len(t, sender.sentTitles(), 1)
	assert.Equal(t, "Order submitted", sender.titles[0])
	assert.Contains(t, sender.bodies[0], "BUY AAPL x2")
	assert.Contains(t, sender.bodies[0], "ORD-42")
}

func TestHandleEvent_FormatsFailuresAndHalts(t *testing.T) {
	sender := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())
	ctx := context.Background()

	n.HandleEvent(ctx, domain.OrderFailed{At: time.Now(), Signal: testSignal(), Err: "timeout"})
	n.HandleEvent(ctx, domain.RiskRejected{At: time.Now(), Signal: testSignal(), Reason: domain.ReasonPerTradeRiskExceeded})
	n.HandleEvent(ctx, domain.EmergencyStop{At: time.Now(), Reason: "breaker open"})
	n.HandleEvent(ctx, domain.EmergencyReset{At: time.Now()})

	assert.Equal(t,
		[]string{"Order FAILED", "Signal rejected", "TRADING HALTED", "Trading resumed"},
		sender.sentTitles())
}

func TestHandleEvent_AlertValidatedIsSilent(t *testing.T) {
	sender := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	n.HandleEvent(context.Background(), domain.AlertValidated{At: time.Now(), Signal: testSignal()})

	assert.Empty(t, sender.sentTitles())
}

func TestHandleEvent_KindFilter(t *testing.T) {
	sender := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{sender}, []string{"order_failed", " emergency_stop "}, testLogger())
	ctx := context.Background()

	n.HandleEvent(ctx, domain.OrderSubmitted{At: time.Now(), Signal: testSignal(), BrokerOrderID: "ORD-1"})
	n.HandleEvent(ctx, domain.OrderFailed{At: time.Now(), Signal: testSignal(), Err: "timeout"})
	n.HandleEvent(ctx, domain.EmergencyStop{At: time.Now(), Reason: "halt"})

	assert.Equal(t, []string{"Order FAILED", "TRADING HALTED"}, sender.sentTitles())
}

func TestHandleEvent_SenderFailureDoesNotStopOthers(t *testing.T) {
	broken := &fakeSender{name: "discord", err: errors.New("webhook 500")}
	healthy := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	n.HandleEvent(context.Background(), domain.EmergencyStop{At: time.Now(), Reason: "halt"})

	assert.Empty(t, broken.sentTitles())
	assert.Equal(t, []string{"TRADING HALTED"}, healthy.sentTitles())
}
