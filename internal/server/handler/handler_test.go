package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
	"tradegate/internal/emergency"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRisk struct {
	positions []domain.PositionExposure
	aggregate decimal.Decimal
}

func (f *fakeRisk) OpenCount() int                 { return len(f.positions) }
func (f *fakeRisk) AggregateRisk() decimal.Decimal { return f.aggregate }
func (f *fakeRisk) OpenPositions() []domain.PositionExposure {
	return append([]domain.PositionExposure(nil), f.positions...)
}

type fakeEmergency struct {
	snap         emergency.Snapshot
	engagedWith  string
	clearedCount int
}

func (f *fakeEmergency) State() emergency.Snapshot { return f.snap }

func (f *fakeEmergency) EngageKillSwitch(_ context.Context, reason string) {
	f.engagedWith = reason
	f.snap.KillSwitchEngaged = true
	f.snap.KillSwitchReason = reason
}

func (f *fakeEmergency) ClearKillSwitch(_ context.Context) {
	f.clearedCount++
	f.snap.KillSwitchEngaged = false
	f.snap.KillSwitchReason = ""
}

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxOpenPositions: 5,
		MaxRiskPerTrade:  decimal.RequireFromString("500"),
		MaxAggregateRisk: decimal.RequireFromString("2000"),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(testLogger())
	rec := httptest.NewRecorder()

	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestGetStatus(t *testing.T) {
	risk := &fakeRisk{aggregate: decimal.RequireFromString("350")}
	emerg := &fakeEmergency{snap: emergency.Snapshot{
		Breaker:             emergency.StateOpen,
		ConsecutiveFailures: 3,
		OpenedAt:            time.Date(2026, time.August, 23, 9, 0, 0, 0, time.UTC),
	}}
	h := NewStatusHandler(risk, emerg, testLimits(), testLogger())
	rec := httptest.NewRecorder()

	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	breaker := body["breaker"].(map[string]any)
	assert.Equal(t, "open", breaker["state"])
	assert.Equal(t, float64(3), breaker["consecutive_failures"])
	assert.NotEmpty(t, breaker["opened_at"])

	riskBody := body["risk"].(map[string]any)
	assert.Equal(t, float64(0), riskBody["open_positions"])
	assert.Equal(t, "350", riskBody["aggregate_risk"])
	assert.Equal(t, "2000", riskBody["max_aggregate_risk"])
}

func TestListPositions_SortedOldestFirst(t *testing.T) {
	older := time.Date(2026, time.August, 23, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	risk := &fakeRisk{positions: []domain.PositionExposure{
		{
			ID: "p2",
			Signal: domain.TradeSignal{
				ID: "s2", Symbol: "TSLA", Direction: domain.DirectionSell,
				Instrument: domain.InstrumentEquity, Quantity: 100,
				EntryPrice: decimal.RequireFromString("200"),
				StopPrice:  decimal.RequireFromString("210"),
			},
			RiskAmount: decimal.RequireFromString("1000"),
			OpenedAt:   newer,
		},
		{
			ID: "p1",
			Signal: domain.TradeSignal{
				ID: "s1", Symbol: "AAPL", Direction: domain.DirectionBuy,
				Instrument: domain.InstrumentOption, Quantity: 2,
				EntryPrice:  decimal.RequireFromString("1.29"),
				StopPrice:   decimal.RequireFromString("1"),
				TargetPrice: decimal.RequireFromString("2.5"),
			},
			RiskAmount: decimal.RequireFromString("58"),
			OpenedAt:   older,
		},
	}}
	h := NewPositionHandler(risk, testLogger())
	rec := httptest.NewRecorder()

	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])

	positions := body["positions"].([]any)
	first := positions[0].(map[string]any)
	second := positions[1].(map[string]any)
	assert.Equal(t, "p1", first["id"])
	assert.Equal(t, "2.5", first["target_price"])
	assert.Equal(t, "p2", second["id"])
	_, hasTarget := second["target_price"]
	assert.False(t, hasTarget, "target_price is omitted when the signal has none")
}

func TestListEntries_NilStoreReports503(t *testing.T) {
	h := NewAuditHandler(nil, testLogger())
	rec := httptest.NewRecorder()

	h.ListEntries(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEngage_RequiresReason(t *testing.T) {
	emerg := &fakeEmergency{}
	h := NewEmergencyHandler(emerg, testLogger())

	rec := httptest.NewRecorder()
	h.Engage(rec, httptest.NewRequest(http.MethodPost, "/api/killswitch/engage", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, emerg.engagedWith)

	rec = httptest.NewRecorder()
	h.Engage(rec, httptest.NewRequest(http.MethodPost, "/api/killswitch/engage", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEngage_AndClear(t *testing.T) {
	emerg := &fakeEmergency{}
	h := NewEmergencyHandler(emerg, testLogger())

	rec := httptest.NewRecorder()
	h.Engage(rec, httptest.NewRequest(http.MethodPost, "/api/killswitch/engage",
		strings.NewReader(`{"reason":"fat finger review"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fat finger review", emerg.engagedWith)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["kill_switch_engaged"])

	rec = httptest.NewRecorder()
	h.Clear(rec, httptest.NewRequest(http.MethodPost, "/api/killswitch/clear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, emerg.clearedCount)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["kill_switch_engaged"])
}

func TestParseListOpts(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/api/audit", nil))
		assert.Equal(t, 50, opts.Limit)
		assert.Equal(t, 0, opts.Offset)
		assert.Nil(t, opts.Since)
		assert.Nil(t, opts.Until)
	})

	t.Run("limit is capped", func(t *testing.T) {
		opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/api/audit?limit=9999", nil))
		assert.Equal(t, 500, opts.Limit)
	})

	t.Run("filters", func(t *testing.T) {
		opts := parseListOpts(httptest.NewRequest(http.MethodGet,
			"/api/audit?since=2026-08-23T00:00:00Z&until=2026-08-23T12:00:00Z&limit=10&offset=20&event=order_failed", nil))
		assert.Equal(t, 10, opts.Limit)
		assert.Equal(t, 20, opts.Offset)
		assert.Equal(t, "order_failed", opts.Event)
		require.NotNil(t, opts.Since)
		require.NotNil(t, opts.Until)
		assert.True(t, opts.Until.After(*opts.Since))
	})

	t.Run("bad values fall back", func(t *testing.T) {
		opts := parseListOpts(httptest.NewRequest(http.MethodGet,
			"/api/audit?limit=abc&offset=-4&since=yesterday", nil))
		assert.Equal(t, 50, opts.Limit)
		assert.Equal(t, 0, opts.Offset)
		assert.Nil(t, opts.Since)
	})
}
