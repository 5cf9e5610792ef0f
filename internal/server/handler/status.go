package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
	"tradegate/internal/emergency"
)

// RiskView is the read-only slice of the risk manager the status and
// position endpoints need.
type RiskView interface {
	OpenCount() int
	AggregateRisk() decimal.Decimal
	OpenPositions() []domain.PositionExposure
}

// EmergencyView exposes the controller snapshot.
type EmergencyView interface {
	State() emergency.Snapshot
}

// StatusHandler reports the live pipeline state: breaker, kill switch, and
// risk headroom.
type StatusHandler struct {
	risk   RiskView
	emerg  EmergencyView
	limits domain.RiskLimits
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(risk RiskView, emerg EmergencyView, limits domain.RiskLimits, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{risk: risk, emerg: emerg, limits: limits, logger: logger}
}

// GetStatus returns the pipeline status snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.emerg.State()

	resp := map[string]any{
		"breaker": map[string]any{
			"state":                snap.Breaker.String(),
			"consecutive_failures": snap.ConsecutiveFailures,
		},
		"kill_switch": map[string]any{
			"engaged": snap.KillSwitchEngaged,
			"reason":  snap.KillSwitchReason,
		},
		"risk": map[string]any{
			"open_positions":     h.risk.OpenCount(),
			"max_open_positions": h.limits.MaxOpenPositions,
			"aggregate_risk":     h.risk.AggregateRisk().String(),
			"max_aggregate_risk": h.limits.MaxAggregateRisk.String(),
		},
	}
	if !snap.OpenedAt.IsZero() {
		resp["breaker"].(map[string]any)["opened_at"] = snap.OpenedAt
	}

	writeJSON(w, http.StatusOK, resp)
}
