package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// PositionHandler serves the open-position endpoint.
type PositionHandler struct {
	risk   RiskView
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(risk RiskView, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{risk: risk, logger: logger}
}

// positionResponse is the JSON shape of one open position.
type positionResponse struct {
	ID          string    `json:"id"`
	SignalID    string    `json:"signal_id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Instrument  string    `json:"instrument"`
	Quantity    int       `json:"quantity"`
	EntryPrice  string    `json:"entry_price"`
	StopPrice   string    `json:"stop_price"`
	TargetPrice string    `json:"target_price,omitempty"`
	RiskAmount  string    `json:"risk_amount"`
	OpenedAt    time.Time `json:"opened_at"`
}

// ListPositions returns all currently tracked open positions, oldest first.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.risk.OpenPositions()
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].OpenedAt.Before(positions[j].OpenedAt)
	})

	resp := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		pr := positionResponse{
			ID:         p.ID,
			SignalID:   p.Signal.ID,
			Symbol:     p.Signal.Symbol,
			Direction:  string(p.Signal.Direction),
			Instrument: string(p.Signal.Instrument),
			Quantity:   p.Signal.Quantity,
			EntryPrice: p.Signal.EntryPrice.String(),
			StopPrice:  p.Signal.StopPrice.String(),
			RiskAmount: p.RiskAmount.String(),
			OpenedAt:   p.OpenedAt,
		}
		if p.Signal.HasTarget() {
			pr.TargetPrice = p.Signal.TargetPrice.String()
		}
		resp = append(resp, pr)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": resp,
		"count":     len(resp),
	})
}
