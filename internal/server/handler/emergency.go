package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"tradegate/internal/emergency"
)

// KillSwitch is the operator-facing slice of the emergency controller.
type KillSwitch interface {
	EngageKillSwitch(ctx context.Context, reason string)
	ClearKillSwitch(ctx context.Context)
	State() emergency.Snapshot
}

// EmergencyHandler serves the kill switch endpoints. These are the only
// admin routes that mutate pipeline state.
type EmergencyHandler struct {
	ctrl   KillSwitch
	logger *slog.Logger
}

// NewEmergencyHandler creates an EmergencyHandler.
func NewEmergencyHandler(ctrl KillSwitch, logger *slog.Logger) *EmergencyHandler {
	return &EmergencyHandler{ctrl: ctrl, logger: logger}
}

// Engage turns the kill switch on. The reason is recorded and shows up in
// the status endpoint and the audit log.
// POST /api/killswitch/engage {"reason": "..."}
func (h *EmergencyHandler) Engage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		writeError(w, http.StatusBadRequest, "a non-empty reason is required")
		return
	}

	h.logger.WarnContext(r.Context(), "kill switch engaged via admin api",
		slog.String("reason", body.Reason),
	)
	h.ctrl.EngageKillSwitch(r.Context(), body.Reason)

	writeJSON(w, http.StatusOK, map[string]any{
		"kill_switch_engaged": true,
		"reason":              body.Reason,
	})
}

// Clear turns the kill switch off. Trading resumes only if the breaker is
// also closed.
// POST /api/killswitch/clear
func (h *EmergencyHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.logger.WarnContext(r.Context(), "kill switch cleared via admin api")
	h.ctrl.ClearKillSwitch(r.Context())

	snap := h.ctrl.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"kill_switch_engaged": snap.KillSwitchEngaged,
		"breaker_state":       snap.Breaker.String(),
	})
}
