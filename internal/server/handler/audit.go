package handler

import (
	"log/slog"
	"net/http"

	"tradegate/internal/domain"
)

// AuditHandler serves the audit-log query endpoint.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. store may be nil when the audit
// log is disabled; the endpoint then reports 503.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

// ListEntries returns audit entries newest-first with pagination and
// optional since/until filtering.
// GET /api/audit?limit=&offset=&since=&until=
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log is not enabled")
		return
	}

	entries, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit list failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
