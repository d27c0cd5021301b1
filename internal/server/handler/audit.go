package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// AuditHandler lists audit entries. Entries are filtered to the caller's
// trader when authentication is on.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With(slog.String("handler", "audit"))}
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// List returns the newest entries first.
// GET /api/audit?limit=50&offset=0&since=&until=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]domain.AuditEntry, 0, len(entries))
	trader := requestTrader(r)
	for _, e := range entries {
		if trader != "" && e.Detail["trader_id"] != trader {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: out})
}
