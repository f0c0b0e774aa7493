package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mybillbook/reconciler/internal/application/report"
)

// ReportsHandler serves the summary report.
type ReportsHandler struct {
	*Base
	report *report.Service
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(svc *report.Service, logger *slog.Logger) *ReportsHandler {
	return &ReportsHandler{Base: NewBase(logger), report: svc}
}

// Summary handles GET /api/reports/summary?userId=.
func (h *ReportsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	summary, err := h.report.Summary(r.Context(), userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, summary)
}
