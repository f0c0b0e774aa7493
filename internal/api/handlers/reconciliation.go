package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/api/dto"
	"github.com/mybillbook/reconciler/internal/application/reconcile"
	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// ReconciliationHandler handles matching passes and suggestion decisions.
type ReconciliationHandler struct {
	*Base
	reconcile *reconcile.Service
}

// NewReconciliationHandler creates a new reconciliation handler.
func NewReconciliationHandler(svc *reconcile.Service, logger *slog.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{Base: NewBase(logger), reconcile: svc}
}

// Run handles POST /api/reconciliation/run?userId=.
// Per-payment matcher failures do not fail the request; they are counted in
// payments_errored and recorded on the run.
func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	result, err := h.reconcile.Run(r.Context(), userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.ReconcileResponse{
		RunID:                result.RunID,
		SuggestionsGenerated: result.SuggestionsCreated,
		PaymentsConsidered:   result.PaymentsConsidered,
		PaymentsSkipped:      result.SkippedCount,
		PaymentsErrored:      result.ErrorCount,
		Message:              fmt.Sprintf("generated %d suggestions", result.SuggestionsCreated),
	})
}

// Suggestions handles GET /api/reconciliation/suggestions?userId=.
func (h *ReconciliationHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	details, err := h.reconcile.PendingSuggestions(r.Context(), userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	resp := dto.SuggestionListResponse{
		Suggestions: make([]dto.SuggestionResponse, 0, len(details)),
		Count:       len(details),
	}
	for i := range details {
		d := details[i]
		resp.Suggestions = append(resp.Suggestions, toSuggestionResponse(d.Suggestion, &d.Payment, &d.Invoice))
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Confirm handles POST /api/reconciliation/confirm/{id}?userId=.
func (h *ReconciliationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	settlement, err := h.reconcile.ConfirmSuggestion(r.Context(), id, userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	msg := "suggestion confirmed"
	if settlement.Overpaid.IsPositive() {
		msg = fmt.Sprintf("suggestion confirmed; payment exceeded invoice balance by %s", settlement.Overpaid.StringFixed(2))
	}
	h.WriteJSON(w, http.StatusOK, dto.ConfirmResponse{
		Suggestion: toSuggestionResponse(settlement.Suggestion, &settlement.Payment, &settlement.Invoice),
		Overpaid:   settlement.Overpaid,
		Message:    msg,
	})
}

// Reject handles POST /api/reconciliation/reject/{id}?userId=.
func (h *ReconciliationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}
	id, ok := h.PathID(w, r, "id")
	if !ok {
		return
	}

	suggestion, err := h.reconcile.RejectSuggestion(r.Context(), id, userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, toSuggestionResponse(*suggestion, nil, nil))
}

// BulkConfirm handles POST /api/reconciliation/bulk-confirm?userId=.
// The body is a JSON array of suggestion ids. Individual failures are reported
// in the response and never fail the request.
func (h *ReconciliationHandler) BulkConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	var ids dto.BulkConfirmRequest
	if !h.DecodeJSON(w, r, &ids) {
		return
	}

	result := h.reconcile.BulkConfirm(r.Context(), ids, userID)
	h.WriteJSON(w, http.StatusOK, toBulkConfirmResponse(result))
}

// BulkConfirmHighConfidence handles
// POST /api/reconciliation/bulk-confirm-high-confidence?userId=&minConfidence=.
func (h *ReconciliationHandler) BulkConfirmHighConfidence(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	// Absent means the configured threshold; "0" is a real floor.
	var minConfidence *decimal.Decimal
	if raw := r.URL.Query().Get("minConfidence"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid minConfidence"))
			return
		}
		minConfidence = &parsed
	}

	result, err := h.reconcile.BulkConfirmHighConfidence(r.Context(), minConfidence, userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, toBulkConfirmResponse(result))
}

func toSuggestionResponse(s ledger.Suggestion, payment *ledger.Payment, invoice *ledger.Invoice) dto.SuggestionResponse {
	resp := dto.SuggestionResponse{
		ID:          s.ID,
		Confidence:  s.Confidence,
		Reasoning:   s.Reasoning,
		Status:      string(s.Status),
		AIModel:     s.AIModel,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		ConfirmedBy: s.ConfirmedBy,
		Payment:     payment,
		Invoice:     invoice,
	}
	if s.ConfirmedAt != nil {
		t := s.ConfirmedAt.Format(time.RFC3339)
		resp.ConfirmedAt = &t
	}
	return resp
}

func toBulkConfirmResponse(result *reconcile.BulkResult) dto.BulkConfirmResponse {
	resp := dto.BulkConfirmResponse{
		Requested: result.Requested,
		Confirmed: result.Confirmed,
		Failed:    len(result.Failures),
		Message:   fmt.Sprintf("confirmed %d of %d suggestions", result.Confirmed, result.Requested),
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, dto.BulkFailureResponse{
			SuggestionID: f.SuggestionID,
			Error:        f.Error,
		})
	}
	return resp
}
