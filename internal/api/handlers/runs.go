package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mybillbook/reconciler/internal/api/dto"
	"github.com/mybillbook/reconciler/internal/application/reconcile"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// RunsHandler handles reconciliation run history requests.
type RunsHandler struct {
	*Base
	reconcile *reconcile.Service
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(svc *reconcile.Service, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{Base: NewBase(logger), reconcile: svc}
}

// List handles GET /api/reconciliation/runs?userId=&limit= - returns the
// user's recent passes, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}
	limit := ParseIntParam(r, "limit", 20)

	runs, err := h.reconcile.ListRuns(r.Context(), userID, limit)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	response := dto.RunListResponse{
		Runs:  make([]dto.RunResponse, 0, len(runs)),
		Count: len(runs),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// Get handles GET /api/reconciliation/runs/{runId}?userId= - returns a pass
// with its matcher call log.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}
	runID := chi.URLParam(r, "runId")
	if runID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("run ID is required"))
		return
	}

	run, calls, err := h.reconcile.GetRun(r.Context(), runID, userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	response := dto.RunDetailResponse{
		RunResponse: toRunResponse(*run),
		Calls:       make([]dto.MatcherCallResponse, 0, len(calls)),
	}
	for _, c := range calls {
		response.Calls = append(response.Calls, toMatcherCallResponse(c))
	}

	h.WriteJSON(w, http.StatusOK, response)
}

// PaymentCalls handles GET /api/reconciliation/payments/{paymentId}/calls?userId=
// - every matcher call made for the payment, across passes.
func (h *RunsHandler) PaymentCalls(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.PathID(w, r, "paymentId")
	if !ok {
		return
	}

	calls, err := h.reconcile.PaymentMatcherCalls(r.Context(), paymentID, userID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	response := dto.MatcherCallListResponse{
		PaymentID: paymentID,
		Calls:     make([]dto.MatcherCallResponse, 0, len(calls)),
		Count:     len(calls),
	}
	for _, c := range calls {
		response.Calls = append(response.Calls, toMatcherCallResponse(c))
	}

	h.WriteJSON(w, http.StatusOK, response)
}

func toMatcherCallResponse(c storage.MatcherCall) dto.MatcherCallResponse {
	return dto.MatcherCallResponse{
		RunID:           c.RunID,
		PaymentID:       c.PaymentID,
		Model:           c.Model,
		Response:        c.Response,
		MatchesReturned: c.MatchesReturned,
		Error:           c.Error,
		DurationMs:      c.DurationMs,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
}

func toRunResponse(run storage.Run) dto.RunResponse {
	resp := dto.RunResponse{
		RunID:              run.RunID,
		StartedAt:          run.StartedAt.Format(time.RFC3339),
		Status:             string(run.Status),
		PaymentsConsidered: run.PaymentsConsidered,
		SuggestionsCreated: run.SuggestionsCreated,
		PaymentsSkipped:    run.PaymentsSkipped,
		PaymentsErrored:    run.PaymentsErrored,
		ErrorMessage:       run.ErrorMessage,
	}
	if run.CompletedAt != nil {
		t := run.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	return resp
}
