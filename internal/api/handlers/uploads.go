package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mybillbook/reconciler/internal/api/dto"
	"github.com/mybillbook/reconciler/internal/application/intake"
	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// LedgerHandler handles invoice and payment uploads and listings.
type LedgerHandler struct {
	*Base
	intake *intake.Service
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(svc *intake.Service, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{Base: NewBase(logger), intake: svc}
}

// UploadInvoices handles POST /api/invoices/upload?userId=.
// The body is a JSON array of invoices; the batch is stored all or nothing.
func (h *LedgerHandler) UploadInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	var inputs []intake.InvoiceInput
	if !h.DecodeJSON(w, r, &inputs) {
		return
	}

	saved, err := h.intake.UploadInvoices(r.Context(), userID, inputs)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, dto.UploadResponse{
		Uploaded: len(saved),
		Message:  fmt.Sprintf("uploaded %d invoices", len(saved)),
	})
}

// ListInvoices handles GET /api/invoices?userId=&status=.
func (h *LedgerHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	invoices, err := h.intake.ListInvoices(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []ledger.Invoice{}
	}

	h.WriteJSON(w, http.StatusOK, dto.InvoiceListResponse{Invoices: invoices, Count: len(invoices)})
}

// UploadPayments handles POST /api/payments/upload?userId=.
func (h *LedgerHandler) UploadPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	var inputs []intake.PaymentInput
	if !h.DecodeJSON(w, r, &inputs) {
		return
	}

	saved, err := h.intake.UploadPayments(r.Context(), userID, inputs)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, dto.UploadResponse{
		Uploaded: len(saved),
		Message:  fmt.Sprintf("uploaded %d payments", len(saved)),
	})
}

// ListPayments handles GET /api/payments?userId=&status=.
func (h *LedgerHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(w, r)
	if !ok {
		return
	}

	payments, err := h.intake.ListPayments(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	if payments == nil {
		payments = []ledger.Payment{}
	}

	h.WriteJSON(w, http.StatusOK, dto.PaymentListResponse{Payments: payments, Count: len(payments)})
}
