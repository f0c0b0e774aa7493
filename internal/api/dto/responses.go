package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a healthy response stamped with the current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// MessageResponse is a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse is returned by POST /api/auth/login.
type LoginResponse struct {
	UserID       int64  `json:"user_id"`
	MobileNumber string `json:"mobile_number"`
	Name         string `json:"name,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
	Created      bool   `json:"created"`
	Message      string `json:"message"`
}

// UploadResponse is returned by the invoice and payment upload endpoints.
type UploadResponse struct {
	Uploaded int    `json:"uploaded"`
	Failed   int    `json:"failed"`
	Message  string `json:"message"`
}

// InvoiceListResponse wraps a list of invoices.
type InvoiceListResponse struct {
	Invoices []ledger.Invoice `json:"invoices"`
	Count    int              `json:"count"`
}

// PaymentListResponse wraps a list of payments.
type PaymentListResponse struct {
	Payments []ledger.Payment `json:"payments"`
	Count    int              `json:"count"`
}

// ReconcileResponse is returned by POST /api/reconciliation/run.
type ReconcileResponse struct {
	RunID                string `json:"run_id,omitempty"`
	SuggestionsGenerated int    `json:"suggestions_generated"`
	PaymentsConsidered   int    `json:"payments_considered"`
	PaymentsSkipped      int    `json:"payments_skipped"`
	PaymentsErrored      int    `json:"payments_errored"`
	Message              string `json:"message"`
}

// SuggestionResponse is a suggestion with the records it links.
type SuggestionResponse struct {
	ID          int64           `json:"id"`
	Confidence  decimal.Decimal `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	Status      string          `json:"status"`
	AIModel     string          `json:"ai_model,omitempty"`
	CreatedAt   string          `json:"created_at"`
	ConfirmedAt *string         `json:"confirmed_at,omitempty"`
	ConfirmedBy *int64          `json:"confirmed_by,omitempty"`
	Payment     *ledger.Payment `json:"payment,omitempty"`
	Invoice     *ledger.Invoice `json:"invoice,omitempty"`
}

// SuggestionListResponse wraps a list of suggestions.
type SuggestionListResponse struct {
	Suggestions []SuggestionResponse `json:"suggestions"`
	Count       int                  `json:"count"`
}

// ConfirmResponse is returned by POST /api/reconciliation/confirm/{id}.
type ConfirmResponse struct {
	Suggestion SuggestionResponse `json:"suggestion"`
	Overpaid   decimal.Decimal    `json:"overpaid"`
	Message    string             `json:"message"`
}

// BulkFailureResponse describes one id a bulk confirm could not settle.
type BulkFailureResponse struct {
	SuggestionID int64  `json:"suggestion_id"`
	Error        string `json:"error"`
}

// BulkConfirmResponse is returned by both bulk confirm endpoints.
type BulkConfirmResponse struct {
	Requested int                   `json:"requested"`
	Confirmed int                   `json:"confirmed"`
	Failed    int                   `json:"failed"`
	Failures  []BulkFailureResponse `json:"failures,omitempty"`
	Message   string                `json:"message"`
}

// RunResponse represents a reconciliation run in API responses.
type RunResponse struct {
	RunID              string  `json:"run_id"`
	StartedAt          string  `json:"started_at"`
	CompletedAt        *string `json:"completed_at,omitempty"`
	Status             string  `json:"status"`
	PaymentsConsidered int     `json:"payments_considered"`
	SuggestionsCreated int     `json:"suggestions_created"`
	PaymentsSkipped    int     `json:"payments_skipped"`
	PaymentsErrored    int     `json:"payments_errored"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

// RunListResponse wraps a list of runs.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// MatcherCallResponse represents one logged matcher call.
type MatcherCallResponse struct {
	RunID           string `json:"run_id,omitempty"`
	PaymentID       int64  `json:"payment_id"`
	Model           string `json:"model"`
	Response        string `json:"response,omitempty"`
	MatchesReturned int    `json:"matches_returned"`
	Error           string `json:"error,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
	CreatedAt       string `json:"created_at"`
}

// MatcherCallListResponse is the matcher call history of one payment.
type MatcherCallListResponse struct {
	PaymentID int64                 `json:"payment_id"`
	Calls     []MatcherCallResponse `json:"calls"`
	Count     int                   `json:"count"`
}

// RunDetailResponse is a run with its matcher calls.
type RunDetailResponse struct {
	RunResponse
	Calls []MatcherCallResponse `json:"calls"`
}
