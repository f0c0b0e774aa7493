package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybillbook/reconciler/internal/api"
	"github.com/mybillbook/reconciler/internal/api/dto"
	"github.com/mybillbook/reconciler/internal/application/intake"
	"github.com/mybillbook/reconciler/internal/application/reconcile"
	"github.com/mybillbook/reconciler/internal/application/report"
	"github.com/mybillbook/reconciler/internal/domain/matcher"
	"github.com/mybillbook/reconciler/internal/infrastructure/logging"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// remarkChat proposes an invoice whenever the payment prompt contains one of
// its keys.
type remarkChat map[string]string

func (c remarkChat) CreateChatCompletion(ctx context.Context, req matcher.ChatCompletionRequest) (*matcher.ChatCompletionResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	content := `{"matches":[]}`
	for key, reply := range c {
		if strings.Contains(prompt, key) {
			content = reply
			break
		}
	}
	return &matcher.ChatCompletionResponse{
		Choices: []matcher.Choice{{Message: matcher.Message{Role: "assistant", Content: content}}},
	}, nil
}

func newTestServer(t *testing.T, chat matcher.ChatClient) (*api.Server, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := logging.Discard()
	if chat == nil {
		chat = remarkChat{}
	}
	m := matcher.NewMatcher(chat, matcher.DefaultConfig(), logger)
	server := api.NewServer(api.DefaultConfig(), api.Services{
		Intake:    intake.NewService(repo, logger),
		Reconcile: reconcile.NewService(repo, m, nil, reconcile.Options{}, logger),
		Report:    report.NewService(repo),
	}, logger)
	return server, repo
}

func do(t *testing.T, server *api.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func login(t *testing.T, server *api.Server) int64 {
	t.Helper()
	rec := do(t, server, http.MethodPost, "/api/auth/login",
		`{"mobile_number":"+91 81234 56789","name":"Asha","business_name":"Asha Textiles"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[dto.LoginResponse](t, rec).UserID
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := do(t, server, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[dto.HealthResponse](t, rec).Status)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil)
	do(t, server, http.MethodGet, "/health", "")

	rec := do(t, server, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reconciler_http_requests_total")
}

func TestServer_Login(t *testing.T) {
	server, _ := newTestServer(t, nil)

	t.Run("creates then finds the user", func(t *testing.T) {
		id := login(t, server)

		rec := do(t, server, http.MethodPost, "/api/auth/login", `{"mobile_number":"8123456789"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[dto.LoginResponse](t, rec)
		assert.Equal(t, id, resp.UserID)
		assert.False(t, resp.Created)
		assert.Equal(t, "8123456789", resp.MobileNumber)
		assert.Equal(t, "Asha Textiles", resp.BusinessName)

		rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/auth/user/%d", id), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Asha", decode[dto.LoginResponse](t, rec).Name)
	})

	t.Run("invalid mobile is a validation error", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/auth/login", `{"mobile_number":"12345"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeValidation, decode[dto.APIError](t, rec).Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := do(t, server, http.MethodPost, "/api/auth/login", `{"mobile":"8123456789"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decode[dto.APIError](t, rec).Code)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		rec := do(t, server, http.MethodGet, "/api/auth/user/999", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_ReconciliationFlow(t *testing.T) {
	server, _ := newTestServer(t, remarkChat{
		"part payment": `{"matches":[{"invoice_number":"INV-101","confidence":0.95,"reason":"Remark names INV-101"}]}`,
		"settling 102": `{"matches":[{"invoice_number":"INV-102","confidence":0.80,"reason":"Amount equals balance"}]}`,
	})
	userID := login(t, server)
	q := fmt.Sprintf("?userId=%d", userID)

	rec := do(t, server, http.MethodPost, "/api/invoices/upload"+q, `[
		{"invoice_number":"INV-101","customer_name":"Kumar Traders","total_amount":10000,"invoice_date":"2026-02-01"},
		{"invoice_number":"INV-102","customer_name":"Lakshmi Stores","total_amount":5000,"invoice_date":"2026-02-03"}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[dto.UploadResponse](t, rec).Uploaded)

	rec = do(t, server, http.MethodPost, "/api/payments/upload"+q, `[
		{"amount":4000,"payment_date":"2026-02-10","payment_mode":"UPI","remark":"part payment for INV-101"},
		{"amount":5000,"payment_date":"2026-02-11","payment_mode":"BANK_TRANSFER","remark":"settling 102"}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, server, http.MethodPost, "/api/reconciliation/run"+q, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[dto.ReconcileResponse](t, rec)
	assert.Equal(t, 2, run.SuggestionsGenerated)
	assert.Equal(t, 2, run.PaymentsConsidered)
	assert.NotEmpty(t, run.RunID)

	rec = do(t, server, http.MethodGet, "/api/reconciliation/suggestions"+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions := decode[dto.SuggestionListResponse](t, rec)
	require.Equal(t, 2, suggestions.Count)
	var weak dto.SuggestionResponse
	for _, s := range suggestions.Suggestions {
		require.NotNil(t, s.Payment)
		require.NotNil(t, s.Invoice)
		if s.Invoice.InvoiceNumber == "INV-102" {
			weak = s
		}
	}
	require.NotZero(t, weak.ID)

	// Only the 0.95 suggestion clears the default threshold.
	rec = do(t, server, http.MethodPost, "/api/reconciliation/bulk-confirm-high-confidence"+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	bulk := decode[dto.BulkConfirmResponse](t, rec)
	assert.Equal(t, 1, bulk.Requested)
	assert.Equal(t, 1, bulk.Confirmed)
	assert.Zero(t, bulk.Failed)

	rec = do(t, server, http.MethodGet, "/api/invoices"+q+"&status=partially_paid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[dto.InvoiceListResponse](t, rec)
	require.Equal(t, 1, invoices.Count)
	assert.Equal(t, "INV-101", invoices.Invoices[0].InvoiceNumber)
	assert.Equal(t, "6000.00", invoices.Invoices[0].PendingAmount.StringFixed(2))

	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/reconciliation/reject/%d%s", weak.ID, q), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "REJECTED", decode[dto.SuggestionResponse](t, rec).Status)

	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/reconciliation/confirm/%d%s", weak.ID, q), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, dto.ErrCodeInvalidState, decode[dto.APIError](t, rec).Code)

	rec = do(t, server, http.MethodGet, "/api/payments"+q+"&status=UNRECONCILED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[dto.PaymentListResponse](t, rec).Count)

	rec = do(t, server, http.MethodGet, "/api/reports/summary"+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[report.Summary](t, rec)
	assert.Equal(t, 2, summary.TotalInvoices)
	assert.Equal(t, 1, summary.ReconciledPayments)
	assert.Equal(t, 1, summary.UnreconciledPayments)
	assert.Equal(t, "0.5", summary.AIAccuracy.String())

	rec = do(t, server, http.MethodGet, "/api/reconciliation/runs"+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[dto.RunListResponse](t, rec)
	require.Equal(t, 1, runs.Count)
	assert.Equal(t, run.RunID, runs.Runs[0].RunID)
	assert.Equal(t, "completed", runs.Runs[0].Status)

	rec = do(t, server, http.MethodGet, "/api/reconciliation/runs/"+run.RunID+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[dto.RunDetailResponse](t, rec)
	require.Len(t, detail.Calls, 2)

	paymentID := detail.Calls[0].PaymentID
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/reconciliation/payments/%d/calls%s", paymentID, q), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	history := decode[dto.MatcherCallListResponse](t, rec)
	assert.Equal(t, paymentID, history.PaymentID)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, run.RunID, history.Calls[0].RunID)

	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/reconciliation/payments/%d/calls?userId=%d", paymentID, userID+1), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ConfirmOverpayment(t *testing.T) {
	server, _ := newTestServer(t, remarkChat{
		"advance": `{"matches":[{"invoice_number":"INV-7","confidence":0.70,"reason":"Customer match"}]}`,
	})
	userID := login(t, server)
	q := fmt.Sprintf("?userId=%d", userID)

	do(t, server, http.MethodPost, "/api/invoices/upload"+q,
		`[{"invoice_number":"INV-7","customer_name":"Kumar","total_amount":1500,"invoice_date":"2026-02-01"}]`)
	do(t, server, http.MethodPost, "/api/payments/upload"+q,
		`[{"amount":5000,"payment_date":"2026-02-02","payment_mode":"CASH","remark":"advance"}]`)
	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/api/reconciliation/run"+q, "").Code)

	suggestions := decode[dto.SuggestionListResponse](t, do(t, server, http.MethodGet, "/api/reconciliation/suggestions"+q, ""))
	require.Equal(t, 1, suggestions.Count)
	id := suggestions.Suggestions[0].ID

	rec := do(t, server, http.MethodPost, fmt.Sprintf("/api/reconciliation/confirm/%d%s", id, q), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dto.ConfirmResponse](t, rec)
	assert.Equal(t, "3500.00", resp.Overpaid.StringFixed(2))
	assert.Equal(t, "CONFIRMED", resp.Suggestion.Status)
	require.NotNil(t, resp.Suggestion.ConfirmedBy)
	assert.Equal(t, userID, *resp.Suggestion.ConfirmedBy)
	require.NotNil(t, resp.Suggestion.Invoice)
	assert.Equal(t, "FULLY_PAID", string(resp.Suggestion.Invoice.Status))
	assert.True(t, resp.Suggestion.Invoice.PendingAmount.IsZero())

	// Another user cannot see it.
	other := do(t, server, http.MethodPost, "/api/auth/login", `{"mobile_number":"8123456780"}`)
	otherID := decode[dto.LoginResponse](t, other).UserID
	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/reconciliation/reject/%d?userId=%d", id, otherID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BulkConfirm(t *testing.T) {
	server, _ := newTestServer(t, remarkChat{
		"first": `{"matches":[{"invoice_number":"INV-1","confidence":0.75,"reason":"r"}]}`,
	})
	userID := login(t, server)
	q := fmt.Sprintf("?userId=%d", userID)

	do(t, server, http.MethodPost, "/api/invoices/upload"+q,
		`[{"invoice_number":"INV-1","customer_name":"A","total_amount":100,"invoice_date":"2026-02-01"}]`)
	do(t, server, http.MethodPost, "/api/payments/upload"+q,
		`[{"amount":100,"payment_date":"2026-02-02","payment_mode":"CARD","remark":"first"}]`)
	do(t, server, http.MethodPost, "/api/reconciliation/run"+q, "")
	suggestions := decode[dto.SuggestionListResponse](t, do(t, server, http.MethodGet, "/api/reconciliation/suggestions"+q, ""))
	require.Equal(t, 1, suggestions.Count)

	body := fmt.Sprintf("[%d, 999]", suggestions.Suggestions[0].ID)
	rec := do(t, server, http.MethodPost, "/api/reconciliation/bulk-confirm"+q, body)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dto.BulkConfirmResponse](t, rec)
	assert.Equal(t, 2, resp.Requested)
	assert.Equal(t, 1, resp.Confirmed)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, int64(999), resp.Failures[0].SuggestionID)
}

func TestServer_BulkConfirmHighConfidence_ExplicitZero(t *testing.T) {
	server, _ := newTestServer(t, remarkChat{
		"weak": `{"matches":[{"invoice_number":"INV-5","confidence":0.65,"reason":"Customer match"}]}`,
	})
	userID := login(t, server)
	q := fmt.Sprintf("?userId=%d", userID)

	do(t, server, http.MethodPost, "/api/invoices/upload"+q,
		`[{"invoice_number":"INV-5","customer_name":"A","total_amount":250,"invoice_date":"2026-02-01"}]`)
	do(t, server, http.MethodPost, "/api/payments/upload"+q,
		`[{"amount":250,"payment_date":"2026-02-02","payment_mode":"UPI","remark":"weak"}]`)
	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/api/reconciliation/run"+q, "").Code)

	// Without minConfidence the 0.90 default leaves it pending.
	rec := do(t, server, http.MethodPost, "/api/reconciliation/bulk-confirm-high-confidence"+q, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[dto.BulkConfirmResponse](t, rec).Requested)

	rec = do(t, server, http.MethodPost, "/api/reconciliation/bulk-confirm-high-confidence"+q+"&minConfidence=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dto.BulkConfirmResponse](t, rec)
	assert.Equal(t, 1, resp.Requested)
	assert.Equal(t, 1, resp.Confirmed)
}

func TestServer_RequestErrors(t *testing.T) {
	server, _ := newTestServer(t, nil)
	userID := login(t, server)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing userId", http.MethodGet, "/api/invoices", "", http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"non-numeric userId", http.MethodGet, "/api/payments?userId=abc", "", http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"unknown user run", http.MethodPost, "/api/reconciliation/run?userId=999", "", http.StatusNotFound, dto.ErrCodeNotFound},
		{"unknown suggestion", http.MethodPost, fmt.Sprintf("/api/reconciliation/confirm/42?userId=%d", userID), "", http.StatusNotFound, dto.ErrCodeNotFound},
		{"bad suggestion id", http.MethodPost, fmt.Sprintf("/api/reconciliation/confirm/x?userId=%d", userID), "", http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"bad minConfidence", http.MethodPost, fmt.Sprintf("/api/reconciliation/bulk-confirm-high-confidence?userId=%d&minConfidence=high", userID), "", http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"minConfidence out of range", http.MethodPost, fmt.Sprintf("/api/reconciliation/bulk-confirm-high-confidence?userId=%d&minConfidence=1.5", userID), "", http.StatusBadRequest, dto.ErrCodeValidation},
		{"invalid status filter", http.MethodGet, fmt.Sprintf("/api/invoices?userId=%d&status=OVERDUE", userID), "", http.StatusBadRequest, dto.ErrCodeValidation},
		{"malformed upload", http.MethodPost, fmt.Sprintf("/api/invoices/upload?userId=%d", userID), `{"invoice_number":`, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"invalid invoice", http.MethodPost, fmt.Sprintf("/api/invoices/upload?userId=%d", userID),
			`[{"invoice_number":"INV-1","customer_name":"A","total_amount":100,"pending_amount":150,"invoice_date":"2026-02-01"}]`,
			http.StatusBadRequest, dto.ErrCodeValidation},
		{"unknown run", http.MethodGet, fmt.Sprintf("/api/reconciliation/runs/nope?userId=%d", userID), "", http.StatusNotFound, dto.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[dto.APIError](t, rec).Code)
		})
	}
}

func TestServer_NoopRun(t *testing.T) {
	server, _ := newTestServer(t, nil)
	userID := login(t, server)

	rec := do(t, server, http.MethodPost, fmt.Sprintf("/api/reconciliation/run?userId=%d", userID), "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dto.ReconcileResponse](t, rec)
	assert.Zero(t, resp.SuggestionsGenerated)
	assert.Empty(t, resp.RunID)
}

func TestServer_CORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, nil)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/reconciliation/run", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("http://localhost:3000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.MethodPost, rec.Header().Get("Access-Control-Allow-Methods"))

	rec = preflight("http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
