package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/domain/matcher"
	"github.com/mybillbook/reconciler/internal/infrastructure/logging"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// stubChat answers chat completions from a function of the user prompt.
type stubChat struct {
	mu    sync.Mutex
	calls int
	reply func(prompt string) (string, error)
}

func (s *stubChat) CreateChatCompletion(ctx context.Context, req matcher.ChatCompletionRequest) (*matcher.ChatCompletionResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	content, err := s.reply(req.Messages[len(req.Messages)-1].Content)
	if err != nil {
		return nil, err
	}
	return &matcher.ChatCompletionResponse{
		Choices: []matcher.Choice{{Message: matcher.Message{Role: "assistant", Content: content}}},
	}, nil
}

func (s *stubChat) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	repo *storage.MockRepository
	chat *stubChat
	svc  *Service
	user *ledger.User
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := storage.NewMockRepository()
	chat := &stubChat{reply: func(string) (string, error) { return `{"matches":[]}`, nil }}
	m := matcher.NewMatcher(chat, matcher.DefaultConfig(), logging.Discard())

	user := &ledger.User{MobileNumber: "9876543210", Name: "Ramesh"}
	require.NoError(t, repo.CreateUser(context.Background(), user))

	svc := NewService(repo, m, nil, opts, logging.Discard())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	return &fixture{repo: repo, chat: chat, svc: svc, user: user}
}

func (f *fixture) otherUser(t *testing.T) *ledger.User {
	t.Helper()
	u := &ledger.User{MobileNumber: "9123456780", Name: "Suresh"}
	require.NoError(t, f.repo.CreateUser(context.Background(), u))
	return u
}

// invoice stores an invoice for userID. An empty pending means pending = total.
func (f *fixture) invoice(t *testing.T, userID int64, number, total, pending string) *ledger.Invoice {
	t.Helper()
	inv := &ledger.Invoice{
		UserID:        userID,
		InvoiceNumber: number,
		CustomerName:  "Ramesh Traders",
		TotalAmount:   decimal.RequireFromString(total),
		InvoiceDate:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	if pending != "" {
		inv.PendingAmount = decimal.RequireFromString(pending)
	}
	inv.PrepareNew(pending != "")
	require.NoError(t, f.repo.SaveInvoices(context.Background(), []*ledger.Invoice{inv}))
	return inv
}

func (f *fixture) payment(t *testing.T, userID int64, amount, remark string) *ledger.Payment {
	t.Helper()
	p := &ledger.Payment{
		UserID:      userID,
		Amount:      decimal.RequireFromString(amount),
		PaymentDate: time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
		Mode:        ledger.ModeUPI,
		Remark:      remark,
		Status:      ledger.PaymentUnreconciled,
	}
	require.NoError(t, f.repo.SavePayments(context.Background(), []*ledger.Payment{p}))
	return p
}

func (f *fixture) suggestion(t *testing.T, p *ledger.Payment, inv *ledger.Invoice, confidence string) *ledger.Suggestion {
	t.Helper()
	s := &ledger.Suggestion{
		PaymentID:  p.ID,
		InvoiceID:  inv.ID,
		Confidence: decimal.RequireFromString(confidence),
		Reasoning:  "test",
		Status:     ledger.SuggestionPending,
		AIModel:    "gpt-4o-mini",
	}
	require.NoError(t, f.repo.CreateSuggestion(context.Background(), s))
	return s
}

func (f *fixture) reloadInvoice(t *testing.T, id int64) *ledger.Invoice {
	t.Helper()
	inv, err := f.repo.GetInvoice(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) reloadPayment(t *testing.T, id int64) *ledger.Payment {
	t.Helper()
	p, err := f.repo.GetPayment(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) reloadSuggestion(t *testing.T, id int64) *ledger.Suggestion {
	t.Helper()
	s, err := f.repo.GetSuggestion(context.Background(), id)
	require.NoError(t, err)
	return s
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}
