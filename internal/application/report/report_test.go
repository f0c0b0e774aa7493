package report

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuild(t *testing.T) {
	t.Run("empty ledger", func(t *testing.T) {
		sum := Build(nil, nil, nil)
		assert.Zero(t, sum.TotalInvoices)
		assert.True(t, sum.AIAccuracy.IsZero())
		assert.True(t, sum.TotalRevenue.IsZero())
	})

	t.Run("counts and totals", func(t *testing.T) {
		invoices := []ledger.Invoice{
			{TotalAmount: d("10000"), PendingAmount: d("6000"), Status: ledger.InvoicePartiallyPaid},
			{TotalAmount: d("3000"), PendingAmount: d("0"), Status: ledger.InvoiceFullyPaid},
			{TotalAmount: d("500.25"), PendingAmount: d("500.25"), Status: ledger.InvoiceUnpaid},
		}
		payments := []ledger.Payment{
			{Status: ledger.PaymentReconciled},
			{Status: ledger.PaymentReconciled},
			{Status: ledger.PaymentUnreconciled},
		}
		suggestions := []ledger.Suggestion{
			{Status: ledger.SuggestionConfirmed},
			{Status: ledger.SuggestionConfirmed},
			{Status: ledger.SuggestionRejected},
			{Status: ledger.SuggestionPending},
		}

		sum := Build(invoices, payments, suggestions)
		assert.Equal(t, 3, sum.TotalInvoices)
		assert.Equal(t, 1, sum.ReconciledInvoices)
		assert.Equal(t, 2, sum.PendingInvoices)
		assert.Equal(t, 2, sum.ReconciledPayments)
		assert.Equal(t, 1, sum.UnreconciledPayments)
		assert.Equal(t, 1, sum.PendingSuggestions)
		assert.Equal(t, "0.67", sum.AIAccuracy.StringFixed(2))
		assert.True(t, d("13500.25").Equal(sum.TotalRevenue))
		assert.True(t, d("6500.25").Equal(sum.PendingRevenue))
	})

	t.Run("accuracy rounds half up", func(t *testing.T) {
		suggestions := []ledger.Suggestion{{Status: ledger.SuggestionConfirmed}}
		for range 7 {
			suggestions = append(suggestions, ledger.Suggestion{Status: ledger.SuggestionRejected})
		}
		// 1/8 = 0.125
		assert.Equal(t, "0.13", Build(nil, nil, suggestions).AIAccuracy.StringFixed(2))
	})
}

func TestService_Summary(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMockRepository()

	user := &ledger.User{MobileNumber: "8123456789"}
	require.NoError(t, repo.CreateUser(ctx, user))
	other := &ledger.User{MobileNumber: "9123456780"}
	require.NoError(t, repo.CreateUser(ctx, other))

	mine := &ledger.Invoice{UserID: user.ID, InvoiceNumber: "INV001", TotalAmount: d("1000"), PendingAmount: d("1000"), Status: ledger.InvoiceUnpaid}
	theirs := &ledger.Invoice{UserID: other.ID, InvoiceNumber: "INV900", TotalAmount: d("50"), PendingAmount: d("50"), Status: ledger.InvoiceUnpaid}
	require.NoError(t, repo.SaveInvoices(ctx, []*ledger.Invoice{mine, theirs}))

	p := &ledger.Payment{UserID: user.ID, Amount: d("1000"), Mode: ledger.ModeUPI, Status: ledger.PaymentUnreconciled}
	q := &ledger.Payment{UserID: other.ID, Amount: d("50"), Mode: ledger.ModeCash, Status: ledger.PaymentUnreconciled}
	require.NoError(t, repo.SavePayments(ctx, []*ledger.Payment{p, q}))

	require.NoError(t, repo.CreateSuggestion(ctx, &ledger.Suggestion{PaymentID: p.ID, InvoiceID: mine.ID, Confidence: d("0.9"), Status: ledger.SuggestionRejected}))
	require.NoError(t, repo.CreateSuggestion(ctx, &ledger.Suggestion{PaymentID: q.ID, InvoiceID: theirs.ID, Confidence: d("0.9"), Status: ledger.SuggestionConfirmed}))

	sum, err := NewService(repo).Summary(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalInvoices)
	assert.Equal(t, 1, sum.TotalPayments)
	assert.True(t, sum.AIAccuracy.IsZero())
	assert.True(t, d("1000").Equal(sum.TotalRevenue))

	_, err = NewService(repo).Summary(ctx, 4242)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
