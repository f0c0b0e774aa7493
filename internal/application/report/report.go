// Package report aggregates a user's ledger into a summary.
package report

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// Summary is the per-user reconciliation report
type Summary struct {
	TotalInvoices      int `json:"total_invoices"`
	ReconciledInvoices int `json:"reconciled_invoices"`
	PendingInvoices    int `json:"pending_invoices"`

	TotalPayments        int `json:"total_payments"`
	ReconciledPayments   int `json:"reconciled_payments"`
	UnreconciledPayments int `json:"unreconciled_payments"`

	PendingSuggestions int `json:"pending_suggestions"`
	// AIAccuracy is confirmed / (confirmed + rejected), rounded to 2 places.
	// Zero when nothing has been reviewed.
	AIAccuracy decimal.Decimal `json:"ai_accuracy"`

	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	PendingRevenue decimal.Decimal `json:"pending_revenue"`
}

// Service builds reports
type Service struct {
	repo storage.Repository
}

// NewService creates a report service
func NewService(repo storage.Repository) *Service {
	return &Service{repo: repo}
}

// Summary computes the report for userID from its invoices, payments and suggestions.
func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	invoices, err := s.repo.FindInvoicesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	payments, err := s.repo.FindPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	suggestions, err := s.repo.FindSuggestionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestions: %w", err)
	}
	return Build(invoices, payments, suggestions), nil
}

// Build aggregates already-loaded records.
func Build(invoices []ledger.Invoice, payments []ledger.Payment, suggestions []ledger.Suggestion) *Summary {
	sum := &Summary{
		TotalInvoices:  len(invoices),
		TotalPayments:  len(payments),
		AIAccuracy:     decimal.Zero,
		TotalRevenue:   decimal.Zero,
		PendingRevenue: decimal.Zero,
	}

	for _, inv := range invoices {
		if inv.Status == ledger.InvoiceFullyPaid {
			sum.ReconciledInvoices++
		}
		sum.TotalRevenue = sum.TotalRevenue.Add(inv.TotalAmount)
		sum.PendingRevenue = sum.PendingRevenue.Add(inv.PendingAmount)
	}
	sum.PendingInvoices = sum.TotalInvoices - sum.ReconciledInvoices

	for _, p := range payments {
		if p.Status == ledger.PaymentReconciled {
			sum.ReconciledPayments++
		}
	}
	sum.UnreconciledPayments = sum.TotalPayments - sum.ReconciledPayments

	var confirmed, rejected int64
	for _, sug := range suggestions {
		switch sug.Status {
		case ledger.SuggestionConfirmed:
			confirmed++
		case ledger.SuggestionRejected:
			rejected++
		case ledger.SuggestionPending:
			sum.PendingSuggestions++
		}
	}
	if reviewed := confirmed + rejected; reviewed > 0 {
		sum.AIAccuracy = decimal.NewFromInt(confirmed).DivRound(decimal.NewFromInt(reviewed), 2)
	}

	return sum
}
