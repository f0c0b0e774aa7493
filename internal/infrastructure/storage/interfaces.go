package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, in-memory)
// and makes testing with mocks straightforward.
//
// Lookups of a single record by id return an error wrapping ledger.ErrNotFound
// when the record does not exist.
type Repository interface {
	UserRepository
	InvoiceRepository
	PaymentRepository
	SuggestionRepository
	RunRepository
	MatcherCallRepository

	// WithinTx runs fn inside one transaction. If fn returns an error every
	// write made through tx is rolled back.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	Close() error
}

// LedgerTx is the set of operations available inside a settlement transaction.
type LedgerTx interface {
	GetSuggestion(ctx context.Context, id int64) (*ledger.Suggestion, error)
	GetPayment(ctx context.Context, id int64) (*ledger.Payment, error)
	GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error)

	// UpdateSuggestionStatus persists a transition out of PENDING. It returns
	// ledger.ErrConflict if the stored row is no longer PENDING.
	UpdateSuggestionStatus(ctx context.Context, s *ledger.Suggestion) error

	// UpdateInvoice writes pending amount and status guarded by the version
	// stamp. A stale version yields ledger.ErrConflict. On success inv.Version
	// is advanced.
	UpdateInvoice(ctx context.Context, inv *ledger.Invoice) error

	// UpdatePayment writes the payment status guarded by the version stamp.
	UpdatePayment(ctx context.Context, p *ledger.Payment) error
}

// UserRepository handles account lookups
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*ledger.User, error)
	FindUserByMobile(ctx context.Context, mobile string) (*ledger.User, error)
	CreateUser(ctx context.Context, user *ledger.User) error
}

// InvoiceRepository handles invoice persistence
type InvoiceRepository interface {
	// SaveInvoices inserts all invoices or none. A duplicate invoice number
	// fails the batch with ledger.ErrValidation.
	SaveInvoices(ctx context.Context, invoices []*ledger.Invoice) error
	GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error)
	FindInvoiceByNumber(ctx context.Context, invoiceNumber string) (*ledger.Invoice, error)
	FindInvoicesByUser(ctx context.Context, userID int64) ([]ledger.Invoice, error)
	FindInvoicesByUserAndStatus(ctx context.Context, userID int64, status ledger.InvoiceStatus) ([]ledger.Invoice, error)
	FindInvoicesByUserAndStatusIn(ctx context.Context, userID int64, statuses []ledger.InvoiceStatus) ([]ledger.Invoice, error)
}

// PaymentRepository handles payment persistence
type PaymentRepository interface {
	// SavePayments inserts all payments or none.
	SavePayments(ctx context.Context, payments []*ledger.Payment) error
	GetPayment(ctx context.Context, id int64) (*ledger.Payment, error)
	FindPaymentsByUser(ctx context.Context, userID int64) ([]ledger.Payment, error)
	FindPaymentsByUserAndStatus(ctx context.Context, userID int64, status ledger.PaymentStatus) ([]ledger.Payment, error)
}

// SuggestionRepository handles reconciliation suggestion persistence
type SuggestionRepository interface {
	CreateSuggestion(ctx context.Context, s *ledger.Suggestion) error
	GetSuggestion(ctx context.Context, id int64) (*ledger.Suggestion, error)
	FindSuggestionsByPayment(ctx context.Context, paymentID int64) ([]ledger.Suggestion, error)
	FindSuggestionsByPaymentAndStatus(ctx context.Context, paymentID int64, status ledger.SuggestionStatus) ([]ledger.Suggestion, error)
	ExistsSuggestionByPaymentAndStatus(ctx context.Context, paymentID int64, status ledger.SuggestionStatus) (bool, error)
	FindSuggestionsByStatus(ctx context.Context, status ledger.SuggestionStatus) ([]ledger.Suggestion, error)
	// FindSuggestionsByMinConfidenceAndStatus returns suggestions with confidence >= minConfidence.
	FindSuggestionsByMinConfidenceAndStatus(ctx context.Context, minConfidence decimal.Decimal, status ledger.SuggestionStatus) ([]ledger.Suggestion, error)
	// FindSuggestionsByUser returns every suggestion whose payment belongs to userID.
	FindSuggestionsByUser(ctx context.Context, userID int64) ([]ledger.Suggestion, error)
	// FindSuggestionDetailsByUserAndStatus joins each suggestion with its payment and invoice.
	FindSuggestionDetailsByUserAndStatus(ctx context.Context, userID int64, status ledger.SuggestionStatus) ([]ledger.SuggestionDetail, error)
}

// RunRepository handles reconciliation run tracking
type RunRepository interface {
	// StartRun records the start of a pass. run.RunID must be set.
	StartRun(ctx context.Context, run *Run) error
	// CompleteRun records counters, status and completion time.
	CompleteRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	// ListRuns returns the most recent runs for a user, newest first.
	ListRuns(ctx context.Context, userID int64, limit int) ([]Run, error)
}

// MatcherCallRepository handles matcher call logging
type MatcherCallRepository interface {
	LogMatcherCall(ctx context.Context, call *MatcherCall) error
	GetMatcherCallsByRunID(ctx context.Context, runID string) ([]MatcherCall, error)
	GetMatcherCallsByPaymentID(ctx context.Context, paymentID int64) ([]MatcherCall, error)
}
