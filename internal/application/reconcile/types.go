// Package reconcile runs AI matching passes over a user's unreconciled payments
// and settles confirmed suggestions against invoices.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/domain/matcher"
	"github.com/mybillbook/reconciler/internal/infrastructure/locking"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// DefaultAutoConfirmThreshold is the bulk confirm floor used when none is given.
var DefaultAutoConfirmThreshold = decimal.RequireFromString("0.90")

// Matcher proposes invoices for a payment. *matcher.Matcher satisfies it.
type Matcher interface {
	Match(ctx context.Context, payment ledger.Payment, candidates []ledger.Invoice) (*matcher.Result, error)
	Model() string
}

// Options configures the reconciliation service
type Options struct {
	// Workers bounds concurrent matcher calls within a pass. Default 1.
	Workers int
	// SettleRetries is how many times a confirmation is attempted when it
	// loses a version race. Default 3.
	SettleRetries int
	// AutoConfirmThreshold is the default floor for BulkConfirmHighConfidence.
	AutoConfirmThreshold decimal.Decimal
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.SettleRetries <= 0 {
		o.SettleRetries = 3
	}
	if !o.AutoConfirmThreshold.IsPositive() {
		o.AutoConfirmThreshold = DefaultAutoConfirmThreshold
	}
	return o
}

// Result contains the outcome of a reconciliation pass
type Result struct {
	RunID              string
	PaymentsConsidered int
	SuggestionsCreated int
	SkippedCount       int
	ErrorCount         int
	Errors             []error
}

// Settlement is what a confirmation did.
type Settlement struct {
	Suggestion ledger.Suggestion
	Invoice    ledger.Invoice
	Payment    ledger.Payment
	Overpaid   decimal.Decimal
}

// BulkFailure records one suggestion a bulk confirm could not settle.
type BulkFailure struct {
	SuggestionID int64  `json:"suggestion_id"`
	Error        string `json:"error"`
}

// BulkResult summarizes a bulk confirmation.
type BulkResult struct {
	Requested int           `json:"requested"`
	Confirmed int           `json:"confirmed"`
	Failures  []BulkFailure `json:"failures,omitempty"`
}

// Service coordinates matching passes and settlement for all users.
type Service struct {
	repo      storage.Repository
	matcher   Matcher
	locker    locking.Locker
	passLocks locking.TryLocker
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a reconciliation service. locker guards invoices during
// settlement; pass a locking.KeyedMutex for a single process or a Redis locker
// when several processes share one database. When locker can also try-lock, it
// holds the one-pass-per-user guard too, so the guard spans processes.
func NewService(repo storage.Repository, m Matcher, locker locking.Locker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = locking.NewKeyedMutex()
	}
	passLocks, ok := locker.(locking.TryLocker)
	if !ok {
		passLocks = locking.NewKeyedMutex()
	}
	return &Service{
		repo:      repo,
		matcher:   m,
		locker:    locker,
		passLocks: passLocks,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}
