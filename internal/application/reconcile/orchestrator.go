package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/locking"
	"github.com/mybillbook/reconciler/internal/infrastructure/metrics"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// RunReconciliation runs one matching pass for userID and returns the number of
// suggestions created.
func (s *Service) RunReconciliation(ctx context.Context, userID int64) (int, error) {
	result, err := s.Run(ctx, userID)
	if err != nil {
		return 0, err
	}
	return result.SuggestionsCreated, nil
}

// Run asks the matcher about every UNRECONCILED payment of userID that has no
// PENDING suggestion yet and stores the resolvable proposals as PENDING
// suggestions. A failure on one payment is logged and counted; the pass goes on.
//
// Only one pass per user runs at a time; a second caller gets ledger.ErrRunInProgress.
func (s *Service) Run(ctx context.Context, userID int64) (*Result, error) {
	release, ok, err := s.passLocks.TryAcquire(ctx, locking.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to take pass lock for user %d: %w", userID, err)
	}
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, ledger.ErrRunInProgress)
	}
	defer release()

	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	payments, err := s.repo.FindPaymentsByUserAndStatus(ctx, userID, ledger.PaymentUnreconciled)
	if err != nil {
		return nil, fmt.Errorf("failed to load unreconciled payments: %w", err)
	}
	invoices, err := s.repo.FindInvoicesByUserAndStatusIn(ctx, userID, ledger.OpenInvoiceStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to load open invoices: %w", err)
	}

	result := &Result{}
	if len(payments) == 0 || len(invoices) == 0 {
		s.logger.Info("Nothing to reconcile",
			"user_id", userID,
			"unreconciled_payments", len(payments),
			"open_invoices", len(invoices))
		return result, nil
	}

	run := &storage.Run{
		RunID:     uuid.NewString(),
		UserID:    userID,
		StartedAt: s.now(),
		Status:    storage.RunRunning,
	}
	if err := s.repo.StartRun(ctx, run); err != nil {
		s.logger.Error("Failed to record run start", "run_id", run.RunID, "error", err)
	}
	result.RunID = run.RunID
	result.PaymentsConsidered = len(payments)

	s.logger.Info("Starting reconciliation",
		"run_id", run.RunID,
		"user_id", userID,
		"payments", len(payments),
		"open_invoices", len(invoices),
		"workers", s.opts.Workers)

	byNumber := make(map[string]ledger.Invoice, len(invoices))
	for _, inv := range invoices {
		byNumber[strings.ToLower(inv.InvoiceNumber)] = inv
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for _, payment := range payments {
		g.Go(func() error {
			created, skipped, err := s.processPayment(ctx, run.RunID, payment, invoices, byNumber)

			mu.Lock()
			defer mu.Unlock()
			result.SuggestionsCreated += created
			switch {
			case err != nil:
				result.ErrorCount++
				result.Errors = append(result.Errors, fmt.Errorf("payment %d: %w", payment.ID, err))
				metrics.PaymentsProcessed.WithLabelValues("errored").Inc()
			case skipped:
				result.SkippedCount++
				metrics.PaymentsProcessed.WithLabelValues("skipped").Inc()
			case created > 0:
				metrics.PaymentsProcessed.WithLabelValues("matched").Inc()
			default:
				metrics.PaymentsProcessed.WithLabelValues("unmatched").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.completeRun(ctx, run, result)

	s.logger.Info("Reconciliation complete",
		"run_id", run.RunID,
		"user_id", userID,
		"suggestions_created", result.SuggestionsCreated,
		"skipped", result.SkippedCount,
		"errors", result.ErrorCount)

	return result, nil
}

// processPayment matches one payment and persists its suggestions.
// Returns (created, skipped, error)
func (s *Service) processPayment(
	ctx context.Context,
	runID string,
	payment ledger.Payment,
	invoices []ledger.Invoice,
	byNumber map[string]ledger.Invoice,
) (int, bool, error) {
	pending, err := s.repo.ExistsSuggestionByPaymentAndStatus(ctx, payment.ID, ledger.SuggestionPending)
	if err != nil {
		s.logger.Error("Failed to check pending suggestions", "payment_id", payment.ID, "error", err)
		return 0, false, err
	}
	if pending {
		s.logger.Debug("Skipping payment with pending suggestions", "payment_id", payment.ID)
		return 0, true, nil
	}

	start := time.Now()
	matchResult, err := s.matcher.Match(ctx, payment, invoices)
	elapsed := time.Since(start)
	metrics.MatcherLatency.WithLabelValues(metrics.Result(err)).Observe(elapsed.Seconds())
	s.logMatcherCall(ctx, runID, payment.ID, matchResult, err, elapsed)
	if err != nil {
		s.logger.Error("Matcher call failed", "payment_id", payment.ID, "error", err)
		return 0, false, err
	}

	created := 0
	seen := make(map[int64]bool, len(matchResult.Matches))
	for _, match := range matchResult.Matches {
		inv, ok := byNumber[strings.ToLower(match.InvoiceNumber)]
		if !ok {
			s.logger.Warn("Discarding match for unknown invoice",
				"payment_id", payment.ID,
				"invoice_number", match.InvoiceNumber,
				"confidence", match.Confidence.String())
			metrics.UnresolvedMatches.Inc()
			continue
		}
		if seen[inv.ID] {
			continue
		}
		seen[inv.ID] = true

		suggestion := &ledger.Suggestion{
			PaymentID:  payment.ID,
			InvoiceID:  inv.ID,
			Confidence: match.Confidence,
			Reasoning:  match.Reason,
			Status:     ledger.SuggestionPending,
			AIModel:    matchResult.Model,
			CreatedAt:  s.now(),
		}
		if err := s.repo.CreateSuggestion(ctx, suggestion); err != nil {
			if errors.Is(err, ledger.ErrConflict) {
				s.logger.Debug("Pending suggestion already exists",
					"payment_id", payment.ID, "invoice_id", inv.ID)
				continue
			}
			s.logger.Error("Failed to save suggestion",
				"payment_id", payment.ID, "invoice_id", inv.ID, "error", err)
			return created, false, err
		}
		created++
		metrics.SuggestionsCreated.Inc()

		s.logger.Debug("Created suggestion",
			"suggestion_id", suggestion.ID,
			"payment_id", payment.ID,
			"invoice_number", inv.InvoiceNumber,
			"confidence", match.Confidence.String())
	}

	return created, false, nil
}
