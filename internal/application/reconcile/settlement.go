package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/locking"
	"github.com/mybillbook/reconciler/internal/infrastructure/metrics"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// ConfirmSuggestion confirms a PENDING suggestion and settles its payment
// against its invoice. The suggestion, invoice and payment are written in one
// transaction under the invoice lock; a lost version race is retried.
//
// A suggestion whose payment belongs to another user is reported as not found.
func (s *Service) ConfirmSuggestion(ctx context.Context, suggestionID, userID int64) (*Settlement, error) {
	settlement, err := s.confirm(ctx, suggestionID, userID)
	metrics.SuggestionTransitions.WithLabelValues("confirm", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	if settlement.Overpaid.IsPositive() {
		s.logger.Warn("Payment exceeded invoice balance",
			"suggestion_id", suggestionID,
			"invoice_number", settlement.Invoice.InvoiceNumber,
			"payment_id", settlement.Payment.ID,
			"overpaid", settlement.Overpaid.StringFixed(2))
	}
	s.logger.Info("Suggestion confirmed",
		"suggestion_id", suggestionID,
		"user_id", userID,
		"invoice_number", settlement.Invoice.InvoiceNumber,
		"pending_amount", settlement.Invoice.PendingAmount.StringFixed(2),
		"invoice_status", settlement.Invoice.Status)
	return settlement, nil
}

// RejectSuggestion moves a PENDING suggestion to REJECTED. Invoices and payments
// are untouched.
func (s *Service) RejectSuggestion(ctx context.Context, suggestionID, userID int64) (*ledger.Suggestion, error) {
	suggestion, err := s.reject(ctx, suggestionID, userID)
	metrics.SuggestionTransitions.WithLabelValues("reject", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.logger.Info("Suggestion rejected", "suggestion_id", suggestionID, "user_id", userID)
	return suggestion, nil
}

func (s *Service) confirm(ctx context.Context, suggestionID, userID int64) (*Settlement, error) {
	suggestion, err := s.ownedSuggestion(ctx, suggestionID, userID)
	if err != nil {
		return nil, err
	}
	if suggestion.Status != ledger.SuggestionPending {
		return nil, fmt.Errorf("suggestion %d is %s: %w", suggestionID, suggestion.Status, ledger.ErrInvalidState)
	}

	release, err := s.locker.Acquire(ctx, locking.InvoiceKey(suggestion.InvoiceID))
	if err != nil {
		return nil, fmt.Errorf("lock invoice %d: %w", suggestion.InvoiceID, err)
	}
	defer release()

	var settlement *Settlement
	err = s.retryOnConflict(ctx, suggestionID, func() error {
		var txErr error
		settlement, txErr = s.settleOnce(ctx, suggestionID, userID)
		return txErr
	})
	return settlement, err
}

// settleOnce re-reads every row inside the transaction so a retry always works
// from current versions.
func (s *Service) settleOnce(ctx context.Context, suggestionID, userID int64) (*Settlement, error) {
	var settlement *Settlement
	err := s.repo.WithinTx(ctx, func(tx storage.LedgerTx) error {
		suggestion, err := tx.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPayment(ctx, suggestion.PaymentID)
		if err != nil {
			return err
		}
		invoice, err := tx.GetInvoice(ctx, suggestion.InvoiceID)
		if err != nil {
			return err
		}

		if err := suggestion.Confirm(userID, s.now()); err != nil {
			return err
		}
		if payment.Status != ledger.PaymentUnreconciled {
			return fmt.Errorf("payment %d is already %s: %w", payment.ID, payment.Status, ledger.ErrInvalidState)
		}

		res := ledger.ApplyPayment(invoice, payment)
		if err := invoice.CheckInvariants(); err != nil {
			return err
		}

		if err := tx.UpdateSuggestionStatus(ctx, suggestion); err != nil {
			return err
		}
		if err := tx.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		settlement = &Settlement{
			Suggestion: *suggestion,
			Invoice:    *invoice,
			Payment:    *payment,
			Overpaid:   res.Overpaid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

func (s *Service) reject(ctx context.Context, suggestionID, userID int64) (*ledger.Suggestion, error) {
	if _, err := s.ownedSuggestion(ctx, suggestionID, userID); err != nil {
		return nil, err
	}

	var rejected *ledger.Suggestion
	err := s.retryOnConflict(ctx, suggestionID, func() error {
		return s.repo.WithinTx(ctx, func(tx storage.LedgerTx) error {
			suggestion, err := tx.GetSuggestion(ctx, suggestionID)
			if err != nil {
				return err
			}
			if err := suggestion.Reject(); err != nil {
				return err
			}
			if err := tx.UpdateSuggestionStatus(ctx, suggestion); err != nil {
				return err
			}
			rejected = suggestion
			return nil
		})
	})
	return rejected, err
}

// ownedSuggestion loads a suggestion and checks its payment belongs to userID.
func (s *Service) ownedSuggestion(ctx context.Context, suggestionID, userID int64) (*ledger.Suggestion, error) {
	suggestion, err := s.repo.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.GetPayment(ctx, suggestion.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, fmt.Errorf("suggestion %d: %w", suggestionID, ledger.ErrNotFound)
	}
	return suggestion, nil
}

// retryOnConflict runs fn until it succeeds, fails with something other than
// ledger.ErrConflict, or SettleRetries attempts are used up.
func (s *Service) retryOnConflict(ctx context.Context, suggestionID int64, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.SettleRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ledger.ErrConflict) {
			return err
		}
		metrics.SettlementConflicts.Inc()
		s.logger.Warn("Concurrent modification, retrying",
			"suggestion_id", suggestionID,
			"attempt", attempt,
			"error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
	}
	return err
}
