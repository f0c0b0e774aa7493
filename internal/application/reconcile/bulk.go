package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/metrics"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// BulkConfirm confirms each id in order, each in its own transaction. A failed
// id is logged and recorded and the rest still run; nothing already confirmed
// is undone.
func (s *Service) BulkConfirm(ctx context.Context, suggestionIDs []int64, userID int64) *BulkResult {
	result := &BulkResult{Requested: len(suggestionIDs)}
	for _, id := range suggestionIDs {
		if _, err := s.ConfirmSuggestion(ctx, id, userID); err != nil {
			s.logger.Warn("Bulk confirm item failed", "suggestion_id", id, "user_id", userID, "error", err)
			result.Failures = append(result.Failures, BulkFailure{SuggestionID: id, Error: err.Error()})
			metrics.BulkConfirmItems.WithLabelValues("error").Inc()
			continue
		}
		result.Confirmed++
		metrics.BulkConfirmItems.WithLabelValues("ok").Inc()
	}

	s.logger.Info("Bulk confirm complete",
		"user_id", userID,
		"requested", result.Requested,
		"confirmed", result.Confirmed,
		"failed", len(result.Failures))
	return result
}

// BulkConfirmHighConfidence confirms every PENDING suggestion of userID whose
// confidence is at least floor. A nil floor means the configured threshold; an
// explicit zero confirms everything pending. Stronger suggestions go first so
// that, when two suggestions compete for one payment, the better one settles it.
func (s *Service) BulkConfirmHighConfidence(ctx context.Context, floor *decimal.Decimal, userID int64) (*BulkResult, error) {
	minConfidence := s.opts.AutoConfirmThreshold
	if floor != nil {
		minConfidence = *floor
	}
	if minConfidence.IsNegative() || minConfidence.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("min confidence %s outside [0, 1]: %w", minConfidence, ledger.ErrValidation)
	}

	candidates, err := s.repo.FindSuggestionsByMinConfidenceAndStatus(ctx, minConfidence, ledger.SuggestionPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load high confidence suggestions: %w", err)
	}
	owned, err := s.ownedPaymentIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	mine := make([]ledger.Suggestion, 0, len(candidates))
	for _, sug := range candidates {
		if owned[sug.PaymentID] {
			mine = append(mine, sug)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if !mine[i].Confidence.Equal(mine[j].Confidence) {
			return mine[i].Confidence.GreaterThan(mine[j].Confidence)
		}
		return mine[i].ID < mine[j].ID
	})

	ids := make([]int64, len(mine))
	for i, sug := range mine {
		ids[i] = sug.ID
	}

	s.logger.Info("Confirming high confidence suggestions",
		"user_id", userID,
		"min_confidence", minConfidence.String(),
		"count", len(ids))
	return s.BulkConfirm(ctx, ids, userID), nil
}

// PendingSuggestions lists userID's PENDING suggestions with their payment and
// invoice, highest confidence first.
func (s *Service) PendingSuggestions(ctx context.Context, userID int64) ([]ledger.SuggestionDetail, error) {
	return s.repo.FindSuggestionDetailsByUserAndStatus(ctx, userID, ledger.SuggestionPending)
}

// ListRuns returns recent reconciliation passes for userID.
func (s *Service) ListRuns(ctx context.Context, userID int64, limit int) ([]storage.Run, error) {
	return s.repo.ListRuns(ctx, userID, limit)
}

// GetRun returns one pass together with its matcher call log.
func (s *Service) GetRun(ctx context.Context, runID string, userID int64) (*storage.Run, []storage.MatcherCall, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.UserID != userID {
		return nil, nil, fmt.Errorf("run %s: %w", runID, ledger.ErrNotFound)
	}
	calls, err := s.repo.GetMatcherCallsByRunID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, calls, nil
}

// PaymentMatcherCalls returns every matcher call made for one of userID's
// payments, across passes, oldest first.
func (s *Service) PaymentMatcherCalls(ctx context.Context, paymentID, userID int64) ([]storage.MatcherCall, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, fmt.Errorf("payment %d: %w", paymentID, ledger.ErrNotFound)
	}
	return s.repo.GetMatcherCallsByPaymentID(ctx, paymentID)
}

func (s *Service) ownedPaymentIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	payments, err := s.repo.FindPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	owned := make(map[int64]bool, len(payments))
	for _, p := range payments {
		owned[p.ID] = true
	}
	return owned, nil
}
