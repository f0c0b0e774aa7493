package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mybillbook/reconciler/internal/domain/matcher"
	"github.com/mybillbook/reconciler/internal/infrastructure/metrics"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

// Audit trail for reconciliation passes. Failures to record are logged and
// never fail the pass.

// logMatcherCall stores the prompt and raw response of one matcher call
func (s *Service) logMatcherCall(ctx context.Context, runID string, paymentID int64, result *matcher.Result, callErr error, elapsed time.Duration) {
	call := &storage.MatcherCall{
		RunID:      runID,
		PaymentID:  paymentID,
		Model:      s.matcher.Model(),
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  s.now(),
	}
	if result != nil {
		call.Model = result.Model
		call.Prompt = result.Prompt
		call.Response = result.RawResponse
		call.MatchesReturned = len(result.Matches)
	}
	if callErr != nil {
		call.Error = callErr.Error()
		var matchErr *matcher.Error
		if errors.As(callErr, &matchErr) {
			call.Response = matchErr.Raw
		}
	}

	if err := s.repo.LogMatcherCall(ctx, call); err != nil {
		s.logger.Error("Failed to log matcher call", "payment_id", paymentID, "error", err)
	}
}

// completeRun records the final counters of a pass
func (s *Service) completeRun(ctx context.Context, run *storage.Run, result *Result) {
	now := s.now()
	run.CompletedAt = &now
	run.PaymentsConsidered = result.PaymentsConsidered
	run.SuggestionsCreated = result.SuggestionsCreated
	run.PaymentsSkipped = result.SkippedCount
	run.PaymentsErrored = result.ErrorCount

	switch {
	case result.ErrorCount == 0:
		run.Status = storage.RunCompleted
	case result.ErrorCount == result.PaymentsConsidered-result.SkippedCount:
		run.Status = storage.RunFailed
	default:
		run.Status = storage.RunPartial
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, err := range result.Errors {
			msgs = append(msgs, err.Error())
		}
		run.ErrorMessage = strings.Join(msgs, "; ")
	}

	metrics.ReconciliationRuns.WithLabelValues(string(run.Status)).Inc()

	// The pass is done even if the caller went away.
	if err := s.repo.CompleteRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("Failed to record run completion", "run_id", run.RunID, "error", err)
	}
}
