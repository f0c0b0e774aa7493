package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ================================================================
// RECONCILIATION RUNS
// ================================================================

const runColumns = `id, run_id, user_id, started_at, completed_at, payments_considered,
	suggestions_created, payments_skipped, payments_errored, status, error_message`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RunID, &r.UserID, &r.StartedAt, &completedAt, &r.PaymentsConsidered,
		&r.SuggestionsCreated, &r.PaymentsSkipped, &r.PaymentsErrored, &r.Status, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

// StartRun records the start of a reconciliation run
func (q *queries) StartRun(ctx context.Context, run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (run_id, user_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.UserID, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// CompleteRun records the completion of a reconciliation run
func (q *queries) CompleteRun(ctx context.Context, run *Run) error {
	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE reconciliation_runs
		SET completed_at = ?, payments_considered = ?, suggestions_created = ?,
			payments_skipped = ?, payments_errored = ?, status = ?, error_message = ?
		WHERE run_id = ?`,
		*run.CompletedAt, run.PaymentsConsidered, run.SuggestionsCreated,
		run.PaymentsSkipped, run.PaymentsErrored, run.Status, run.ErrorMessage, run.RunID)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.RunID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return notFound(sql.ErrNoRows, "run", run.RunID)
	}
	return err
}

// GetRun retrieves a run by its correlation id
func (q *queries) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(q.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM reconciliation_runs WHERE run_id = ?`, runID))
	if err != nil {
		return nil, notFound(err, "run", runID)
	}
	return r, nil
}

// ListRuns returns recent runs for a user
func (q *queries) ListRuns(ctx context.Context, userID int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+runColumns+` FROM reconciliation_runs
		WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ================================================================
// MATCHER CALL LOG
// ================================================================

// LogMatcherCall logs a matcher call to the database
func (q *queries) LogMatcherCall(ctx context.Context, call *MatcherCall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO matcher_calls
			(run_id, payment_id, model, prompt, response, matches_returned, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.RunID, call.PaymentID, call.Model, call.Prompt, call.Response,
		call.MatchesReturned, call.Error, call.DurationMs, call.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log matcher call: %w", err)
	}
	call.ID, err = res.LastInsertId()
	return err
}

func (q *queries) listMatcherCalls(ctx context.Context, where string, arg any) ([]MatcherCall, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, run_id, payment_id, model, prompt, response, matches_returned, error, duration_ms, created_at
		FROM matcher_calls WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query matcher calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]MatcherCall, 0)
	for rows.Next() {
		var c MatcherCall
		if err := rows.Scan(&c.ID, &c.RunID, &c.PaymentID, &c.Model, &c.Prompt, &c.Response,
			&c.MatchesReturned, &c.Error, &c.DurationMs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan matcher call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// GetMatcherCallsByRunID retrieves all matcher calls for a run
func (q *queries) GetMatcherCallsByRunID(ctx context.Context, runID string) ([]MatcherCall, error) {
	return q.listMatcherCalls(ctx, `run_id = ?`, runID)
}

// GetMatcherCallsByPaymentID retrieves all matcher calls for a payment
func (q *queries) GetMatcherCallsByPaymentID(ctx context.Context, paymentID int64) ([]MatcherCall, error) {
	return q.listMatcherCalls(ctx, `payment_id = ?`, paymentID)
}
