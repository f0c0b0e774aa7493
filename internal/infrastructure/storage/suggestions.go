package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

const suggestionColumns = `s.id, s.payment_id, s.invoice_id, s.confidence, s.reasoning, s.status,
	s.ai_model, s.created_at, s.confirmed_at, s.confirmed_by`

func scanSuggestion(row interface{ Scan(...any) error }, extra ...any) (*ledger.Suggestion, error) {
	s := &ledger.Suggestion{}
	var confirmedAt sql.NullTime
	var confirmedBy sql.NullInt64

	dest := []any{&s.ID, &s.PaymentID, &s.InvoiceID, &s.Confidence, &s.Reasoning, &s.Status,
		&s.AIModel, &s.CreatedAt, &confirmedAt, &confirmedBy}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if confirmedAt.Valid {
		t := confirmedAt.Time
		s.ConfirmedAt = &t
	}
	if confirmedBy.Valid {
		by := confirmedBy.Int64
		s.ConfirmedBy = &by
	}
	return s, nil
}

func (q *queries) listSuggestions(ctx context.Context, from, where string, args ...any) ([]ledger.Suggestion, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+suggestionColumns+` FROM `+from+` WHERE `+where+` ORDER BY s.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	suggestions := make([]ledger.Suggestion, 0)
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		suggestions = append(suggestions, *s)
	}
	return suggestions, rows.Err()
}

func (q *queries) CreateSuggestion(ctx context.Context, s *ledger.Suggestion) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = ledger.SuggestionPending
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO reconciliation_suggestions
			(payment_id, invoice_id, confidence, reasoning, status, ai_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.PaymentID, s.InvoiceID, s.Confidence, s.Reasoning, s.Status, s.AIModel, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pending suggestion for payment %d and invoice %d already exists: %w",
				s.PaymentID, s.InvoiceID, ledger.ErrConflict)
		}
		return fmt.Errorf("failed to create suggestion: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

func (q *queries) GetSuggestion(ctx context.Context, id int64) (*ledger.Suggestion, error) {
	s, err := scanSuggestion(q.q.QueryRowContext(ctx,
		`SELECT `+suggestionColumns+` FROM reconciliation_suggestions s WHERE s.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "suggestion", id)
	}
	return s, nil
}

func (q *queries) UpdateSuggestionStatus(ctx context.Context, s *ledger.Suggestion) error {
	var confirmedAt sql.NullTime
	if s.ConfirmedAt != nil {
		confirmedAt = sql.NullTime{Time: *s.ConfirmedAt, Valid: true}
	}
	var confirmedBy sql.NullInt64
	if s.ConfirmedBy != nil {
		confirmedBy = sql.NullInt64{Int64: *s.ConfirmedBy, Valid: true}
	}

	res, err := q.q.ExecContext(ctx, `
		UPDATE reconciliation_suggestions
		SET status = ?, confirmed_at = ?, confirmed_by = ?
		WHERE id = ? AND status = ?`,
		s.Status, confirmedAt, confirmedBy, s.ID, ledger.SuggestionPending)
	if err != nil {
		return fmt.Errorf("failed to update suggestion %d: %w", s.ID, err)
	}
	return expectOneRow(res, "suggestion", s.ID)
}

func (q *queries) FindSuggestionsByPayment(ctx context.Context, paymentID int64) ([]ledger.Suggestion, error) {
	return q.listSuggestions(ctx, `reconciliation_suggestions s`, `s.payment_id = ?`, paymentID)
}

func (q *queries) FindSuggestionsByPaymentAndStatus(ctx context.Context, paymentID int64, status ledger.SuggestionStatus) ([]ledger.Suggestion, error) {
	return q.listSuggestions(ctx, `reconciliation_suggestions s`, `s.payment_id = ? AND s.status = ?`, paymentID, status)
}

func (q *queries) ExistsSuggestionByPaymentAndStatus(ctx context.Context, paymentID int64, status ledger.SuggestionStatus) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM reconciliation_suggestions WHERE payment_id = ? AND status = ?)`,
		paymentID, status).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check suggestions for payment %d: %w", paymentID, err)
	}
	return exists, nil
}

func (q *queries) FindSuggestionsByStatus(ctx context.Context, status ledger.SuggestionStatus) ([]ledger.Suggestion, error) {
	return q.listSuggestions(ctx, `reconciliation_suggestions s`, `s.status = ?`, status)
}

// FindSuggestionsByMinConfidenceAndStatus compares confidences as decimals.
// SQLite would order the TEXT column lexically, so the floor is applied here.
func (q *queries) FindSuggestionsByMinConfidenceAndStatus(ctx context.Context, minConfidence decimal.Decimal, status ledger.SuggestionStatus) ([]ledger.Suggestion, error) {
	candidates, err := q.listSuggestions(ctx, `reconciliation_suggestions s`, `s.status = ?`, status)
	if err != nil {
		return nil, err
	}
	suggestions := candidates[:0]
	for _, s := range candidates {
		if s.Confidence.GreaterThanOrEqual(minConfidence) {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions, nil
}

func (q *queries) FindSuggestionsByUser(ctx context.Context, userID int64) ([]ledger.Suggestion, error) {
	return q.listSuggestions(ctx,
		`reconciliation_suggestions s JOIN payments p ON p.id = s.payment_id`,
		`p.user_id = ?`, userID)
}

func (q *queries) FindSuggestionDetailsByUserAndStatus(ctx context.Context, userID int64, status ledger.SuggestionStatus) ([]ledger.SuggestionDetail, error) {
	query := `SELECT ` + suggestionColumns + `,
		p.id, p.user_id, p.amount, p.payment_date, p.payment_mode, p.remark, p.status, p.version, p.created_at,
		i.id, i.user_id, i.invoice_number, i.customer_name, i.total_amount, i.pending_amount,
		i.status, i.invoice_date, i.version, i.created_at, i.updated_at
	FROM reconciliation_suggestions s
	JOIN payments p ON p.id = s.payment_id
	JOIN invoices i ON i.id = s.invoice_id
	WHERE p.user_id = ? AND s.status = ?
	ORDER BY s.id`

	rows, err := q.q.QueryContext(ctx, query, userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestion details: %w", err)
	}
	defer func() { _ = rows.Close() }()

	details := make([]ledger.SuggestionDetail, 0)
	for rows.Next() {
		var d ledger.SuggestionDetail
		p, i := &d.Payment, &d.Invoice
		s, err := scanSuggestion(rows,
			&p.ID, &p.UserID, &p.Amount, &p.PaymentDate, &p.Mode, &p.Remark, &p.Status, &p.Version, &p.CreatedAt,
			&i.ID, &i.UserID, &i.InvoiceNumber, &i.CustomerName, &i.TotalAmount, &i.PendingAmount,
			&i.Status, &i.InvoiceDate, &i.Version, &i.CreatedAt, &i.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion detail: %w", err)
		}
		d.Suggestion = *s
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Confidence.GreaterThan(details[j].Confidence)
	})
	return details, nil
}
