package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// ================================================================
// USERS
// ================================================================

const userColumns = `id, mobile_number, name, business_name, created_at`

func (q *queries) GetUser(ctx context.Context, id int64) (*ledger.User, error) {
	u := &ledger.User{}
	err := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.MobileNumber, &u.Name, &u.BusinessName, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (q *queries) FindUserByMobile(ctx context.Context, mobile string) (*ledger.User, error) {
	u := &ledger.User{}
	err := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE mobile_number = ?`, mobile).
		Scan(&u.ID, &u.MobileNumber, &u.Name, &u.BusinessName, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user with mobile", mobile)
	}
	return u, nil
}

func (q *queries) CreateUser(ctx context.Context, user *ledger.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO users (mobile_number, name, business_name, created_at)
		VALUES (?, ?, ?, ?)`,
		user.MobileNumber, user.Name, user.BusinessName, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("mobile number %s already registered: %w", user.MobileNumber, ledger.ErrValidation)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	return err
}

// ================================================================
// INVOICES
// ================================================================

const invoiceColumns = `id, user_id, invoice_number, customer_name, total_amount, pending_amount,
	status, invoice_date, version, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (*ledger.Invoice, error) {
	inv := &ledger.Invoice{}
	err := row.Scan(&inv.ID, &inv.UserID, &inv.InvoiceNumber, &inv.CustomerName,
		&inv.TotalAmount, &inv.PendingAmount, &inv.Status, &inv.InvoiceDate,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (q *queries) listInvoices(ctx context.Context, where string, args ...any) ([]ledger.Invoice, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where+` ORDER BY invoice_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	invoices := make([]ledger.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (q *queries) GetInvoice(ctx context.Context, id int64) (*ledger.Invoice, error) {
	inv, err := scanInvoice(q.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return inv, nil
}

func (q *queries) FindInvoiceByNumber(ctx context.Context, invoiceNumber string) (*ledger.Invoice, error) {
	inv, err := scanInvoice(q.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number = ?`, invoiceNumber))
	if err != nil {
		return nil, notFound(err, "invoice", invoiceNumber)
	}
	return inv, nil
}

func (q *queries) FindInvoicesByUser(ctx context.Context, userID int64) ([]ledger.Invoice, error) {
	return q.listInvoices(ctx, `user_id = ?`, userID)
}

func (q *queries) FindInvoicesByUserAndStatus(ctx context.Context, userID int64, status ledger.InvoiceStatus) ([]ledger.Invoice, error) {
	return q.listInvoices(ctx, `user_id = ? AND status = ?`, userID, status)
}

func (q *queries) FindInvoicesByUserAndStatusIn(ctx context.Context, userID int64, statuses []ledger.InvoiceStatus) ([]ledger.Invoice, error) {
	if len(statuses) == 0 {
		return []ledger.Invoice{}, nil
	}
	args := []any{userID}
	for _, s := range statuses {
		args = append(args, s)
	}
	return q.listInvoices(ctx, `user_id = ? AND status IN (`+placeholders(len(statuses))+`)`, args...)
}

func (q *queries) insertInvoice(ctx context.Context, inv *ledger.Invoice) error {
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = inv.CreatedAt
	if inv.Version == 0 {
		inv.Version = 1
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO invoices (user_id, invoice_number, customer_name, total_amount, pending_amount,
			status, invoice_date, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.UserID, inv.InvoiceNumber, inv.CustomerName, inv.TotalAmount, inv.PendingAmount,
		inv.Status, inv.InvoiceDate, inv.Version, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice number %s already exists: %w", inv.InvoiceNumber, ledger.ErrValidation)
		}
		return fmt.Errorf("failed to insert invoice %s: %w", inv.InvoiceNumber, err)
	}
	inv.ID, err = res.LastInsertId()
	return err
}

func (q *queries) UpdateInvoice(ctx context.Context, inv *ledger.Invoice) error {
	updatedAt := time.Now().UTC()
	res, err := q.q.ExecContext(ctx, `
		UPDATE invoices
		SET pending_amount = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		inv.PendingAmount, inv.Status, updatedAt, inv.ID, inv.Version)
	if err != nil {
		return fmt.Errorf("failed to update invoice %d: %w", inv.ID, err)
	}
	if err := expectOneRow(res, "invoice", inv.ID); err != nil {
		return err
	}
	inv.Version++
	inv.UpdatedAt = updatedAt
	return nil
}

// ================================================================
// PAYMENTS
// ================================================================

const paymentColumns = `id, user_id, amount, payment_date, payment_mode, remark, status, version, created_at`

func scanPayment(row interface{ Scan(...any) error }) (*ledger.Payment, error) {
	p := &ledger.Payment{}
	err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.PaymentDate, &p.Mode, &p.Remark,
		&p.Status, &p.Version, &p.CreatedAt)
	return p, err
}

func (q *queries) listPayments(ctx context.Context, where string, args ...any) ([]ledger.Payment, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY payment_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	payments := make([]ledger.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (q *queries) GetPayment(ctx context.Context, id int64) (*ledger.Payment, error) {
	p, err := scanPayment(q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return p, nil
}

func (q *queries) FindPaymentsByUser(ctx context.Context, userID int64) ([]ledger.Payment, error) {
	return q.listPayments(ctx, `user_id = ?`, userID)
}

func (q *queries) FindPaymentsByUserAndStatus(ctx context.Context, userID int64, status ledger.PaymentStatus) ([]ledger.Payment, error) {
	return q.listPayments(ctx, `user_id = ? AND status = ?`, userID, status)
}

func (q *queries) insertPayment(ctx context.Context, p *ledger.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO payments (user_id, amount, payment_date, payment_mode, remark, status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Amount, p.PaymentDate, p.Mode, p.Remark, p.Status, p.Version, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (q *queries) UpdatePayment(ctx context.Context, p *ledger.Payment) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE payments SET status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Status, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update payment %d: %w", p.ID, err)
	}
	if err := expectOneRow(res, "payment", p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// SaveInvoices inserts a batch of invoices in one transaction
func (s *Storage) SaveInvoices(ctx context.Context, invoices []*ledger.Invoice) error {
	return s.inTx(ctx, func(q *queries) error {
		for _, inv := range invoices {
			if err := q.insertInvoice(ctx, inv); err != nil {
				return err
			}
		}
		return nil
	})
}

// SavePayments inserts a batch of payments in one transaction
func (s *Storage) SavePayments(ctx context.Context, payments []*ledger.Payment) error {
	return s.inTx(ctx, func(q *queries) error {
		for _, p := range payments {
			if err := q.insertPayment(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// expectOneRow turns a zero-row guarded update into ErrConflict.
func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d changed concurrently: %w", what, id, ledger.ErrConflict)
	}
	return nil
}
