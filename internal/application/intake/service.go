// Package intake handles the ledger's inbound edges: user login and the batch
// upload and listing of invoices and payments.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
	"github.com/mybillbook/reconciler/internal/infrastructure/storage"
)

const dateLayout = "2006-01-02"

// LoginRequest identifies a user by mobile number. Name and business name are
// only used when the user is created.
type LoginRequest struct {
	MobileNumber string `json:"mobile_number" validate:"required"`
	Name         string `json:"name" validate:"max=100"`
	BusinessName string `json:"business_name" validate:"max=200"`
}

// InvoiceInput is one invoice in an upload batch. PendingAmount and Status are
// optional; they default to TotalAmount and the status implied by the amounts.
type InvoiceInput struct {
	InvoiceNumber string           `json:"invoice_number" validate:"required,max=50"`
	CustomerName  string           `json:"customer_name" validate:"required,max=200"`
	TotalAmount   decimal.Decimal  `json:"total_amount" validate:"gt=0"`
	PendingAmount *decimal.Decimal `json:"pending_amount,omitempty" validate:"omitempty,gte=0"`
	Status        string           `json:"status,omitempty" validate:"omitempty,oneof=UNPAID PARTIALLY_PAID FULLY_PAID"`
	InvoiceDate   string           `json:"invoice_date" validate:"required,datetime=2006-01-02"`
}

// PaymentInput is one payment in an upload batch.
type PaymentInput struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentDate string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Mode        string          `json:"payment_mode" validate:"required,oneof=UPI CASH CARD BANK_TRANSFER"`
	Remark      string          `json:"remark,omitempty" validate:"max=500"`
	Status      string          `json:"status,omitempty" validate:"omitempty,oneof=UNRECONCILED RECONCILED"`
}

// Service implements login, upload and listing
type Service struct {
	repo     storage.Repository
	validate *validate
	logger   *slog.Logger
}

// NewService creates an intake service
func NewService(repo storage.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validate: newValidator(), logger: logger}
}

// Login returns the user registered under the mobile number, creating it on
// first use. created reports whether a new user was stored.
func (s *Service) Login(ctx context.Context, req LoginRequest) (user *ledger.User, created bool, err error) {
	if err := s.validate.check("login", req); err != nil {
		return nil, false, err
	}
	mobile, err := NormalizeMobile(req.MobileNumber)
	if err != nil {
		return nil, false, err
	}

	user, err = s.repo.FindUserByMobile(ctx, mobile)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, false, err
	}

	user = &ledger.User{
		MobileNumber: mobile,
		Name:         strings.TrimSpace(req.Name),
		BusinessName: strings.TrimSpace(req.BusinessName),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info("Created new user", "user_id", user.ID, "mobile", mobile)
	return user, true, nil
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, userID int64) (*ledger.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// UploadInvoices validates and stores a batch of invoices for userID. Either
// every invoice is stored or none is.
func (s *Service) UploadInvoices(ctx context.Context, userID int64, inputs []InvoiceInput) ([]ledger.Invoice, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	invoices := make([]*ledger.Invoice, 0, len(inputs))
	numbers := make(map[string]int, len(inputs))
	for i, in := range inputs {
		label := fmt.Sprintf("invoice %d", i)
		if err := s.validate.check(label, in); err != nil {
			return nil, err
		}
		if prev, dup := numbers[in.InvoiceNumber]; dup {
			return nil, fmt.Errorf("%s: invoice number %s repeats invoice %d: %w", label, in.InvoiceNumber, prev, ledger.ErrValidation)
		}
		numbers[in.InvoiceNumber] = i

		inv, err := in.toInvoice(userID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		invoices = append(invoices, inv)
	}

	if err := s.repo.SaveInvoices(ctx, invoices); err != nil {
		return nil, err
	}
	s.logger.Info("Uploaded invoices", "user_id", userID, "count", len(invoices))

	out := make([]ledger.Invoice, len(invoices))
	for i, inv := range invoices {
		out[i] = *inv
	}
	return out, nil
}

func (in InvoiceInput) toInvoice(userID int64) (*ledger.Invoice, error) {
	date, err := time.Parse(dateLayout, in.InvoiceDate)
	if err != nil {
		return nil, fmt.Errorf("invoice date %q: %w", in.InvoiceDate, ledger.ErrValidation)
	}
	inv := &ledger.Invoice{
		UserID:        userID,
		InvoiceNumber: strings.TrimSpace(in.InvoiceNumber),
		CustomerName:  strings.TrimSpace(in.CustomerName),
		TotalAmount:   in.TotalAmount,
		Status:        ledger.InvoiceStatus(in.Status),
		InvoiceDate:   date,
	}
	if in.PendingAmount != nil {
		inv.PendingAmount = *in.PendingAmount
	}
	inv.PrepareNew(in.PendingAmount != nil)
	if err := inv.CheckInvariants(); err != nil {
		return nil, err
	}
	return inv, nil
}

// UploadPayments validates and stores a batch of payments for userID. Either
// every payment is stored or none is.
func (s *Service) UploadPayments(ctx context.Context, userID int64, inputs []PaymentInput) ([]ledger.Payment, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	payments := make([]*ledger.Payment, 0, len(inputs))
	for i, in := range inputs {
		label := fmt.Sprintf("payment %d", i)
		if err := s.validate.check(label, in); err != nil {
			return nil, err
		}
		date, err := time.Parse(dateLayout, in.PaymentDate)
		if err != nil {
			return nil, fmt.Errorf("%s: payment date %q: %w", label, in.PaymentDate, ledger.ErrValidation)
		}
		p := &ledger.Payment{
			UserID:      userID,
			Amount:      in.Amount,
			PaymentDate: date,
			Mode:        ledger.PaymentMode(in.Mode),
			Remark:      strings.TrimSpace(in.Remark),
			Status:      ledger.PaymentStatus(in.Status),
		}
		if p.Status == "" {
			p.Status = ledger.PaymentUnreconciled
		}
		payments = append(payments, p)
	}

	if err := s.repo.SavePayments(ctx, payments); err != nil {
		return nil, err
	}
	s.logger.Info("Uploaded payments", "user_id", userID, "count", len(payments))

	out := make([]ledger.Payment, len(payments))
	for i, p := range payments {
		out[i] = *p
	}
	return out, nil
}

// ListInvoices returns userID's invoices, optionally filtered by status.
func (s *Service) ListInvoices(ctx context.Context, userID int64, status string) ([]ledger.Invoice, error) {
	if status == "" {
		return s.repo.FindInvoicesByUser(ctx, userID)
	}
	st := ledger.InvoiceStatus(strings.ToUpper(status))
	if !st.Valid() {
		return nil, fmt.Errorf("unknown invoice status %q: %w", status, ledger.ErrValidation)
	}
	return s.repo.FindInvoicesByUserAndStatus(ctx, userID, st)
}

// ListPayments returns userID's payments, optionally filtered by status.
func (s *Service) ListPayments(ctx context.Context, userID int64, status string) ([]ledger.Payment, error) {
	if status == "" {
		return s.repo.FindPaymentsByUser(ctx, userID)
	}
	st := ledger.PaymentStatus(strings.ToUpper(status))
	if !st.Valid() {
		return nil, fmt.Errorf("unknown payment status %q: %w", status, ledger.ErrValidation)
	}
	return s.repo.FindPaymentsByUserAndStatus(ctx, userID, st)
}
