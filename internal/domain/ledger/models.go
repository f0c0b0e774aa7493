// Package ledger holds the small-business ledger entities and the pure rules
// that govern them: invoice settlement arithmetic and the suggestion state machine.
//
// Nothing in this package touches storage or the network. Callers load entities,
// apply the rules here, and persist the results inside one transaction.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the settlement state of an invoice.
type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "UNPAID"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceFullyPaid     InvoiceStatus = "FULLY_PAID"
)

// OpenInvoiceStatuses are the statuses an invoice can be matched against.
var OpenInvoiceStatuses = []InvoiceStatus{InvoiceUnpaid, InvoicePartiallyPaid}

// AllInvoiceStatuses lists every invoice status.
var AllInvoiceStatuses = []InvoiceStatus{InvoiceUnpaid, InvoicePartiallyPaid, InvoiceFullyPaid}

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceUnpaid, InvoicePartiallyPaid, InvoiceFullyPaid:
		return true
	}
	return false
}

// Open reports whether the invoice still has money outstanding.
func (s InvoiceStatus) Open() bool {
	return s == InvoiceUnpaid || s == InvoicePartiallyPaid
}

// PaymentStatus is the reconciliation state of a payment.
type PaymentStatus string

const (
	PaymentUnreconciled PaymentStatus = "UNRECONCILED"
	PaymentReconciled   PaymentStatus = "RECONCILED"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	return s == PaymentUnreconciled || s == PaymentReconciled
}

// PaymentMode is how the money arrived.
type PaymentMode string

const (
	ModeUPI          PaymentMode = "UPI"
	ModeCash         PaymentMode = "CASH"
	ModeCard         PaymentMode = "CARD"
	ModeBankTransfer PaymentMode = "BANK_TRANSFER"
)

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	switch m {
	case ModeUPI, ModeCash, ModeCard, ModeBankTransfer:
		return true
	}
	return false
}

// SuggestionStatus is the review state of a reconciliation suggestion.
// PENDING is the only non-terminal state.
type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "PENDING"
	SuggestionConfirmed SuggestionStatus = "CONFIRMED"
	SuggestionRejected  SuggestionStatus = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s SuggestionStatus) Terminal() bool {
	return s == SuggestionConfirmed || s == SuggestionRejected
}

// User owns invoices and payments. MobileNumber is the immutable natural key.
type User struct {
	ID           int64     `json:"id"`
	MobileNumber string    `json:"mobile_number"`
	Name         string    `json:"name,omitempty"`
	BusinessName string    `json:"business_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invoice is money owed to the business by a customer.
type Invoice struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"-"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerName  string          `json:"customer_name"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	Status        InvoiceStatus   `json:"status"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Payment is money received by the business.
type Payment struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"-"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Mode        PaymentMode     `json:"payment_mode"`
	Remark      string          `json:"remark,omitempty"`
	Status      PaymentStatus   `json:"status"`
	Version     int64           `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Suggestion links one payment to one invoice with a score and rationale.
// It references both weakly and owns neither.
type Suggestion struct {
	ID          int64            `json:"id"`
	PaymentID   int64            `json:"payment_id"`
	InvoiceID   int64            `json:"invoice_id"`
	Confidence  decimal.Decimal  `json:"confidence"`
	Reasoning   string           `json:"reasoning"`
	Status      SuggestionStatus `json:"status"`
	AIModel     string           `json:"ai_model,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty"`
	ConfirmedBy *int64           `json:"confirmed_by,omitempty"`
}

// SuggestionDetail is a suggestion together with the records it points at.
type SuggestionDetail struct {
	Suggestion
	Payment Payment `json:"payment"`
	Invoice Invoice `json:"invoice"`
}
