package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SettlementResult describes what a confirmed match did to an invoice.
type SettlementResult struct {
	PreviousPending decimal.Decimal
	NewPending      decimal.Decimal
	// Overpaid is the portion of the payment that exceeded the pending balance.
	Overpaid decimal.Decimal
}

// ApplyPayment settles payment against invoice: the payment becomes RECONCILED and
// the invoice's pending amount drops by the payment amount, clamped at zero.
//
// Both arguments are mutated in place. The caller persists them together with the
// confirmed suggestion as one unit.
func ApplyPayment(invoice *Invoice, payment *Payment) SettlementResult {
	res := SettlementResult{PreviousPending: invoice.PendingAmount}

	payment.Status = PaymentReconciled

	newPending := invoice.PendingAmount.Sub(payment.Amount)
	if newPending.LessThanOrEqual(decimal.Zero) {
		res.Overpaid = newPending.Neg()
		invoice.PendingAmount = decimal.Zero
		invoice.Status = InvoiceFullyPaid
	} else {
		res.Overpaid = decimal.Zero
		invoice.PendingAmount = newPending
		invoice.Status = InvoicePartiallyPaid
	}

	res.NewPending = invoice.PendingAmount
	return res
}

// PrepareNew fills upload defaults: status UNPAID and pending equal to total
// when pending was not supplied.
func (inv *Invoice) PrepareNew(pendingSet bool) {
	if !pendingSet {
		inv.PendingAmount = inv.TotalAmount
	}
	if inv.Status == "" {
		switch {
		case inv.PendingAmount.IsZero():
			inv.Status = InvoiceFullyPaid
		case inv.PendingAmount.LessThan(inv.TotalAmount):
			inv.Status = InvoicePartiallyPaid
		default:
			inv.Status = InvoiceUnpaid
		}
	}
}

// CheckInvariants verifies 0 <= pending <= total and FULLY_PAID <=> pending == 0.
func (inv *Invoice) CheckInvariants() error {
	if inv.TotalAmount.IsNegative() {
		return fmt.Errorf("invoice %s: total amount is negative: %w", inv.InvoiceNumber, ErrValidation)
	}
	if inv.PendingAmount.IsNegative() {
		return fmt.Errorf("invoice %s: pending amount is negative: %w", inv.InvoiceNumber, ErrValidation)
	}
	if inv.PendingAmount.GreaterThan(inv.TotalAmount) {
		return fmt.Errorf("invoice %s: pending amount %s exceeds total %s: %w",
			inv.InvoiceNumber, inv.PendingAmount.StringFixed(2), inv.TotalAmount.StringFixed(2), ErrValidation)
	}
	if !inv.Status.Valid() {
		return fmt.Errorf("invoice %s: unknown status %q: %w", inv.InvoiceNumber, inv.Status, ErrValidation)
	}
	if (inv.Status == InvoiceFullyPaid) != inv.PendingAmount.IsZero() {
		return fmt.Errorf("invoice %s: status %s inconsistent with pending amount %s: %w",
			inv.InvoiceNumber, inv.Status, inv.PendingAmount.StringFixed(2), ErrValidation)
	}
	return nil
}
