package matcher

import (
	"fmt"
	"strings"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

const systemPrompt = "You are a financial reconciliation assistant for a small business ledger. Always respond with valid JSON."

// BuildPrompt describes the payment and the open invoices in natural language and
// asks for a strictly-JSON ranked list of matches.
func BuildPrompt(payment ledger.Payment, invoices []ledger.Invoice) string {
	var invoiceList strings.Builder
	for _, inv := range invoices {
		invoiceList.WriteString(fmt.Sprintf("- Invoice Number: %s, Customer: %s, Pending Amount: ₹%s\n",
			inv.InvoiceNumber, inv.CustomerName, inv.PendingAmount.StringFixed(2)))
	}

	remark := strings.TrimSpace(payment.Remark)
	if remark == "" {
		remark = "No remark"
	}

	return fmt.Sprintf(`Given payment and invoice data, identify the best matching invoice(s) for the payment.

Payment Details:
- Amount: ₹%s
- Date: %s
- Remark: "%s"
- Mode: %s

Available Invoices (pending/partially paid):
%s
Task: Analyze and return a JSON response with:
1. Best matching invoice(s)
2. Confidence score (0.0 to 1.0)
3. Clear reasoning

Response Format (STRICT JSON):
{
  "matches": [
    {
      "invoice_number": "INV101",
      "confidence": 0.92,
      "reason": "Remark mentions INV101 explicitly and amount matches half the pending amount"
    }
  ]
}

Rules:
- If the amount is greater than an invoice's pending amount, still return it and mention a potential overpayment in the reason
- Match customer names using fuzzy logic (e.g., "Ramesh" matches "Ramesh Traders")
- Consider invoice number mentions in the remark
- If multiple strong matches exist, return all of them with confidence scores
- Minimum confidence threshold: %s
- Return ONLY valid JSON, no additional text`,
		payment.Amount.StringFixed(2),
		payment.PaymentDate.Format("2006-01-02"),
		remark,
		payment.Mode,
		invoiceList.String(),
		MinConfidence.StringFixed(2),
	)
}
