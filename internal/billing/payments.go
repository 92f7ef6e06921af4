package billing

import (
	"fieldops/internal/models"

	"github.com/shopspring/decimal"
)

type PaymentSummary struct {
	Collected decimal.Decimal `json:"collected"`
	Balance   decimal.Decimal `json:"balance"`
	Status    string          `json:"status"`
}

// DerivePaymentStatus recomputes an invoice's status from the full set of
// payments recorded against it. The result depends only on the sum, so the
// order of payments and repeated calls do not matter. VOID is left alone.
func DerivePaymentStatus(invoice models.Invoice, payments []models.Payment) PaymentSummary {
	collected := decimal.Zero
	for _, payment := range payments {
		collected = collected.Add(payment.Amount)
	}
	collected = Round2(collected)

	balance := Round2(invoice.Amount.Sub(collected))
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	status := invoice.Status
	switch {
	case invoice.Status == models.InvoiceVoid:
	case !balance.IsPositive():
		status = models.InvoicePaid
	case collected.IsPositive():
		status = models.InvoicePartPaid
	}

	return PaymentSummary{
		Collected: collected,
		Balance:   balance,
		Status:    status,
	}
}
