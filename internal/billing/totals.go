// Package billing holds the money rules shared by estimates and invoices:
// totals, invoice numbering, payment status and estimate conversion. Nothing
// here touches storage; the postgres store calls into it inside transactions.
package billing

import (
	"errors"

	"fieldops/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amounts must not be negative")
	ErrNoItems        = errors.New("estimate has no items")
	ErrInvalidState   = errors.New("invalid state for operation")
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Round2 rounds half away from zero to cents.
func Round2(value decimal.Decimal) decimal.Decimal {
	return value.Round(2)
}

func ComputeTotals(items []models.EstimateItem, taxRate decimal.Decimal) (Totals, error) {
	if taxRate.IsNegative() {
		return Totals{}, ErrNegativeAmount
	}
	sum := decimal.Zero
	for _, item := range items {
		if item.Qty.IsNegative() || item.UnitPrice.IsNegative() {
			return Totals{}, ErrNegativeAmount
		}
		sum = sum.Add(item.LineTotal())
	}
	subtotal := Round2(sum)
	tax := Round2(subtotal.Mul(taxRate).Div(hundred))
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    Round2(subtotal.Add(tax)),
	}, nil
}
