package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EstimateDraft    = "DRAFT"
	EstimateSent     = "SENT"
	EstimateApproved = "APPROVED"
	EstimateRejected = "REJECTED"
)

const (
	InvoiceDraft    = "DRAFT"
	InvoiceSent     = "SENT"
	InvoicePartPaid = "PART_PAID"
	InvoicePaid     = "PAID"
	InvoiceVoid     = "VOID"
)

type Estimate struct {
	EstimateID string          `json:"estimate_id"`
	LeadID     string          `json:"lead_id,omitempty"`
	CustomerID string          `json:"customer_id,omitempty"`
	JobsiteID  string          `json:"jobsite_id,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Total      decimal.Decimal `json:"total"`
	Status     string          `json:"status"`
	Signature  string          `json:"signature,omitempty"`
	Items      []EstimateItem  `json:"items,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type EstimateItem struct {
	ItemID      string          `json:"item_id"`
	EstimateID  string          `json:"estimate_id"`
	Description string          `json:"description"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// LineTotal is derived and never stored.
func (i EstimateItem) LineTotal() decimal.Decimal {
	return i.Qty.Mul(i.UnitPrice)
}

type Invoice struct {
	InvoiceID string          `json:"invoice_id"`
	JobID     string          `json:"job_id,omitempty"`
	Number    string          `json:"number"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	IssuedAt  *time.Time      `json:"issued_at,omitempty"`
	DueAt     *time.Time      `json:"due_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Payment struct {
	PaymentID  string          `json:"payment_id"`
	InvoiceID  string          `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	ReceivedAt time.Time       `json:"received_at"`
}

type Job struct {
	JobID        string     `json:"job_id"`
	EstimateID   string     `json:"estimate_id,omitempty"`
	LeadID       string     `json:"lead_id,omitempty"`
	CustomerID   string     `json:"customer_id,omitempty"`
	JobsiteID    string     `json:"jobsite_id,omitempty"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

const (
	JobScheduled = "SCHEDULED"
	JobActive    = "ACTIVE"
	JobComplete  = "COMPLETE"
)
