package store

import (
	"context"
	"encoding/json"
	"time"

	"fieldops/internal/billing"
	"fieldops/internal/models"

	"github.com/shopspring/decimal"
)

type CreateEstimateInput struct {
	LeadID     string
	CustomerID string
	JobsiteID  string
	TaxRate    decimal.Decimal
	Items      []EstimateItemInput
}

type EstimateItemInput struct {
	Description string
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
}

type ConvertEstimateInput struct {
	EstimateID string
	IssuedAt   time.Time
}

type ConversionResult struct {
	Estimate models.Estimate `json:"estimate"`
	Job      models.Job      `json:"job"`
	Invoice  models.Invoice  `json:"invoice"`
}

type CreateInvoiceInput struct {
	JobID    string
	Number   string
	Amount   decimal.Decimal
	Status   string
	IssuedAt *time.Time
	DueAt    *time.Time
}

type RecordPaymentInput struct {
	InvoiceID  string
	Amount     decimal.Decimal
	Method     string
	ReceivedAt time.Time
}

type PaymentResult struct {
	Invoice models.Invoice         `json:"invoice"`
	Payment models.Payment         `json:"payment"`
	Summary billing.PaymentSummary `json:"summary"`
}

type BillingStore interface {
	CreateEstimate(ctx context.Context, input CreateEstimateInput) (models.Estimate, error)
	GetEstimate(ctx context.Context, estimateID string) (models.Estimate, error)
	AddEstimateItem(ctx context.Context, estimateID string, item EstimateItemInput) (models.Estimate, error)
	ConvertEstimate(ctx context.Context, input ConvertEstimateInput) (ConversionResult, error)
	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error)
	RecordPayment(ctx context.Context, input RecordPaymentInput) (PaymentResult, error)
	ListPayments(ctx context.Context, invoiceID string) ([]models.Payment, error)
}

type CreateLeadInput struct {
	RequestID string
	Name      string
	Email     string
	Phone     string
	Address   string
	Source    string
	CreatedAt time.Time
}

type AddJobPhotoInput struct {
	RequestID string
	JobID     string
	URL       string
	Caption   string
	CreatedAt time.Time
}

type FieldStore interface {
	// CreateLead and AddJobPhoto return created=false when RequestID was seen
	// before; the stored record is returned unchanged.
	CreateLead(ctx context.Context, input CreateLeadInput) (models.Lead, bool, error)
	AddJobPhoto(ctx context.Context, input AddJobPhotoInput) (models.JobPhoto, bool, error)
	Snapshot(ctx context.Context, kind models.Kind) ([]json.RawMessage, error)
}

type CreateReminderInput struct {
	JobID        string
	UserID       string
	Channel      string
	Template     string
	Payload      json.RawMessage
	ScheduledFor time.Time
}

type ReminderStore interface {
	CreateReminder(ctx context.Context, input CreateReminderInput) (models.Reminder, error)
	GetReminder(ctx context.Context, reminderID string) (models.Reminder, error)
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	// The Mark* writes only apply while the reminder is still in status from,
	// the status seen before delivery. Otherwise they return ErrInvalidState.
	MarkReminderSent(ctx context.Context, reminderID, from string) (models.Reminder, error)
	MarkReminderFailed(ctx context.Context, reminderID, from, lastError string) (models.Reminder, error)
	MarkReminderRetry(ctx context.Context, reminderID, from, lastError string, next time.Time) (models.Reminder, error)
	CancelReminder(ctx context.Context, reminderID string) (models.Reminder, error)
	ResolveContact(ctx context.Context, reminder models.Reminder) (models.Contact, error)
}

type UserStore interface {
	Login(ctx context.Context, email, password string) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	CreateUser(ctx context.Context, user models.User, password string) (models.User, error)
}
