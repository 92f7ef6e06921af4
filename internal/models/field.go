package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Lead struct {
	LeadID    string    `json:"lead_id"`
	RequestID string    `json:"request_id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Source    string    `json:"source,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	LeadNew       = "NEW"
	LeadContacted = "CONTACTED"
	LeadWon       = "WON"
	LeadLost      = "LOST"
)

type Task struct {
	TaskID    string     `json:"task_id"`
	JobID     string     `json:"job_id,omitempty"`
	Title     string     `json:"title"`
	Done      bool       `json:"done"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type CalendarEvent struct {
	EventID  string    `json:"event_id"`
	JobID    string    `json:"job_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type ChangeOrder struct {
	ChangeOrderID string          `json:"change_order_id"`
	JobID         string          `json:"job_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

type JobPhoto struct {
	PhotoID   string    `json:"photo_id"`
	RequestID string    `json:"request_id,omitempty"`
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
