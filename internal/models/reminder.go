package models

import (
	"encoding/json"
	"time"
)

const (
	ReminderPending   = "PENDING"
	ReminderSent      = "SENT"
	ReminderCancelled = "CANCELLED"
	ReminderFailed    = "FAILED"
)

const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
	ChannelPush  = "PUSH"
)

type Reminder struct {
	ReminderID   string          `json:"reminder_id"`
	JobID        string          `json:"job_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Channel      string          `json:"channel"`
	Template     string          `json:"template"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Contact is where a reminder is delivered when the payload carries no override.
type Contact struct {
	Name      string
	Email     string
	Phone     string
	PushToken string
}

func ValidChannel(channel string) bool {
	switch channel {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	default:
		return false
	}
}
