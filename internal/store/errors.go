package store

import "errors"

var (
	ErrEstimateNotFound       = errors.New("estimate not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrReminderNotFound       = errors.New("reminder not found")
	ErrLeadNotFound           = errors.New("lead not found")
	ErrJobNotFound            = errors.New("job not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrDuplicateInvoiceNumber = errors.New("invoice number already exists")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrUnknownKind            = errors.New("unknown snapshot kind")
	ErrNoContact              = errors.New("no contact for reminder")
	ErrDuplicateEmail         = errors.New("email already registered")
)
