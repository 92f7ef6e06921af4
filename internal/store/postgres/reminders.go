package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reminderColumns = `
	reminder_id, COALESCE(job_id::text, ''), COALESCE(user_id::text, ''), channel, template, payload,
	scheduled_for, status, attempts, COALESCE(last_error, ''), sent_at, created_at
`

func (s *Store) CreateReminder(ctx context.Context, input store.CreateReminderInput) (models.Reminder, error) {
	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	template := input.Template
	if template == "" {
		template = "generic"
	}
	scheduledFor := input.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = s.now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reminders (reminder_id, job_id, user_id, channel, template, payload, scheduled_for, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+reminderColumns,
		uuid.NewString(), nullIfEmpty(input.JobID), nullIfEmpty(input.UserID), input.Channel, template,
		payload, scheduledFor, models.ReminderPending, s.now())
	reminder, err := scanReminder(row)
	if err != nil {
		if isConstraintViolation(err, foreignKeyViolation, "reminders_user_id_fkey") {
			return models.Reminder{}, store.ErrUserNotFound
		}
		if isConstraintViolation(err, foreignKeyViolation, "") {
			return models.Reminder{}, store.ErrJobNotFound
		}
		return models.Reminder{}, err
	}
	return reminder, nil
}

func (s *Store) GetReminder(ctx context.Context, reminderID string) (models.Reminder, error) {
	return loadReminder(ctx, s.pool, reminderID, false)
}

func (s *Store) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = 'PENDING' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reminders, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, reminderID, from string) (models.Reminder, error) {
	return s.updateReminder(ctx, reminderID, from, `
		UPDATE reminders
		SET status = 'SENT', sent_at = $3, last_error = NULL, attempts = attempts + 1
		WHERE reminder_id = $1 AND status = $2
		RETURNING `+reminderColumns, s.now())
}

func (s *Store) MarkReminderFailed(ctx context.Context, reminderID, from, lastError string) (models.Reminder, error) {
	return s.updateReminder(ctx, reminderID, from, `
		UPDATE reminders
		SET status = 'FAILED', last_error = $3, attempts = attempts + 1
		WHERE reminder_id = $1 AND status = $2
		RETURNING `+reminderColumns, lastError)
}

func (s *Store) MarkReminderRetry(ctx context.Context, reminderID, from, lastError string, next time.Time) (models.Reminder, error) {
	return s.updateReminder(ctx, reminderID, from, `
		UPDATE reminders
		SET status = 'PENDING', last_error = $3, attempts = attempts + 1, scheduled_for = $4
		WHERE reminder_id = $1 AND status = $2
		RETURNING `+reminderColumns, lastError, next)
}

func (s *Store) CancelReminder(ctx context.Context, reminderID string) (models.Reminder, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reminder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := loadReminder(ctx, tx, reminderID, true)
	if err != nil {
		return models.Reminder{}, err
	}
	if !store.ValidReminderTransition(store.ReminderActionCancel, current.Status) {
		return models.Reminder{}, store.ErrInvalidState
	}

	reminder, err := scanReminder(tx.QueryRow(ctx, `
		UPDATE reminders SET status = 'CANCELLED'
		WHERE reminder_id = $1
		RETURNING `+reminderColumns, reminderID))
	if err != nil {
		return models.Reminder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Reminder{}, err
	}
	return reminder, nil
}

// ResolveContact prefers the reminder's user and falls back to the lead
// behind the reminder's job.
func (s *Store) ResolveContact(ctx context.Context, reminder models.Reminder) (models.Contact, error) {
	if reminder.UserID != "" {
		var contact models.Contact
		row := s.pool.QueryRow(ctx, `
			SELECT name, email, phone, user_id::text FROM users WHERE user_id = $1
		`, reminder.UserID)
		err := row.Scan(&contact.Name, &contact.Email, &contact.Phone, &contact.PushToken)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Contact{}, err
		}
	}
	if reminder.JobID != "" {
		var contact models.Contact
		row := s.pool.QueryRow(ctx, `
			SELECT l.name, l.email, l.phone
			FROM jobs j
			JOIN leads l ON l.lead_id = j.lead_id
			WHERE j.job_id = $1
		`, reminder.JobID)
		err := row.Scan(&contact.Name, &contact.Email, &contact.Phone)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Contact{}, err
		}
	}
	return models.Contact{}, store.ErrNoContact
}

// updateReminder runs an outcome write guarded by the expected status. No
// matching row means either the reminder is gone or it moved on, for example
// a cancel that landed while the notifier was being called.
func (s *Store) updateReminder(ctx context.Context, reminderID, from, query string, args ...any) (models.Reminder, error) {
	reminder, err := scanReminder(s.pool.QueryRow(ctx, query, append([]any{reminderID, from}, args...)...))
	if err == nil {
		return reminder, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Reminder{}, err
	}
	if _, err := loadReminder(ctx, s.pool, reminderID, false); err != nil {
		return models.Reminder{}, err
	}
	return models.Reminder{}, store.ErrInvalidState
}

func loadReminder(ctx context.Context, q querier, reminderID string, forUpdate bool) (models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE reminder_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	reminder, err := scanReminder(q.QueryRow(ctx, query, reminderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reminder{}, store.ErrReminderNotFound
		}
		return models.Reminder{}, err
	}
	return reminder, nil
}

func scanReminder(row pgx.Row) (models.Reminder, error) {
	var r models.Reminder
	var payload []byte
	var sentAt *time.Time
	err := row.Scan(&r.ReminderID, &r.JobID, &r.UserID, &r.Channel, &r.Template, &payload,
		&r.ScheduledFor, &r.Status, &r.Attempts, &r.LastError, &sentAt, &r.CreatedAt)
	r.Payload = json.RawMessage(payload)
	r.SentAt = sentAt
	return r, err
}
