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

const leadColumns = `
	lead_id, COALESCE(request_id, ''), name, email, phone, address, source, status, created_at
`

const jobColumns = `
	job_id, COALESCE(estimate_id::text, ''), COALESCE(lead_id::text, ''), COALESCE(customer_id, ''),
	COALESCE(jobsite_id, ''), title, status, scheduled_for, created_at
`

const photoColumns = `
	photo_id, COALESCE(request_id, ''), job_id, url, caption, created_at
`

// CreateLead is idempotent on RequestID: a replayed request returns the lead
// created the first time.
func (s *Store) CreateLead(ctx context.Context, input store.CreateLeadInput) (models.Lead, bool, error) {
	if input.RequestID != "" {
		existing, found, err := findLeadByRequestID(ctx, s.pool, input.RequestID)
		if err != nil || found {
			return existing, false, err
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads (lead_id, request_id, name, email, phone, address, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+leadColumns,
		uuid.NewString(), nullIfEmpty(input.RequestID), input.Name, input.Email, input.Phone,
		input.Address, input.Source, models.LeadNew, createdAt)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) && input.RequestID != "" {
			// lost the race against a concurrent replay of the same request
			existing, found, findErr := findLeadByRequestID(ctx, s.pool, input.RequestID)
			if findErr != nil {
				return models.Lead{}, false, findErr
			}
			if found {
				return existing, false, nil
			}
		}
		return models.Lead{}, false, err
	}
	return lead, true, nil
}

func (s *Store) AddJobPhoto(ctx context.Context, input store.AddJobPhotoInput) (models.JobPhoto, bool, error) {
	if input.RequestID != "" {
		existing, found, err := findPhotoByRequestID(ctx, s.pool, input.RequestID)
		if err != nil || found {
			return existing, false, err
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO job_photos (photo_id, request_id, job_id, url, caption, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+photoColumns,
		uuid.NewString(), nullIfEmpty(input.RequestID), input.JobID, input.URL, input.Caption, createdAt)
	photo, err := scanPhoto(row)
	if err != nil {
		if isConstraintViolation(err, foreignKeyViolation, "") {
			return models.JobPhoto{}, false, store.ErrJobNotFound
		}
		if errors.Is(err, pgx.ErrNoRows) && input.RequestID != "" {
			existing, found, findErr := findPhotoByRequestID(ctx, s.pool, input.RequestID)
			if findErr != nil {
				return models.JobPhoto{}, false, findErr
			}
			if found {
				return existing, false, nil
			}
		}
		return models.JobPhoto{}, false, err
	}
	return photo, true, nil
}

// Snapshot returns every record of kind, already JSON encoded, in a stable order.
func (s *Store) Snapshot(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
	switch kind {
	case models.KindLead:
		return collect(ctx, s.pool, `SELECT `+leadColumns+` FROM leads ORDER BY created_at, lead_id`, scanLead)
	case models.KindJob:
		return collect(ctx, s.pool, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, job_id`, scanJob)
	case models.KindTask:
		return collect(ctx, s.pool, `
			SELECT task_id, COALESCE(job_id::text, ''), title, done, due_at, created_at
			FROM tasks ORDER BY created_at, task_id
		`, scanTask)
	case models.KindCalendarEvent:
		return collect(ctx, s.pool, `
			SELECT event_id, COALESCE(job_id::text, ''), COALESCE(user_id::text, ''), title, starts_at, ends_at
			FROM calendar_events ORDER BY starts_at, event_id
		`, scanCalendarEvent)
	case models.KindEstimate:
		return collect(ctx, s.pool, `SELECT `+estimateColumns+` FROM estimates ORDER BY created_at, estimate_id`, scanEstimate)
	case models.KindEstimateItem:
		return collect(ctx, s.pool, `
			SELECT item_id, estimate_id, description, qty, unit_price
			FROM estimate_items ORDER BY estimate_id, position
		`, scanEstimateItem)
	case models.KindChangeOrder:
		return collect(ctx, s.pool, `
			SELECT change_order_id, job_id, description, amount, status, created_at
			FROM change_orders ORDER BY created_at, change_order_id
		`, scanChangeOrder)
	case models.KindUser:
		return collect(ctx, s.pool, `
			SELECT `+userColumns+` FROM users WHERE active = TRUE ORDER BY name, user_id
		`, scanUser)
	default:
		return nil, store.ErrUnknownKind
	}
}

func collect[T any](ctx context.Context, q querier, query string, scan func(pgx.Row) (T, error)) ([]json.RawMessage, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []json.RawMessage{}
	for rows.Next() {
		value, err := scan(rows)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		records = append(records, encoded)
	}
	return records, rows.Err()
}

func findLeadByRequestID(ctx context.Context, q querier, requestID string) (models.Lead, bool, error) {
	lead, err := scanLead(q.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE request_id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Lead{}, false, nil
		}
		return models.Lead{}, false, err
	}
	return lead, true, nil
}

func findPhotoByRequestID(ctx context.Context, q querier, requestID string) (models.JobPhoto, bool, error) {
	photo, err := scanPhoto(q.QueryRow(ctx, `SELECT `+photoColumns+` FROM job_photos WHERE request_id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.JobPhoto{}, false, nil
		}
		return models.JobPhoto{}, false, err
	}
	return photo, true, nil
}

func scanLead(row pgx.Row) (models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.LeadID, &l.RequestID, &l.Name, &l.Email, &l.Phone, &l.Address, &l.Source, &l.Status, &l.CreatedAt)
	return l, err
}

func scanJob(row pgx.Row) (models.Job, error) {
	var j models.Job
	var scheduledFor *time.Time
	err := row.Scan(&j.JobID, &j.EstimateID, &j.LeadID, &j.CustomerID, &j.JobsiteID, &j.Title, &j.Status, &scheduledFor, &j.CreatedAt)
	j.ScheduledFor = scheduledFor
	return j, err
}

func scanPhoto(row pgx.Row) (models.JobPhoto, error) {
	var p models.JobPhoto
	err := row.Scan(&p.PhotoID, &p.RequestID, &p.JobID, &p.URL, &p.Caption, &p.CreatedAt)
	return p, err
}

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	var dueAt *time.Time
	err := row.Scan(&t.TaskID, &t.JobID, &t.Title, &t.Done, &dueAt, &t.CreatedAt)
	t.DueAt = dueAt
	return t, err
}

func scanCalendarEvent(row pgx.Row) (models.CalendarEvent, error) {
	var e models.CalendarEvent
	err := row.Scan(&e.EventID, &e.JobID, &e.UserID, &e.Title, &e.StartsAt, &e.EndsAt)
	return e, err
}

func scanEstimateItem(row pgx.Row) (models.EstimateItem, error) {
	var i models.EstimateItem
	err := row.Scan(&i.ItemID, &i.EstimateID, &i.Description, &i.Qty, &i.UnitPrice)
	return i, err
}

func scanChangeOrder(row pgx.Row) (models.ChangeOrder, error) {
	var c models.ChangeOrder
	err := row.Scan(&c.ChangeOrderID, &c.JobID, &c.Description, &c.Amount, &c.Status, &c.CreatedAt)
	return c, err
}
