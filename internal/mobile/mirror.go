package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/models"

	"github.com/jmoiron/sqlx"
)

var (
	ErrUnknownKind = errors.New("unknown mirror kind")
	ErrMissingID   = errors.New("mirror record has no id")
)

// Mirror holds the last snapshot fetched for each kind.
type Mirror interface {
	// ReplaceAll swaps the stored snapshot of kind for records. It either
	// fully succeeds or leaves the previous snapshot in place.
	ReplaceAll(ctx context.Context, kind models.Kind, records []json.RawMessage) error
	// ReadAll returns the stored snapshot in the order it was written, or an
	// empty slice if kind was never populated.
	ReadAll(ctx context.Context, kind models.Kind) ([]json.RawMessage, error)
}

// idFields names the server identifier of each kind's records.
var idFields = map[models.Kind]string{
	models.KindLead:          "lead_id",
	models.KindJob:           "job_id",
	models.KindTask:          "task_id",
	models.KindCalendarEvent: "event_id",
	models.KindEstimate:      "estimate_id",
	models.KindEstimateItem:  "item_id",
	models.KindChangeOrder:   "change_order_id",
	models.KindUser:          "user_id",
}

type SQLiteMirror struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewMirror(db *sqlx.DB) *SQLiteMirror {
	return &SQLiteMirror{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (m *SQLiteMirror) ReplaceAll(ctx context.Context, kind models.Kind, records []json.RawMessage) error {
	if _, ok := models.ParseKind(string(kind)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	table := mirrorTable(kind)

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("clear %s: %w", kind, err)
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO `+table+` (id, position, body, fetched_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	fetchedAt := m.now()
	for i, record := range records {
		id, err := recordID(kind, record)
		if err != nil {
			return fmt.Errorf("record %d of %s: %w", i, kind, err)
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(record), fetchedAt); err != nil {
			return fmt.Errorf("insert %s %s: %w", kind, id, err)
		}
	}
	return tx.Commit()
}

func (m *SQLiteMirror) ReadAll(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
	if _, ok := models.ParseKind(string(kind)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var bodies []string
	if err := m.db.SelectContext(ctx, &bodies, `SELECT body FROM `+mirrorTable(kind)+` ORDER BY position`); err != nil {
		return nil, err
	}
	records := make([]json.RawMessage, 0, len(bodies))
	for _, body := range bodies {
		records = append(records, json.RawMessage(body))
	}
	return records, nil
}

// recordID reads the kind's id field, falling back to a plain "id".
func recordID(kind models.Kind, record json.RawMessage) (string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(record, &fields); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	for _, name := range []string{idFields[kind], "id"} {
		if value, ok := fields[name].(string); ok && value != "" {
			return value, nil
		}
	}
	return "", ErrMissingID
}
