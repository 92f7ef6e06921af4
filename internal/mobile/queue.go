package mobile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type OpType string

const (
	OpCreateLead  OpType = "CreateLead"
	OpUploadPhoto OpType = "UploadPhoto"
)

var (
	ErrDrainInFlight     = errors.New("drain already in progress")
	ErrOperationNotFound = errors.New("pending operation not found")
	// ErrPermanent marks a replay failure that will never succeed; the
	// operation is moved to the dead letters instead of being retried.
	ErrPermanent = errors.New("permanent replay failure")
)

type Operation struct {
	ID             int64           `json:"id"`
	Type           OpType          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	Dead           bool            `json:"dead"`
	CreatedAt      time.Time       `json:"created_at"`
}

type operationRow struct {
	ID             int64     `db:"id"`
	Type           string    `db:"op_type"`
	Payload        string    `db:"payload"`
	IdempotencyKey string    `db:"idempotency_key"`
	Attempts       int       `db:"attempts"`
	LastError      string    `db:"last_error"`
	Dead           bool      `db:"dead"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r operationRow) operation() Operation {
	return Operation{
		ID:             r.ID,
		Type:           OpType(r.Type),
		Payload:        json.RawMessage(r.Payload),
		IdempotencyKey: r.IdempotencyKey,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		Dead:           r.Dead,
		CreatedAt:      r.CreatedAt,
	}
}

const operationColumns = `id, op_type, payload, idempotency_key, attempts, last_error, dead, created_at`

type ReplayFunc func(ctx context.Context, op Operation) error

type DrainReport struct {
	Attempted    int `json:"attempted"`
	Replayed     int `json:"replayed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

type QueueOptions struct {
	// MaxAttempts moves an operation to the dead letters once it has failed
	// this many times. Zero keeps failed operations queued forever.
	MaxAttempts int
	Now         func() time.Time
}

type Queue struct {
	db          *sqlx.DB
	maxAttempts int
	now         func() time.Time
	draining    sync.Mutex
}

func NewQueue(db *sqlx.DB, options QueueOptions) *Queue {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	maxAttempts := options.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Queue{db: db, maxAttempts: maxAttempts, now: now}
}

// Enqueue stores an operation for later replay. It only touches the local
// database, so it succeeds whenever the device can write to disk.
func (q *Queue) Enqueue(ctx context.Context, opType OpType, payload interface{}) (Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("encode payload: %w", err)
	}
	row := operationRow{
		Type:           string(opType),
		Payload:        string(raw),
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      q.now(),
	}
	result, err := q.db.NamedExecContext(ctx, `
		INSERT INTO pending_operations (op_type, payload, idempotency_key, created_at)
		VALUES (:op_type, :payload, :idempotency_key, :created_at)`, row)
	if err != nil {
		return Operation{}, fmt.Errorf("enqueue: %w", err)
	}
	row.ID, err = result.LastInsertId()
	if err != nil {
		return Operation{}, err
	}
	return row.operation(), nil
}

// Drain replays every live operation once, oldest first. Replayed operations
// are deleted; a failure is recorded on its row and the walk continues. A
// second Drain while one is running returns ErrDrainInFlight. A cancelled
// context stops the walk between operations and leaves the rest untouched; a
// replay that fails because of the cancellation is not counted as an attempt.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (DrainReport, error) {
	if !q.draining.TryLock() {
		return DrainReport{}, ErrDrainInFlight
	}
	defer q.draining.Unlock()

	ops, err := q.list(ctx, false)
	if err != nil {
		return DrainReport{}, err
	}

	// a replay that already reached the server must still be recorded
	bookkeeping := context.WithoutCancel(ctx)
	var report DrainReport
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		replayErr := replay(ctx, op)
		if replayErr == nil {
			if _, err := q.db.ExecContext(bookkeeping, `DELETE FROM pending_operations WHERE id = ?`, op.ID); err != nil {
				return report, fmt.Errorf("delete operation %d: %w", op.ID, err)
			}
			report.Replayed++
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		attempts := op.Attempts + 1
		dead := errors.Is(replayErr, ErrPermanent) || (q.maxAttempts > 0 && attempts >= q.maxAttempts)
		if _, err := q.db.ExecContext(bookkeeping, `
			UPDATE pending_operations SET attempts = ?, last_error = ?, dead = ? WHERE id = ?`,
			attempts, replayErr.Error(), dead, op.ID); err != nil {
			return report, fmt.Errorf("record failure of operation %d: %w", op.ID, err)
		}
		if dead {
			report.DeadLettered++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// Pending lists the operations still waiting for replay, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Operation, error) {
	return q.list(ctx, false)
}

// DeadLetters lists operations that stopped being retried.
func (q *Queue) DeadLetters(ctx context.Context) ([]Operation, error) {
	return q.list(ctx, true)
}

// Requeue puts a dead-lettered operation back in line with a fresh attempt
// count. Its idempotency key is kept so the server can still detect a
// duplicate.
func (q *Queue) Requeue(ctx context.Context, id int64) (Operation, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE pending_operations SET dead = 0, attempts = 0, last_error = '' WHERE id = ?`, id)
	if err != nil {
		return Operation{}, err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return Operation{}, ErrOperationNotFound
	}
	var row operationRow
	err = q.db.GetContext(ctx, &row, `SELECT `+operationColumns+` FROM pending_operations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, ErrOperationNotFound
	}
	if err != nil {
		return Operation{}, err
	}
	return row.operation(), nil
}

func (q *Queue) list(ctx context.Context, dead bool) ([]Operation, error) {
	var rows []operationRow
	err := q.db.SelectContext(ctx, &rows, `
		SELECT `+operationColumns+` FROM pending_operations WHERE dead = ? ORDER BY id`, dead)
	if err != nil {
		return nil, err
	}
	ops := make([]Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, row.operation())
	}
	return ops, nil
}
