package postgres

import (
	"context"
	"errors"
	"time"

	"fieldops/internal/billing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Options struct {
	NumberAttempts int
	DueDays        int
	Now            func() time.Time
}

// Store implements the billing, field, reminder and user stores on one pool.
type Store struct {
	pool           *pgxpool.Pool
	numberAttempts int
	dueDays        int
	now            func() time.Time
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	attempts := options.NumberAttempts
	if attempts <= 0 {
		attempts = billing.DefaultNumberAttempts
	}
	dueDays := options.DueDays
	if dueDays <= 0 {
		dueDays = billing.DefaultDueDays
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		pool:           pool,
		numberAttempts: attempts,
		dueDays:        dueDays,
		now:            now,
	}
}

// querier is satisfied by the pool, a transaction and a savepoint.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isConstraintViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) interface{} {
	if value == nil || value.IsZero() {
		return nil
	}
	return *value
}
