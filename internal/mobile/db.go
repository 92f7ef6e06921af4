// Package mobile is the offline side of the field client: a sqlite mirror of
// server collections, a durable queue of writes made while disconnected, and
// the coordinator that replays the queue and refreshes the mirror.
package mobile

import (
	"context"
	"fmt"

	"fieldops/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const memoryPath = ":memory:"

const pendingSchema = `
CREATE TABLE IF NOT EXISTS pending_operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	op_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	dead INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`

// Open opens (creating if needed) the client database at path and ensures
// the mirror and queue tables exist. The handle is limited to a single
// connection so an in-memory database is shared by every caller.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string) string {
	if path == "" || path == memoryPath {
		return memoryPath + "?_foreign_keys=on"
	}
	return path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	statements := []string{pendingSchema}
	for _, kind := range models.Kinds {
		statements = append(statements, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	body TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL
)`, mirrorTable(kind)))
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func mirrorTable(kind models.Kind) string {
	return "mirror_" + string(kind)
}
