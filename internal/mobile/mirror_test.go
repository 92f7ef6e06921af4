package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fieldops/internal/models"

	"github.com/jmoiron/sqlx"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rawRecords(values ...string) []json.RawMessage {
	records := make([]json.RawMessage, 0, len(values))
	for _, value := range values {
		records = append(records, json.RawMessage(value))
	}
	return records
}

func TestMirrorReadAllEmpty(t *testing.T) {
	mirror := NewMirror(openTestDB(t))
	records, err := mirror.ReadAll(context.Background(), models.KindJob)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %v", records)
	}
}

func TestMirrorReplaceAllSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	mirror := NewMirror(openTestDB(t))

	first := rawRecords(`{"lead_id":"l-2","name":"Bo"}`, `{"lead_id":"l-1","name":"Ada"}`)
	if err := mirror.ReplaceAll(ctx, models.KindLead, first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	second := rawRecords(`{"lead_id":"l-3","name":"Cy"}`)
	if err := mirror.ReplaceAll(ctx, models.KindLead, second); err != nil {
		t.Fatalf("replace: %v", err)
	}

	records, err := mirror.ReadAll(ctx, models.KindLead)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 || string(records[0]) != `{"lead_id":"l-3","name":"Cy"}` {
		t.Fatalf("expected only the second snapshot, got %s", records)
	}
}

func TestMirrorKeepsSnapshotOrder(t *testing.T) {
	ctx := context.Background()
	mirror := NewMirror(openTestDB(t))
	records := rawRecords(`{"job_id":"z"}`, `{"job_id":"a"}`, `{"job_id":"m"}`)
	if err := mirror.ReplaceAll(ctx, models.KindJob, records); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := mirror.ReadAll(ctx, models.KindJob)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := range records {
		if string(got[i]) != string(records[i]) {
			t.Fatalf("position %d: expected %s, got %s", i, records[i], got[i])
		}
	}
}

func TestMirrorFailedReplaceKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	mirror := NewMirror(openTestDB(t))
	if err := mirror.ReplaceAll(ctx, models.KindTask, rawRecords(`{"task_id":"t-1"}`)); err != nil {
		t.Fatalf("replace: %v", err)
	}

	cases := []struct {
		name    string
		records []json.RawMessage
	}{
		{name: "duplicate id", records: rawRecords(`{"task_id":"t-2"}`, `{"task_id":"t-2"}`)},
		{name: "missing id", records: rawRecords(`{"task_id":"t-3"}`, `{"title":"no id"}`)},
		{name: "not an object", records: rawRecords(`{"task_id":"t-4"}`, `[1]`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := mirror.ReplaceAll(ctx, models.KindTask, tc.records); err == nil {
				t.Fatal("expected replace to fail")
			}
			records, err := mirror.ReadAll(ctx, models.KindTask)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if len(records) != 1 || string(records[0]) != `{"task_id":"t-1"}` {
				t.Fatalf("expected previous snapshot intact, got %s", records)
			}
		})
	}
}

func TestMirrorKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	mirror := NewMirror(openTestDB(t))
	if err := mirror.ReplaceAll(ctx, models.KindUser, rawRecords(`{"user_id":"u-1"}`)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := mirror.ReplaceAll(ctx, models.KindEstimate, rawRecords(`{"id":"e-1"}`)); err != nil {
		t.Fatalf("replace with plain id: %v", err)
	}
	users, err := mirror.ReadAll(ctx, models.KindUser)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected users untouched, got %d", len(users))
	}
}

func TestMirrorUnknownKind(t *testing.T) {
	ctx := context.Background()
	mirror := NewMirror(openTestDB(t))
	if err := mirror.ReplaceAll(ctx, models.Kind("invoices; DROP TABLE x"), nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := mirror.ReadAll(ctx, models.Kind("widgets")); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
