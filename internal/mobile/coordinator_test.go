package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fieldops/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeRemote struct {
	replayFn func(ctx context.Context, op Operation) error
	fetchFn  func(ctx context.Context, kind models.Kind) ([]json.RawMessage, error)
}

func (f fakeRemote) Replay(ctx context.Context, op Operation) error {
	if f.replayFn == nil {
		return nil
	}
	return f.replayFn(ctx, op)
}

func (f fakeRemote) Fetch(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
	if f.fetchFn == nil {
		return nil, nil
	}
	return f.fetchFn(ctx, kind)
}

func TestSyncNowDrainsBeforeRefreshing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	queue := NewQueue(db, QueueOptions{})
	mirror := NewMirror(db)
	enqueueLeads(t, queue, "Ada")

	var events []string
	remote := fakeRemote{
		replayFn: func(ctx context.Context, op Operation) error {
			events = append(events, "replay")
			return nil
		},
		fetchFn: func(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
			events = append(events, "fetch:"+string(kind))
			if kind == models.KindLead {
				return rawRecords(`{"lead_id":"l-1","name":"Ada"}`), nil
			}
			return nil, nil
		},
	}
	coordinator := NewCoordinator(queue, mirror, remote, nil, nil)

	report, err := coordinator.SyncNow(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if events[0] != "replay" {
		t.Fatalf("expected replay first, got %v", events)
	}
	if report.Drain.Replayed != 1 || len(report.Refreshed) != len(models.Kinds) {
		t.Fatalf("unexpected report %+v", report)
	}
	leads, err := mirror.ReadAll(ctx, models.KindLead)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected refreshed leads, got %d", len(leads))
	}
}

func TestSyncNowFetchFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mirror := NewMirror(db)
	if err := mirror.ReplaceAll(ctx, models.KindJob, rawRecords(`{"job_id":"j-old"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	remote := fakeRemote{
		fetchFn: func(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
			if kind == models.KindJob {
				return nil, errors.New("server returned 503")
			}
			return nil, nil
		},
	}
	coordinator := NewCoordinator(NewQueue(db, QueueOptions{}), mirror, remote, nil, nil)

	report, err := coordinator.SyncNow(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, ok := report.FetchErrors[models.KindJob]; !ok || len(report.FetchErrors) != 1 {
		t.Fatalf("expected a jobs fetch error, got %+v", report.FetchErrors)
	}
	jobs, err := mirror.ReadAll(ctx, models.KindJob)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(jobs) != 1 || string(jobs[0]) != `{"job_id":"j-old"}` {
		t.Fatalf("expected old jobs snapshot, got %s", jobs)
	}
}

func TestSyncNowBadSnapshotKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mirror := NewMirror(db)
	if err := mirror.ReplaceAll(ctx, models.KindUser, rawRecords(`{"user_id":"u-1"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	remote := fakeRemote{
		fetchFn: func(ctx context.Context, kind models.Kind) ([]json.RawMessage, error) {
			if kind == models.KindUser {
				return rawRecords(`{"user_id":"u-2"}`, `{"user_id":"u-2"}`), nil
			}
			return nil, nil
		},
	}
	report, err := NewCoordinator(NewQueue(db, QueueOptions{}), mirror, remote, nil, nil).SyncNow(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, ok := report.FetchErrors[models.KindUser]; !ok {
		t.Fatalf("expected users error, got %+v", report.FetchErrors)
	}
	users, err := mirror.ReadAll(ctx, models.KindUser)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(users) != 1 || string(users[0]) != `{"user_id":"u-1"}` {
		t.Fatalf("expected previous users, got %s", users)
	}
}

func TestCoordinatorDrainCountsOutcomes(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	queue := NewQueue(db, QueueOptions{MaxAttempts: 3})
	enqueueLeads(t, queue, "ok", "retry", "bad")

	reg := prometheus.NewRegistry()
	remote := fakeRemote{
		replayFn: func(ctx context.Context, op Operation) error {
			switch string(op.Payload) {
			case `{"name":"retry"}`:
				return errors.New("server returned 502")
			case `{"name":"bad"}`:
				return ErrPermanent
			}
			return nil
		},
	}
	coordinator := NewCoordinator(queue, NewMirror(db), remote, reg, nil)

	report, err := coordinator.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Replayed != 1 || report.Failed != 1 || report.DeadLettered != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "fieldops_mobile_replays_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					got[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	for outcome, want := range map[string]float64{"replayed": 1, "failed": 1, "dead_lettered": 1} {
		if got[outcome] != want {
			t.Fatalf("outcome %s: expected %v, got %v", outcome, want, got[outcome])
		}
	}
}
