package mobile

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldops/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// RemoteAPI is the server as seen by the coordinator.
type RemoteAPI interface {
	Replay(ctx context.Context, op Operation) error
	Fetch(ctx context.Context, kind models.Kind) ([]json.RawMessage, error)
}

type SyncReport struct {
	Drain     DrainReport   `json:"drain"`
	Refreshed []models.Kind `json:"refreshed"`
	// FetchErrors holds the kinds whose snapshot could not be refreshed; the
	// previous snapshot of each is still served.
	FetchErrors map[models.Kind]string `json:"fetch_errors,omitempty"`
}

type Coordinator struct {
	queue   *Queue
	mirror  Mirror
	remote  RemoteAPI
	logger  *zap.Logger
	replays *prometheus.CounterVec
}

// NewCoordinator wires the queue and mirror to remote. Replay outcomes are
// counted on reg; a nil reg leaves the counter unregistered.
func NewCoordinator(queue *Queue, mirror Mirror, remote RemoteAPI, reg prometheus.Registerer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		queue:  queue,
		mirror: mirror,
		remote: remote,
		logger: logger,
		replays: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_mobile_replays_total",
			Help: "Queued operations replayed against the server by outcome",
		}, []string{"outcome"}),
	}
}

// Drain replays the pending queue without touching the mirror.
func (c *Coordinator) Drain(ctx context.Context) (DrainReport, error) {
	report, err := c.queue.Drain(ctx, c.replay)
	c.replays.WithLabelValues("replayed").Add(float64(report.Replayed))
	c.replays.WithLabelValues("failed").Add(float64(report.Failed))
	c.replays.WithLabelValues("dead_lettered").Add(float64(report.DeadLettered))
	if err != nil {
		return report, err
	}
	if report.Attempted > 0 {
		c.logger.Info("queue drained",
			zap.Int("attempted", report.Attempted),
			zap.Int("replayed", report.Replayed),
			zap.Int("failed", report.Failed),
			zap.Int("dead_lettered", report.DeadLettered),
		)
	}
	return report, nil
}

// SyncNow drains the queue and then refreshes every mirrored kind. Local
// writes go first so the fresh snapshots already include them.
func (c *Coordinator) SyncNow(ctx context.Context) (SyncReport, error) {
	drain, err := c.Drain(ctx)
	report := SyncReport{Drain: drain}
	if err != nil {
		return report, err
	}

	for _, kind := range models.Kinds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := c.refresh(ctx, kind); err != nil {
			c.logger.Warn("refresh failed", zap.String("kind", string(kind)), zap.Error(err))
			if report.FetchErrors == nil {
				report.FetchErrors = make(map[models.Kind]string)
			}
			report.FetchErrors[kind] = err.Error()
			continue
		}
		report.Refreshed = append(report.Refreshed, kind)
	}
	return report, nil
}

func (c *Coordinator) refresh(ctx context.Context, kind models.Kind) error {
	records, err := c.remote.Fetch(ctx, kind)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := c.mirror.ReplaceAll(ctx, kind, records); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (c *Coordinator) replay(ctx context.Context, op Operation) error {
	err := c.remote.Replay(ctx, op)
	if err != nil {
		c.logger.Warn("replay failed",
			zap.Int64("operation_id", op.ID),
			zap.String("type", string(op.Type)),
			zap.Int("attempt", op.Attempts+1),
			zap.Error(err),
		)
	}
	return err
}
