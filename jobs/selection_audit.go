package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/infinity-erp/infinity/internal/audit"
	jobmetrics "github.com/infinity-erp/infinity/internal/jobs"
)

// SelectionStore persists audit rows. *audit.Repository satisfies it.
type SelectionStore interface {
	Record(ctx context.Context, sel audit.Selection) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SelectionAuditJob handles the selection record and prune tasks.
type SelectionAuditJob struct {
	Store   SelectionStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSelectionAuditJob initialises the audit handlers.
func NewSelectionAuditJob(store SelectionStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SelectionAuditJob {
	return &SelectionAuditJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// HandleRecord stores one selection.
func (j *SelectionAuditJob) HandleRecord(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("selection audit: handler not configured")
	}
	var payload SelectionRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("selection audit: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskSelectionRecord)
	err := j.Store.Record(ctx, audit.Selection{
		EventID:          payload.EventID,
		SessionID:        payload.SessionID,
		CompanyID:        payload.CompanyID,
		CompanyName:      payload.CompanyName,
		ConnectionStatus: payload.ConnectionStatus,
		Mode:             payload.Mode,
		SelectedAt:       payload.SelectedAt,
	})
	if err != nil {
		j.logger().Error("record selection", slog.Any("error", err), slog.String("event_id", payload.EventID))
	}
	return tracker.End(err)
}

// HandlePrune deletes audit rows older than the payload retention.
func (j *SelectionAuditJob) HandlePrune(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("selection audit: handler not configured")
	}
	var payload SelectionPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("selection audit: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Retention <= 0 {
		return fmt.Errorf("selection audit: retention must be positive: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskSelectionPrune)
	cutoff := j.clock().Add(-payload.Retention)
	rows, err := j.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logger().Error("prune selections", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddPruned(rows)
	j.logger().Info("pruned selection audit", slog.Int64("rows", rows), slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}

func (j *SelectionAuditJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
