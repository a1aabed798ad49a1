package permaudit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/venturedeck/venturedeck/internal/jobs"
	"github.com/venturedeck/venturedeck/jobs"
)

// Job runs the audit from the task queue.
type Job struct {
	engine  *Engine
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewJob constructs a job handler. A nil metrics disables instrumentation.
func NewJob(engine *Engine, metrics *jobmetrics.Metrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{engine: engine, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.engine == nil {
		return errors.New("permission audit: handler not configured")
	}
	var payload jobs.PermissionAuditPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics.Track(jobs.TaskPermissionAudit)
	defer func() {
		err = tracker.End(err)
	}()

	report, err := j.engine.GenerateReport(ctx)
	if err != nil {
		j.logger.Error("permission audit", slog.Any("error", err))
		return err
	}
	summary := report.Summary
	j.metrics.RecordPermissionAudit(summary.UsersWithDrift, summary.RolesWithDrift, len(summary.UnknownRoles))
	if summary.HasDrift() || len(summary.UnknownRoles) > 0 {
		j.logger.Warn("permission drift detected",
			slog.String("requested_by", payload.RequestedBy),
			slog.Int("users_with_drift", summary.UsersWithDrift),
			slog.Int("roles_with_drift", summary.RolesWithDrift),
			slog.Any("unknown_roles", summary.UnknownRoles),
		)
	}
	return nil
}
