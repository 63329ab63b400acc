package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"mlops-pipeline/internal/database"

	"gorm.io/gorm"
)

// SubmitRun records a new queued pipeline run and publishes it. If publishing
// fails the run is marked failed so it does not stay queued forever.
func SubmitRun(ctx context.Context, db *gorm.DB, publisher Publisher, trigger string) (database.PipelineRun, error) {
	run, err := database.CreatePipelineRun(ctx, db, trigger)
	if err != nil {
		return database.PipelineRun{}, err
	}

	if err := publisher.PublishPipelineRun(ctx, PipelineRunPayload{RunId: run.Id, Trigger: run.Trigger}); err != nil {
		pubErr := fmt.Errorf("error publishing pipeline run: %w", err)
		if err := database.UpdatePipelineRunStatus(ctx, db, run.Id, database.JobFailed, pubErr); err != nil {
			slog.Error("error marking unpublished run as failed", "run_id", run.Id, "error", err)
		}
		return database.PipelineRun{}, pubErr
	}
	return run, nil
}

// RequeuePending publishes every run still marked queued. It is used by
// single process deployments whose in-memory queue is lost on restart.
func RequeuePending(ctx context.Context, db *gorm.DB, publisher Publisher) (int, error) {
	runs, err := database.ListQueuedRuns(ctx, db)
	if err != nil {
		return 0, err
	}
	for i, run := range runs {
		if err := publisher.PublishPipelineRun(ctx, PipelineRunPayload{RunId: run.Id, Trigger: run.Trigger}); err != nil {
			return i, fmt.Errorf("error requeueing run %s: %w", run.Id, err)
		}
	}
	return len(runs), nil
}
