package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("pipeline run not found")

func CreatePipelineRun(ctx context.Context, db *gorm.DB, trigger string) (PipelineRun, error) {
	run := PipelineRun{
		Id:           uuid.New(),
		Trigger:      trigger,
		Status:       JobQueued,
		CreationTime: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return PipelineRun{}, fmt.Errorf("error creating pipeline run: %w", err)
	}
	return run, nil
}

// UpdatePipelineRunStatus moves a run to status. A non-nil runErr is stored
// as the run's error message.
func UpdatePipelineRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string, runErr error) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed:
		updates["completion_time"] = time.Now().UTC()
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}

	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating pipeline run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func SetArtifactPrefix(ctx context.Context, txn *gorm.DB, runId uuid.UUID, prefix string) error {
	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Update("artifact_prefix", prefix).Error; err != nil {
		return fmt.Errorf("error saving artifact prefix: %w", err)
	}
	return nil
}

func GetPipelineRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (PipelineRun, error) {
	var run PipelineRun
	err := db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Candidates", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Validation").
		First(&run, "id = ?", runId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PipelineRun{}, ErrRunNotFound
		}
		return PipelineRun{}, fmt.Errorf("error loading pipeline run %s: %w", runId, err)
	}
	return run, nil
}

// ListPipelineRuns returns the newest runs first, optionally filtered by
// status. A limit of zero or less returns every run.
func ListPipelineRuns(ctx context.Context, db *gorm.DB, status string, limit int) ([]PipelineRun, error) {
	query := db.WithContext(ctx).Order("creation_time DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []PipelineRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing pipeline runs: %w", err)
	}
	return runs, nil
}

func ListQueuedRuns(ctx context.Context, db *gorm.DB) ([]PipelineRun, error) {
	var runs []PipelineRun
	if err := db.WithContext(ctx).Where("status = ?", JobQueued).Order("creation_time").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing queued runs: %w", err)
	}
	return runs, nil
}

func GetTrackedRuns(ctx context.Context, db *gorm.DB, runId uuid.UUID) ([]TrackedRun, error) {
	var runs []TrackedRun
	err := db.WithContext(ctx).
		Preload("Params").
		Preload("Metrics").
		Where("pipeline_run_id = ?", runId).
		Order("creation_time").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("error loading tracked runs for %s: %w", runId, err)
	}
	return runs, nil
}

// SaveTrackedRun stores a run together with its params and metrics in one
// transaction.
func SaveTrackedRun(ctx context.Context, db *gorm.DB, run *TrackedRun) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Create(run).Error; err != nil {
			return fmt.Errorf("error saving tracked run: %w", err)
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullError(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return nullString(err.Error())
}
