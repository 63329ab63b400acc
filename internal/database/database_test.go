package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"mlops-pipeline/internal/database"
	"mlops-pipeline/internal/dataset"
	"mlops-pipeline/internal/estimator"
	"mlops-pipeline/internal/training"
	"mlops-pipeline/internal/validation"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "db", "pipeline.db"))
	require.NoError(t, err)
	return db
}

func TestNewDatabaseCreatesSchema(t *testing.T) {
	db := setupDB(t)

	for _, table := range []any{
		&database.PipelineRun{}, &database.StageRun{}, &database.CandidateResult{},
		&database.ValidationRecord{}, &database.TrackedRun{}, &database.TrackedParam{}, &database.TrackedMetric{},
	} {
		assert.True(t, db.Migrator().HasTable(table))
	}
	assert.True(t, db.Migrator().HasColumn(&database.ValidationRecord{}, "outlier_count"))
}

func TestIncrementalMigrations(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "old.db")), &gorm.Config{})
	require.NoError(t, err)

	migrator := gormigrate.New(db, gormigrate.DefaultOptions, database.Migrations())
	require.NoError(t, migrator.MigrateTo("0"))
	assert.False(t, db.Migrator().HasTable(&database.TrackedRun{}))
	assert.False(t, db.Migrator().HasColumn(&database.ValidationRecord{}, "outlier_count"))

	require.NoError(t, migrator.Migrate())
	assert.True(t, db.Migrator().HasTable(&database.TrackedRun{}))
	assert.True(t, db.Migrator().HasColumn(&database.ValidationRecord{}, "outlier_count"))

	require.NoError(t, migrator.RollbackLast())
	assert.False(t, db.Migrator().HasColumn(&database.ValidationRecord{}, "outlier_count"))
}

func TestPipelineRunLifecycle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	run, err := database.CreatePipelineRun(ctx, db, "api")
	require.NoError(t, err)
	assert.Equal(t, database.JobQueued, run.Status)

	queued, err := database.ListQueuedRuns(ctx, db)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	require.NoError(t, database.UpdatePipelineRunStatus(ctx, db, run.Id, database.JobRunning, nil))
	require.NoError(t, database.UpdatePipelineRunStatus(ctx, db, run.Id, database.JobFailed, errors.New("validation failed")))

	loaded, err := database.GetPipelineRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, loaded.Status)
	assert.True(t, loaded.StartTime.Valid)
	assert.True(t, loaded.CompletionTime.Valid)
	assert.Equal(t, "validation failed", loaded.Error.String)

	failed, err := database.ListPipelineRuns(ctx, db, database.JobFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	completed, err := database.ListPipelineRuns(ctx, db, database.JobCompleted, 0)
	require.NoError(t, err)
	assert.Empty(t, completed)

	_, err = database.GetPipelineRun(ctx, db, uuid.New())
	assert.ErrorIs(t, err, database.ErrRunNotFound)
}

func TestRunRecorder(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	run, err := database.CreatePipelineRun(ctx, db, "cli")
	require.NoError(t, err)
	recorder := database.NewRunRecorder(db, run.Id)

	require.NoError(t, recorder.StageStarted(ctx, "Data Validation", 1))
	require.NoError(t, recorder.StageFinished(ctx, "Data Validation", nil))
	require.NoError(t, recorder.StageStarted(ctx, "Model Trainer", 3))
	require.NoError(t, recorder.StageFinished(ctx, "Model Trainer", errors.New("boom")))

	report := validation.Report{
		Status:   validation.StatusSuccess,
		Warnings: []string{"Column 'a' has 1 potential outliers"},
		Outliers: []validation.ColumnOutliers{{Column: "a", Kind: dataset.Float64, Values: map[int]float64{9: 1000.5}}},
	}
	require.NoError(t, recorder.RecordValidation(ctx, report))
	// Recording twice replaces the first record.
	require.NoError(t, recorder.RecordValidation(ctx, report))

	require.NoError(t, recorder.RecordCandidate(ctx, training.Outcome{ID: "elasticnet", State: training.StateSkipped, Err: errors.New("diverged")}))
	require.NoError(t, recorder.RecordCandidate(ctx, training.Outcome{
		ID:       "randomforest",
		State:    training.StateSucceeded,
		Params:   estimator.Params{"max_depth": 5},
		Score:    0.9,
		CVScore:  0.85,
		Explored: 10,
	}))

	loaded, err := database.GetPipelineRun(ctx, db, run.Id)
	require.NoError(t, err)

	require.Len(t, loaded.Stages, 2)
	assert.Equal(t, "Data Validation", loaded.Stages[0].Stage)
	assert.Equal(t, database.JobCompleted, loaded.Stages[0].Status)
	assert.Equal(t, database.JobFailed, loaded.Stages[1].Status)
	assert.Equal(t, "boom", loaded.Stages[1].Error.String)

	require.NotNil(t, loaded.Validation)
	assert.Equal(t, validation.StatusSuccess, loaded.Validation.Status)
	assert.Equal(t, 1, loaded.Validation.WarningCount)
	assert.Equal(t, 1, loaded.Validation.OutlierCount)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(loaded.Validation.Report, &summary))
	assert.Equal(t, map[string]any{"9": 1000.5}, summary["outliers"].(map[string]any)["a"])

	require.Len(t, loaded.Candidates, 2)
	assert.Equal(t, "elasticnet", loaded.Candidates[0].ModelName)
	assert.Equal(t, string(training.StateSkipped), loaded.Candidates[0].Status)
	assert.False(t, loaded.Candidates[0].Score.Valid)
	assert.Equal(t, "diverged", loaded.Candidates[0].Error.String)
	assert.Equal(t, "randomforest", loaded.Candidates[1].ModelName)
	assert.InDelta(t, 0.9, loaded.Candidates[1].Score.Float64, 1e-12)
	assert.JSONEq(t, `{"max_depth": 5}`, string(loaded.Candidates[1].Params))
}

func TestSaveTrackedRun(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	run, err := database.CreatePipelineRun(ctx, db, "cli")
	require.NoError(t, err)

	tracked := database.TrackedRun{
		Id:            uuid.New(),
		PipelineRunId: uuid.NullUUID{UUID: run.Id, Valid: true},
		Experiment:    "model_evaluation_abc123",
		Name:          "model_evaluation",
		Params:        []database.TrackedParam{{Key: "n_iter", Value: "10"}},
		Metrics:       []database.TrackedMetric{{Key: "MAE", Value: 0.5}, {Key: "R2_Score", Value: 0.9}},
	}
	require.NoError(t, database.SaveTrackedRun(ctx, db, &tracked))

	runs, err := database.GetTrackedRuns(ctx, db, run.Id)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "model_evaluation_abc123", runs[0].Experiment)
	assert.Len(t, runs[0].Params, 1)
	assert.Len(t, runs[0].Metrics, 2)
}
