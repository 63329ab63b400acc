package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"mlops-pipeline/internal/training"
	"mlops-pipeline/internal/validation"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRecorder persists the progress of a single pipeline run: stage
// transitions, the validation report and every model candidate.
type RunRecorder struct {
	db    *gorm.DB
	runId uuid.UUID

	mu         sync.Mutex
	candidates int
}

func NewRunRecorder(db *gorm.DB, runId uuid.UUID) *RunRecorder {
	return &RunRecorder{db: db, runId: runId}
}

func (r *RunRecorder) RunId() uuid.UUID {
	return r.runId
}

func (r *RunRecorder) upsert(ctx context.Context, value any) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

func (r *RunRecorder) StageStarted(ctx context.Context, stage string, position int) error {
	row := StageRun{
		RunId:     r.runId,
		Stage:     stage,
		Position:  position,
		Status:    JobRunning,
		StartTime: time.Now().UTC(),
	}
	if err := r.upsert(ctx, &row); err != nil {
		return fmt.Errorf("error recording start of stage %s: %w", stage, err)
	}
	return nil
}

func (r *RunRecorder) StageFinished(ctx context.Context, stage string, stageErr error) error {
	status := JobCompleted
	if stageErr != nil {
		status = JobFailed
	}
	updates := map[string]any{
		"status":          status,
		"completion_time": time.Now().UTC(),
		"error":           nullError(stageErr),
	}
	err := r.db.WithContext(ctx).
		Model(&StageRun{}).
		Where("run_id = ? AND stage = ?", r.runId, stage).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("error recording completion of stage %s: %w", stage, err)
	}
	return nil
}

type validationSummary struct {
	Errors      []string                  `json:"errors"`
	Warnings    []string                  `json:"warnings"`
	Outliers    map[string]map[string]any `json:"outliers"`
	CleanedFile string                    `json:"cleaned_file,omitempty"`
}

func (r *RunRecorder) RecordValidation(ctx context.Context, report validation.Report) error {
	summary := validationSummary{
		Errors:      report.Errors,
		Warnings:    report.Warnings,
		Outliers:    map[string]map[string]any{},
		CleanedFile: report.CleanedFile,
	}
	for _, c := range report.Outliers {
		values := make(map[string]any, len(c.Values))
		for row := range c.Values {
			values[strconv.Itoa(row)] = c.Value(row)
		}
		summary.Outliers[c.Column] = values
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("error encoding validation report: %w", err)
	}

	record := ValidationRecord{
		RunId:        r.runId,
		Status:       report.Status,
		ErrorCount:   len(report.Errors),
		WarningCount: len(report.Warnings),
		OutlierCount: report.OutlierCount(),
		Report:       datatypes.JSON(data),
		CreationTime: time.Now().UTC(),
	}
	if err := r.upsert(ctx, &record); err != nil {
		return fmt.Errorf("error recording validation report: %w", err)
	}
	return nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func (r *RunRecorder) RecordCandidate(ctx context.Context, outcome training.Outcome) error {
	r.mu.Lock()
	position := r.candidates
	r.candidates++
	r.mu.Unlock()

	row := CandidateResult{
		RunId:     r.runId,
		ModelName: outcome.ID,
		Position:  position,
		Status:    string(outcome.State),
		Explored:  outcome.Explored,
		Error:     nullError(outcome.Err),
	}
	if outcome.State == training.StateSucceeded {
		row.Score = nullFloat(outcome.Score)
		row.CVScore = nullFloat(outcome.CVScore)
	}
	if outcome.Params != nil {
		params, err := json.Marshal(outcome.Params)
		if err != nil {
			return fmt.Errorf("error encoding params of %s: %w", outcome.ID, err)
		}
		row.Params = datatypes.JSON(params)
	}

	if err := r.upsert(ctx, &row); err != nil {
		return fmt.Errorf("error recording candidate %s: %w", outcome.ID, err)
	}
	return nil
}
