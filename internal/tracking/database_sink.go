package tracking

import (
	"context"
	"fmt"
	"time"

	"mlops-pipeline/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DatabaseSink stores tracked runs in the pipeline database, linked to the
// pipeline run that produced them when runId is set.
type DatabaseSink struct {
	db    *gorm.DB
	runId uuid.NullUUID
}

func NewDatabaseSink(db *gorm.DB) *DatabaseSink {
	return &DatabaseSink{db: db}
}

func (s *DatabaseSink) ForPipelineRun(runId uuid.UUID) *DatabaseSink {
	return &DatabaseSink{db: s.db, runId: uuid.NullUUID{UUID: runId, Valid: true}}
}

func (s *DatabaseSink) LogRun(ctx context.Context, run Run) error {
	tracked := database.TrackedRun{
		Id:            uuid.New(),
		PipelineRunId: s.runId,
		Experiment:    run.Experiment,
		Name:          run.Name,
		CreationTime:  time.Now().UTC(),
	}
	for k, v := range run.Params {
		tracked.Params = append(tracked.Params, database.TrackedParam{TrackedRunId: tracked.Id, Key: k, Value: v})
	}
	for k, v := range run.Metrics {
		tracked.Metrics = append(tracked.Metrics, database.TrackedMetric{TrackedRunId: tracked.Id, Key: k, Value: v})
	}

	if err := database.SaveTrackedRun(ctx, s.db, &tracked); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}
