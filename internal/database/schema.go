package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
	JobSkipped   string = "SKIPPED"
)

type PipelineRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Trigger        string `gorm:"size:20"`
	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
	Error          sql.NullString

	ArtifactPrefix sql.NullString

	Stages     []StageRun        `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Candidates []CandidateResult `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Validation *ValidationRecord `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type StageRun struct {
	RunId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Stage    string    `gorm:"primaryKey;size:64"`
	Position int

	Status         string `gorm:"size:20;not null"`
	StartTime      time.Time
	CompletionTime sql.NullTime
	Error          sql.NullString
}

type CandidateResult struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModelName string    `gorm:"primaryKey;size:64"`
	Position  int

	Status   string `gorm:"size:20;not null"`
	Score    sql.NullFloat64
	CVScore  sql.NullFloat64
	Explored int
	Params   datatypes.JSON `gorm:"type:jsonb"` // {"alpha": 0.1, ...}
	Error    sql.NullString
}

type ValidationRecord struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status       string `gorm:"size:20;not null"`
	ErrorCount   int
	WarningCount int
	OutlierCount int            `gorm:"default:0"`
	Report       datatypes.JSON `gorm:"type:jsonb"`
	CreationTime time.Time
}

// TrackedRun is one experiment run logged through the database tracking
// sink. It is linked to a pipeline run when one is known.
type TrackedRun struct {
	Id            uuid.UUID     `gorm:"type:uuid;primaryKey"`
	PipelineRunId uuid.NullUUID `gorm:"type:uuid;index"`

	Experiment   string `gorm:"index;not null"`
	Name         string
	CreationTime time.Time

	Params  []TrackedParam  `gorm:"foreignKey:TrackedRunId;constraint:OnDelete:CASCADE"`
	Metrics []TrackedMetric `gorm:"foreignKey:TrackedRunId;constraint:OnDelete:CASCADE"`
}

type TrackedParam struct {
	TrackedRunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key          string    `gorm:"primaryKey;size:250"`
	Value        string
}

type TrackedMetric struct {
	TrackedRunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key          string    `gorm:"primaryKey;size:250"`
	Value        float64
}
