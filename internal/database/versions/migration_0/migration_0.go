package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PipelineRun struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Trigger        string    `gorm:"size:20"`
	Status         string    `gorm:"size:20;not null"`
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
	RunId          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Stage          string    `gorm:"primaryKey;size:64"`
	Position       int
	Status         string `gorm:"size:20;not null"`
	StartTime      time.Time
	CompletionTime sql.NullTime
	Error          sql.NullString
}

type CandidateResult struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModelName string    `gorm:"primaryKey;size:64"`
	Position  int
	Status    string `gorm:"size:20;not null"`
	Score     sql.NullFloat64
	CVScore   sql.NullFloat64
	Explored  int
	Params    datatypes.JSON `gorm:"type:jsonb"`
	Error     sql.NullString
}

type ValidationRecord struct {
	RunId        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status       string    `gorm:"size:20;not null"`
	ErrorCount   int
	WarningCount int
	Report       datatypes.JSON `gorm:"type:jsonb"`
	CreationTime time.Time
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&PipelineRun{}, &StageRun{}, &CandidateResult{}, &ValidationRecord{})
}
