package migration_1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TrackedRun struct {
	Id            uuid.UUID     `gorm:"type:uuid;primaryKey"`
	PipelineRunId uuid.NullUUID `gorm:"type:uuid;index"`
	Experiment    string        `gorm:"index;not null"`
	Name          string
	CreationTime  time.Time

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

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&TrackedRun{}, &TrackedParam{}, &TrackedMetric{}); err != nil {
		return fmt.Errorf("error creating tracking tables: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&TrackedMetric{}, &TrackedParam{}, &TrackedRun{}); err != nil {
		return fmt.Errorf("error dropping tracking tables: %w", err)
	}
	return nil
}
