package database

import (
	"log/slog"

	"mlops-pipeline/internal/database/versions/migration_0"
	"mlops-pipeline/internal/database/versions/migration_1"
	"mlops-pipeline/internal/database/versions/migration_2"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration_0.Migration,
		},
		{
			ID:       "1",
			Migrate:  migration_1.Migration,
			Rollback: migration_1.Rollback,
		},
		{
			ID:       "2",
			Migrate:  migration_2.Migration,
			Rollback: migration_2.Rollback,
		},
	}
}

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, Migrations())

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Runs instead of the individual migrations when the database is
		// empty, creating the latest schema directly.
		slog.Info("clean database detected, running full schema initialization")

		dbType := txn.Dialector.Name()
		if dbType == "sqlite" || dbType == "sqlite3" {
			if err := txn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
				slog.Error("error enabling foreign keys for SQLite", "error", err)
			}
		}

		return txn.AutoMigrate(
			&PipelineRun{}, &StageRun{}, &CandidateResult{}, &ValidationRecord{}, &TrackedRun{}, &TrackedParam{}, &TrackedMetric{},
		)
	})

	return migrator
}
