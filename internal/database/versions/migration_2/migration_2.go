package migration_2

import (
	"fmt"

	"gorm.io/gorm"
)

type ValidationRecord struct {
	OutlierCount int `gorm:"default:0"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&ValidationRecord{}, "outlier_count"); err != nil {
		return fmt.Errorf("error adding outlier_count column: %w", err)
	}

	if err := db.Model(&ValidationRecord{}).
		Where("outlier_count IS NULL").
		Update("outlier_count", 0).Error; err != nil {
		return fmt.Errorf("error setting default value for outlier_count: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&ValidationRecord{}, "outlier_count"); err != nil {
		return fmt.Errorf("error dropping outlier_count column: %w", err)
	}
	return nil
}
