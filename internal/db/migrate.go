package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/ember/internal/models"
)

// AllModels returns every locally persisted GORM model.
func AllModels() []interface{} {
	return []interface{}{
		&models.Credential{},
		&models.ActionRecord{},
	}
}

// AutoMigrate creates or updates all local tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
