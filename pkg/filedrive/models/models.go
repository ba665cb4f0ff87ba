package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllModels returns all models for migration
// Note: Organization and User must be migrated first as other models depend on them
func AllModels() []interface{} {
	return []interface{}{
		&Organization{},
		&User{},
		&OrganizationMembership{},
		&File{},
		&Favorite{},
		&ToggleReceipt{},
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	return backfillFoldedNames(db)
}

// backfillFoldedNames fills NameFolded for rows created before the column existed
func backfillFoldedNames(db *gorm.DB) error {
	var files []File
	err := db.Select("id", "name").
		Where("name_folded = ? AND name <> ?", "", "").
		Find(&files).Error
	if err != nil {
		return err
	}

	for _, f := range files {
		err := db.Model(&File{}).Where("id = ?", f.ID).
			UpdateColumn("name_folded", FoldName(f.Name)).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// NewID returns a fresh identifier. Users and organizations share one id space,
// which lets a scope id name either of them.
func NewID() string {
	return uuid.NewString()
}

func ensureID(id *string) {
	if *id == "" {
		*id = NewID()
	}
}
