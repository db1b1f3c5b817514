package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropBlankStorageSlots = "2026-03-20_drop_blank_storage_slots"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropBlankStorageSlots, apply: dropBlankStorageSlots},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropBlankStorageSlots removes slots whose payload cannot hold a collection, so the
// next load falls back to the legacy key or the seed.
func dropBlankStorageSlots(db *gorm.DB) error {
	return db.Where("trim(value) IN ?", []string{"", "null"}).Delete(&storage.SlotRecord{}).Error
}
