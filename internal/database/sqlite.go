package database

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrMissingPath is returned when no database file is configured.
var ErrMissingPath = errors.New("database: path is required")

// slotPragmas let a second process wait for the single writer instead of failing with SQLITE_BUSY.
const slotPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// OpenSQLite opens the local persisted-storage database. Each local store owns one row of
// storage_slots keyed by its storage key; db_migrations records the one-shot data migrations
// already applied to those rows.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrMissingPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(withPragmas(path)), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&storage.SlotRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	var slots int64
	if err := db.Model(&storage.SlotRecord{}).Count(&slots).Error; err != nil {
		return nil, err
	}
	logger.Info("storage database ready", zap.String("path", path), zap.Int64("slots", slots))
	return db, nil
}

func withPragmas(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + slotPragmas
	}
	return path + "?" + slotPragmas
}
