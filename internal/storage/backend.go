package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("storage: database is required")
	errEmptyKey        = errors.New("storage: key is required")
)

// Backend is a flat key/value store holding one serialized slot per key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// MemoryBackend keeps slots in process memory. Safe for concurrent use.
type MemoryBackend struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.slots[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return errEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, key)
	return nil
}

// SlotRecord is the persisted row behind SQLiteBackend.
type SlotRecord struct {
	Key              string `gorm:"column:slot_key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (SlotRecord) TableName() string {
	return "storage_slots"
}

// SQLiteBackend stores slots in the storage_slots table.
type SQLiteBackend struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewSQLiteBackend(db *gorm.DB) (*SQLiteBackend, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SQLiteBackend{db: db, clock: time.Now}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var record SlotRecord
	err := b.db.WithContext(ctx).Where("slot_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(record.Value), true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return errEmptyKey
	}
	record := SlotRecord{
		Key:              key,
		Value:            string(value),
		UpdatedAtSeconds: b.clock().UTC().Unix(),
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&record).Error
}

func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).Where("slot_key = ?", key).Delete(&SlotRecord{}).Error
}
