package localstore

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

var backendFactories = map[string]func(t *testing.T) storage.Backend{
	"memory": func(t *testing.T) storage.Backend {
		return storage.NewMemoryBackend()
	},
	"sqlite": func(t *testing.T) storage.Backend {
		t.Helper()
		db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "local.db")), &gorm.Config{})
		if err != nil {
			t.Fatalf("failed to open sqlite: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			t.Fatalf("failed to access sql db: %v", err)
		}
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() {
			_ = sqlDB.Close()
		})
		if err := db.AutoMigrate(&storage.SlotRecord{}); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
		backend, err := storage.NewSQLiteBackend(db)
		if err != nil {
			t.Fatalf("failed to build backend: %v", err)
		}
		return backend
	},
}

type sequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%d", s.prefix, s.next), nil
}

func testConfig(backend storage.Backend, bus storage.Bus) Config {
	return Config{
		Backend: backend,
		Bus:     bus,
		IDs:     &sequentialIDs{prefix: "id"},
		Clock:   func() time.Time { return testNow },
	}
}

func int64Pointer(value int64) *int64 {
	return &value
}

func forEachBackend(t *testing.T, run func(t *testing.T, backend storage.Backend)) {
	for name, factory := range backendFactories {
		t.Run(name, func(t *testing.T) {
			run(t, factory(t))
		})
	}
}
