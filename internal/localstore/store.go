package localstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Persisted keys, each with the one legacy alias consulted for migration.
const (
	NotesKey             = "notes-storage"
	NotesLegacyKey       = "legacy-notes-storage"
	DraftsKey            = "drafts-storage"
	DraftsLegacyKey      = "legacy-drafts-storage"
	WaypointsKey         = "waypoints-storage"
	WaypointsLegacyKey   = "legacy-waypoints-storage"
	CollectionsKey       = "collections-storage"
	CollectionsLegacyKey = "legacy-collections-storage"
	LinksKey             = "waypoint-links-storage"
	LinksLegacyKey       = "legacy-waypoint-links-storage"

	exportVersion = 1
)

var (
	ErrNotFound = errors.New("localstore: not found")

	errMissingBackend = errors.New("localstore: backend is required")
)

// ValidationError reports an input that produced no usable entity.
type ValidationError struct {
	Reason  string
	Dropped int
}

func (e *ValidationError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("localstore: %s (%d dropped)", e.Reason, e.Dropped)
	}
	return "localstore: " + e.Reason
}

// ImportMode selects how imported items combine with the existing collection.
type ImportMode string

const (
	ImportMerge   ImportMode = "merge"
	ImportReplace ImportMode = "replace"
)

// ParseImportMode defaults to merge for anything but "replace".
func ParseImportMode(raw string) ImportMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ImportReplace)) {
		return ImportReplace
	}
	return ImportMerge
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Dropped int `json:"dropped"`
}

// Config carries what every store needs.
type Config struct {
	Backend storage.Backend
	Bus     storage.Bus
	IDs     notes.IDProvider
	Clock   func() time.Time
	Logger  *zap.Logger
}

func (c Config) withDefaults() (Config, error) {
	if c.Backend == nil {
		return Config{}, errMissingBackend
	}
	if c.IDs == nil {
		c.IDs = notes.NewUUIDProvider()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c, nil
}

func newListSlot[T any](cfg Config, key, legacyKey, field string, decode func(gjson.Result) (T, bool)) (*storage.Slot[[]T], error) {
	return storage.NewSlot(storage.SlotConfig[[]T]{
		Key:       key,
		LegacyKey: legacyKey,
		Backend:   cfg.Backend,
		Bus:       cfg.Bus,
		Seed:      func() []T { return []T{} },
		Decode: func(raw []byte) ([]T, error) {
			return decodeItems(raw, field, decode), nil
		},
		Clock:  cfg.Clock,
		Logger: cfg.Logger,
	})
}

// storedRowID derives the id of a persisted row saved without one. Every instance decoding
// the same bytes gets the same id.
func storedRowID(kind string, index int, key string) string {
	name := fmt.Sprintf("dailydust:%s:%d:%s", kind, index, key)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// storedItems accepts a bare array, an export wrapper {field: [...]} or a
// persisted-state wrapper {state: {field: [...]}}.
func storedItems(raw []byte, field string) ([]gjson.Result, bool) {
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	parsed := gjson.ParseBytes(raw)
	if parsed.IsArray() {
		return parsed.Array(), true
	}
	if !parsed.IsObject() {
		return nil, false
	}
	for _, path := range []string{field, "state." + field} {
		if items := parsed.Get(path); items.IsArray() {
			return items.Array(), true
		}
	}
	return nil, false
}

func decodeItems[T any](raw []byte, field string, decode func(gjson.Result) (T, bool)) []T {
	items, _ := storedItems(raw, field)
	decoded := make([]T, 0, len(items))
	for _, item := range items {
		if value, ok := decode(item); ok {
			decoded = append(decoded, value)
		}
	}
	return decoded
}

func decodeJSON[T any](item gjson.Result) (T, bool) {
	var value T
	if !item.IsObject() {
		return value, false
	}
	if err := json.Unmarshal([]byte(item.Raw), &value); err != nil {
		return value, false
	}
	return value, true
}

func exportDocument(field string, exportedAt time.Time, items any) ([]byte, error) {
	return json.MarshalIndent(map[string]any{
		"version":    exportVersion,
		"exportedAt": exportedAt.UTC().Format(time.RFC3339),
		field:        items,
	}, "", "  ")
}

func stringField(item gjson.Result, path string) string {
	value := item.Get(path)
	if value.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(value.String())
}

func stringList(item gjson.Result, path string) []string {
	values := []string{}
	for _, entry := range item.Get(path).Array() {
		if entry.Type != gjson.String {
			continue
		}
		if trimmed := strings.TrimSpace(entry.String()); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// integerField returns the value only when it is a whole JSON number.
func integerField(item gjson.Result, path string) (int64, bool) {
	value := item.Get(path)
	if value.Type != gjson.Number {
		return 0, false
	}
	if value.Num != float64(int64(value.Num)) {
		return 0, false
	}
	return int64(value.Num), true
}

func timestampField(item gjson.Result, path string, fallback int64) int64 {
	value, ok := integerField(item, path)
	if !ok || value < 0 {
		return fallback
	}
	return value
}
