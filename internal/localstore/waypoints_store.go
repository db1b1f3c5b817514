package localstore

import (
	"context"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/chain"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/tidwall/gjson"
)

// Waypoint is a named local reference to a location entity.
type Waypoint struct {
	ID          string `json:"id"`
	EntityID    string `json:"entityId"`
	X           *int64 `json:"x,omitempty"`
	Y           *int64 `json:"y,omitempty"`
	Z           *int64 `json:"z,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CreatedAt   int64  `json:"createdAt"`
}

// Coordinates reports the block position; waypoints without one cannot take part in proximity queries.
func (w Waypoint) Coordinates() (int64, int64, int64, bool) {
	if w.X == nil || w.Y == nil || w.Z == nil {
		return 0, 0, 0, false
	}
	return *w.X, *w.Y, *w.Z, true
}

// DedupKey is the case-insensitive import identity entityId::name.
func (w Waypoint) DedupKey() string {
	return strings.ToLower(w.EntityID + "::" + w.Name)
}

// WaypointInput describes a waypoint to add. EntityID is computed from the coordinates when empty.
type WaypointInput struct {
	Name        string
	Description string
	Category    string
	EntityID    string
	X, Y, Z     *int64
}

type landmark struct {
	id      string
	name    string
	summary string
	x, y, z int64
}

var defaultLandmarks = []landmark{
	{id: "landmark-spawn", name: "Spawn Plaza", summary: "Where every player first arrives.", x: 0, y: 64, z: 0},
	{id: "landmark-lighthouse", name: "Northern Lighthouse", summary: "Tall beacon on the northern shore.", x: 120, y: 80, z: -640},
	{id: "landmark-caves", name: "Crystal Caves", summary: "Entrance to the deep crystal tunnels.", x: -384, y: 22, z: 256},
	{id: "landmark-market", name: "Sunken Market", summary: "Trading square below sea level.", x: 512, y: 40, z: 512},
	{id: "landmark-observatory", name: "Summit Observatory", summary: "Highest built point of the map.", x: -900, y: 210, z: -120},
}

// DefaultWaypoints returns the built-in landmarks seeded into a fresh profile.
func DefaultWaypoints() []Waypoint {
	waypoints := make([]Waypoint, 0, len(defaultLandmarks))
	for _, entry := range defaultLandmarks {
		x, y, z := entry.x, entry.y, entry.z
		waypoints = append(waypoints, Waypoint{
			ID:          entry.id,
			EntityID:    chain.BlockEntityID(int32(x), int32(y), int32(z)).Hex(),
			X:           &x,
			Y:           &y,
			Z:           &z,
			Name:        entry.name,
			Description: entry.summary,
			Category:    "landmark",
		})
	}
	return waypoints
}

// WaypointsStore persists waypoints under waypoints-storage.
type WaypointsStore struct {
	slot  *storage.Slot[[]Waypoint]
	ids   func() (string, error)
	cfg   Config
	clock func() int64
}

func NewWaypointsStore(cfg Config) (*WaypointsStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	store := &WaypointsStore{
		ids:   cfg.IDs.NewID,
		cfg:   cfg,
		clock: func() int64 { return cfg.Clock().Unix() },
	}
	slot, err := storage.NewSlot(storage.SlotConfig[[]Waypoint]{
		Key:               WaypointsKey,
		LegacyKey:         WaypointsLegacyKey,
		Backend:           cfg.Backend,
		Bus:               cfg.Bus,
		Seed:              DefaultWaypoints,
		PersistSeed:       true,
		PersistNormalized: true,
		Decode: func(raw []byte) ([]Waypoint, error) {
			items, _ := storedItems(raw, "waypoints")
			waypoints, _ := store.sanitize(items, func(index int, key string) (string, error) {
				return storedRowID("waypoint", index, key), nil
			})
			return waypoints, nil
		},
		Clock:  cfg.Clock,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	store.slot = slot
	return store, nil
}

func (s *WaypointsStore) Load(ctx context.Context) error {
	return s.slot.Load(ctx)
}

func (s *WaypointsStore) Run(ctx context.Context) error {
	return s.slot.Run(ctx)
}

func (s *WaypointsStore) List() ([]Waypoint, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return slices.Clone(current), nil
}

func (s *WaypointsStore) Get(id string) (Waypoint, error) {
	current, err := s.slot.Get()
	if err != nil {
		return Waypoint{}, err
	}
	index := slices.IndexFunc(current, func(waypoint Waypoint) bool { return waypoint.ID == id })
	if index < 0 {
		return Waypoint{}, ErrNotFound
	}
	return current[index], nil
}

// FindByEntityID matches entity ids case-insensitively.
func (s *WaypointsStore) FindByEntityID(entityID string) (Waypoint, error) {
	current, err := s.slot.Get()
	if err != nil {
		return Waypoint{}, err
	}
	index := slices.IndexFunc(current, func(waypoint Waypoint) bool {
		return strings.EqualFold(waypoint.EntityID, strings.TrimSpace(entityID))
	})
	if index < 0 {
		return Waypoint{}, ErrNotFound
	}
	return current[index], nil
}

// Add validates input and appends a waypoint.
func (s *WaypointsStore) Add(ctx context.Context, input WaypointInput) (Waypoint, error) {
	waypoint, err := s.build(input)
	if err != nil {
		return Waypoint{}, err
	}
	id, err := s.ids()
	if err != nil {
		return Waypoint{}, err
	}
	waypoint.ID = id
	waypoint.CreatedAt = s.clock()
	_, err = s.slot.Update(ctx, func(current []Waypoint) ([]Waypoint, error) {
		return append(slices.Clone(current), waypoint), nil
	})
	if err != nil {
		return Waypoint{}, err
	}
	return waypoint, nil
}

func (s *WaypointsStore) build(input WaypointInput) (Waypoint, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Waypoint{}, &ValidationError{Reason: "waypoint name is required"}
	}
	waypoint := Waypoint{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
	}
	if input.X != nil && input.Y != nil && input.Z != nil {
		x, y, z := *input.X, *input.Y, *input.Z
		waypoint.X, waypoint.Y, waypoint.Z = &x, &y, &z
	}
	entityID, err := resolveEntityID(input.EntityID, waypoint)
	if err != nil {
		return Waypoint{}, err
	}
	waypoint.EntityID = entityID
	return waypoint, nil
}

func resolveEntityID(raw string, waypoint Waypoint) (string, error) {
	if strings.TrimSpace(raw) != "" {
		entityID, err := notes.NewEntityID(raw)
		if err != nil {
			return "", &ValidationError{Reason: "entity id must be 32-byte hex"}
		}
		return entityID.String(), nil
	}
	x, y, z, ok := waypoint.Coordinates()
	if !ok {
		return "", &ValidationError{Reason: "entity id or coordinates are required"}
	}
	entityID, err := chain.EntityIDForCoordinates(x, y, z)
	if err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	return entityID, nil
}

// Update replaces name, description and category of a stored waypoint.
func (s *WaypointsStore) Update(ctx context.Context, waypoint Waypoint) (Waypoint, error) {
	var updated Waypoint
	_, err := s.slot.Update(ctx, func(current []Waypoint) ([]Waypoint, error) {
		index := slices.IndexFunc(current, func(existing Waypoint) bool { return existing.ID == waypoint.ID })
		if index < 0 {
			return nil, ErrNotFound
		}
		name := strings.TrimSpace(waypoint.Name)
		if name == "" {
			return nil, &ValidationError{Reason: "waypoint name is required"}
		}
		next := slices.Clone(current)
		next[index].Name = name
		next[index].Description = strings.TrimSpace(waypoint.Description)
		next[index].Category = strings.TrimSpace(waypoint.Category)
		updated = next[index]
		return next, nil
	})
	if err != nil {
		return Waypoint{}, err
	}
	return updated, nil
}

func (s *WaypointsStore) Delete(ctx context.Context, id string) error {
	_, err := s.slot.Update(ctx, func(current []Waypoint) ([]Waypoint, error) {
		index := slices.IndexFunc(current, func(waypoint Waypoint) bool { return waypoint.ID == id })
		if index < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(slices.Clone(current), index, index+1), nil
	})
	return err
}

func (s *WaypointsStore) Clear(ctx context.Context) error {
	return s.slot.Replace(ctx, []Waypoint{})
}

// Export renders {version, exportedAt, waypoints}.
func (s *WaypointsStore) Export() ([]byte, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return exportDocument("waypoints", s.cfg.Clock(), current)
}

// Import accepts an export document or a bare array. Invalid rows are dropped; the import fails
// only when no row survives sanitization.
func (s *WaypointsStore) Import(ctx context.Context, payload []byte, mode ImportMode) (ImportResult, error) {
	items, ok := storedItems(payload, "waypoints")
	if !ok {
		return ImportResult{}, &ValidationError{Reason: "import payload is not a waypoint list"}
	}
	imported, dropped := s.sanitize(items, func(int, string) (string, error) {
		return s.ids()
	})
	if len(imported) == 0 {
		return ImportResult{Dropped: dropped}, &ValidationError{Reason: "no valid waypoints", Dropped: dropped}
	}

	result := ImportResult{Dropped: dropped}
	_, err := s.slot.Update(ctx, func(current []Waypoint) ([]Waypoint, error) {
		if mode == ImportReplace {
			result.Added = len(imported)
			return imported, nil
		}
		next := slices.Clone(current)
		seenKeys := make(map[string]struct{}, len(next))
		seenIDs := make(map[string]struct{}, len(next))
		for _, waypoint := range next {
			seenKeys[waypoint.DedupKey()] = struct{}{}
			seenIDs[waypoint.ID] = struct{}{}
		}
		for _, waypoint := range imported {
			if _, exists := seenKeys[waypoint.DedupKey()]; exists {
				result.Skipped++
				continue
			}
			if _, taken := seenIDs[waypoint.ID]; taken {
				id, err := s.ids()
				if err != nil {
					return nil, err
				}
				waypoint.ID = id
			}
			seenKeys[waypoint.DedupKey()] = struct{}{}
			seenIDs[waypoint.ID] = struct{}{}
			next = append(next, waypoint)
			result.Added++
		}
		return next, nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// sanitize validates every field independently. Rows without a name or a well-formed entity id are dropped.
// mint supplies the id of a row that has none, given its position and dedup key.
func (s *WaypointsStore) sanitize(items []gjson.Result, mint func(index int, key string) (string, error)) ([]Waypoint, int) {
	waypoints := make([]Waypoint, 0, len(items))
	dropped := 0
	now := s.clock()
	for index, item := range items {
		if !item.IsObject() {
			dropped++
			continue
		}
		name := stringField(item, "name")
		entityID, err := notes.NewEntityID(stringField(item, "entityId"))
		if name == "" || err != nil {
			dropped++
			continue
		}
		waypoint := Waypoint{
			ID:          stringField(item, "id"),
			EntityID:    entityID.String(),
			Name:        name,
			Description: stringField(item, "description"),
			Category:    stringField(item, "category"),
			CreatedAt:   timestampField(item, "createdAt", now),
		}
		x, okX := integerField(item, "x")
		y, okY := integerField(item, "y")
		z, okZ := integerField(item, "z")
		if okX && okY && okZ {
			waypoint.X, waypoint.Y, waypoint.Z = &x, &y, &z
		}
		if waypoint.ID == "" {
			id, err := mint(index, waypoint.DedupKey())
			if err != nil {
				dropped++
				continue
			}
			waypoint.ID = id
		}
		waypoints = append(waypoints, waypoint)
	}
	return waypoints, dropped
}
