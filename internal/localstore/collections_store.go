package localstore

import (
	"context"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/tidwall/gjson"
)

// Collection is a curated, ordered list of notes. NoteIDs order is the display rank.
type Collection struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	CoverImageURL string   `json:"coverImageUrl,omitempty"`
	Tags          []string `json:"tags"`
	Category      string   `json:"category"`
	Featured      bool     `json:"featured"`
	PublishedAt   *int64   `json:"publishedAt,omitempty"`
	NoteIDs       []string `json:"noteIds"`
	CreatedAt     int64    `json:"createdAt"`
	UpdatedAt     int64    `json:"updatedAt"`
}

// IsDraft reports whether the collection is unpublished.
func (c Collection) IsDraft() bool {
	return c.PublishedAt == nil
}

// CollectionInput holds the editable metadata of a collection.
type CollectionInput struct {
	Title         string
	Description   string
	CoverImageURL string
	Tags          []string
	Category      string
	NoteIDs       []string
}

// CollectionsStore persists collections under collections-storage.
type CollectionsStore struct {
	slot  *storage.Slot[[]Collection]
	ids   func() (string, error)
	cfg   Config
	clock func() int64
}

func NewCollectionsStore(cfg Config) (*CollectionsStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	store := &CollectionsStore{
		ids:   cfg.IDs.NewID,
		cfg:   cfg,
		clock: func() int64 { return cfg.Clock().Unix() },
	}
	slot, err := storage.NewSlot(storage.SlotConfig[[]Collection]{
		Key:               CollectionsKey,
		LegacyKey:         CollectionsLegacyKey,
		Backend:           cfg.Backend,
		Bus:               cfg.Bus,
		Seed:              func() []Collection { return []Collection{} },
		PersistNormalized: true,
		Decode: func(raw []byte) ([]Collection, error) {
			items, _ := storedItems(raw, "collections")
			imported, _ := store.sanitizeForImport(items, func(index int, key string) (string, error) {
				return storedRowID("collection", index, key), nil
			})
			collections := make([]Collection, 0, len(imported))
			for _, entry := range imported {
				collections = append(collections, entry.collection)
			}
			return collections, nil
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

func (s *CollectionsStore) Load(ctx context.Context) error {
	return s.slot.Load(ctx)
}

func (s *CollectionsStore) Run(ctx context.Context) error {
	return s.slot.Run(ctx)
}

func (s *CollectionsStore) List() ([]Collection, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return slices.Clone(current), nil
}

func (s *CollectionsStore) Get(id string) (Collection, error) {
	current, err := s.slot.Get()
	if err != nil {
		return Collection{}, err
	}
	index := indexOfCollection(current, id)
	if index < 0 {
		return Collection{}, ErrNotFound
	}
	return current[index], nil
}

func (s *CollectionsStore) Create(ctx context.Context, input CollectionInput) (Collection, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Collection{}, &ValidationError{Reason: "collection title is required"}
	}
	id, err := s.ids()
	if err != nil {
		return Collection{}, err
	}
	now := s.clock()
	collection := Collection{ID: id, CreatedAt: now}
	applyCollectionInput(&collection, input, now)
	_, err = s.slot.Update(ctx, func(current []Collection) ([]Collection, error) {
		return append(slices.Clone(current), collection), nil
	})
	if err != nil {
		return Collection{}, err
	}
	return collection, nil
}

// Update replaces the editable metadata; Featured and PublishedAt are left to their own mutations.
func (s *CollectionsStore) Update(ctx context.Context, id string, input CollectionInput) (Collection, error) {
	if strings.TrimSpace(input.Title) == "" {
		return Collection{}, &ValidationError{Reason: "collection title is required"}
	}
	return s.mutate(ctx, id, func(collection *Collection) error {
		applyCollectionInput(collection, input, s.clock())
		return nil
	})
}

func applyCollectionInput(collection *Collection, input CollectionInput, now int64) {
	collection.Title = strings.TrimSpace(input.Title)
	collection.Description = strings.TrimSpace(input.Description)
	collection.CoverImageURL = strings.TrimSpace(input.CoverImageURL)
	collection.Category = strings.TrimSpace(input.Category)
	collection.Tags = slices.Clone(input.Tags)
	if collection.Tags == nil {
		collection.Tags = []string{}
	}
	collection.NoteIDs = slices.Clone(input.NoteIDs)
	if collection.NoteIDs == nil {
		collection.NoteIDs = []string{}
	}
	collection.UpdatedAt = now
}

func (s *CollectionsStore) Delete(ctx context.Context, id string) error {
	_, err := s.slot.Update(ctx, func(current []Collection) ([]Collection, error) {
		index := indexOfCollection(current, id)
		if index < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(slices.Clone(current), index, index+1), nil
	})
	return err
}

func (s *CollectionsStore) Clear(ctx context.Context) error {
	return s.slot.Replace(ctx, []Collection{})
}

// AddNote appends noteID unless the collection already holds it.
func (s *CollectionsStore) AddNote(ctx context.Context, id, noteID string) (Collection, error) {
	return s.mutate(ctx, id, func(collection *Collection) error {
		if slices.Contains(collection.NoteIDs, noteID) {
			return nil
		}
		collection.NoteIDs = append(collection.NoteIDs, noteID)
		return nil
	})
}

func (s *CollectionsStore) RemoveNote(ctx context.Context, id, noteID string) (Collection, error) {
	return s.mutate(ctx, id, func(collection *Collection) error {
		index := slices.Index(collection.NoteIDs, noteID)
		if index < 0 {
			return ErrNotFound
		}
		collection.NoteIDs = slices.Delete(collection.NoteIDs, index, index+1)
		return nil
	})
}

// MoveNote places noteID at position, clamped to the list bounds; the others keep their relative order.
func (s *CollectionsStore) MoveNote(ctx context.Context, id, noteID string, position int) (Collection, error) {
	return s.mutate(ctx, id, func(collection *Collection) error {
		index := slices.Index(collection.NoteIDs, noteID)
		if index < 0 {
			return ErrNotFound
		}
		remaining := slices.Delete(collection.NoteIDs, index, index+1)
		position = max(0, min(position, len(remaining)))
		collection.NoteIDs = slices.Insert(remaining, position, noteID)
		return nil
	})
}

func (s *CollectionsStore) SetFeatured(ctx context.Context, id string, featured bool) (Collection, error) {
	return s.mutate(ctx, id, func(collection *Collection) error {
		collection.Featured = featured
		return nil
	})
}

func (s *CollectionsStore) Publish(ctx context.Context, id string) (Collection, error) {
	return s.mutate(ctx, id, func(collection *Collection) error {
		publishedAt := s.clock()
		collection.PublishedAt = &publishedAt
		return nil
	})
}

func (s *CollectionsStore) Unpublish(ctx context.Context, id string) (Collection, error) {
	return s.mutate(ctx, id, func(collection *Collection) error {
		collection.PublishedAt = nil
		return nil
	})
}

// mutate applies change to a copy of one collection and stores the copy.
func (s *CollectionsStore) mutate(ctx context.Context, id string, change func(*Collection) error) (Collection, error) {
	var updated Collection
	_, err := s.slot.Update(ctx, func(current []Collection) ([]Collection, error) {
		index := indexOfCollection(current, id)
		if index < 0 {
			return nil, ErrNotFound
		}
		next := slices.Clone(current)
		collection := next[index]
		collection.NoteIDs = slices.Clone(collection.NoteIDs)
		collection.Tags = slices.Clone(collection.Tags)
		if err := change(&collection); err != nil {
			return nil, err
		}
		collection.UpdatedAt = s.clock()
		next[index] = collection
		updated = collection
		return next, nil
	})
	if err != nil {
		return Collection{}, err
	}
	return updated, nil
}

func (s *CollectionsStore) Export() ([]byte, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return exportDocument("collections", s.cfg.Clock(), current)
}

type importedCollection struct {
	collection Collection
	key        string
	hadID      bool
}

// Import mirrors WaypointsStore.Import. The dedup key is the lowercased id, or the title when the id is absent.
func (s *CollectionsStore) Import(ctx context.Context, payload []byte, mode ImportMode) (ImportResult, error) {
	items, ok := storedItems(payload, "collections")
	if !ok {
		return ImportResult{}, &ValidationError{Reason: "import payload is not a collection list"}
	}
	imported, dropped := s.sanitizeForImport(items, func(int, string) (string, error) {
		return s.ids()
	})
	if len(imported) == 0 {
		return ImportResult{Dropped: dropped}, &ValidationError{Reason: "no valid collections", Dropped: dropped}
	}

	result := ImportResult{Dropped: dropped}
	_, err := s.slot.Update(ctx, func(current []Collection) ([]Collection, error) {
		if mode == ImportReplace {
			replaced := make([]Collection, 0, len(imported))
			for _, entry := range imported {
				replaced = append(replaced, entry.collection)
			}
			result.Added = len(replaced)
			return replaced, nil
		}
		next := slices.Clone(current)
		seenIDs := make(map[string]struct{}, len(next))
		seenTitles := make(map[string]struct{}, len(next))
		for _, collection := range next {
			seenIDs[strings.ToLower(collection.ID)] = struct{}{}
			seenTitles[strings.ToLower(collection.Title)] = struct{}{}
		}
		for _, entry := range imported {
			seen := seenTitles
			if entry.hadID {
				seen = seenIDs
			}
			if _, exists := seen[entry.key]; exists {
				result.Skipped++
				continue
			}
			seenIDs[strings.ToLower(entry.collection.ID)] = struct{}{}
			seenTitles[strings.ToLower(entry.collection.Title)] = struct{}{}
			next = append(next, entry.collection)
			result.Added++
		}
		return next, nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// sanitizeForImport drops rows that carry neither an id nor a title. mint supplies missing ids.
func (s *CollectionsStore) sanitizeForImport(items []gjson.Result, mint func(index int, key string) (string, error)) ([]importedCollection, int) {
	imported := make([]importedCollection, 0, len(items))
	dropped := 0
	now := s.clock()
	for index, item := range items {
		if !item.IsObject() {
			dropped++
			continue
		}
		id := stringField(item, "id")
		title := stringField(item, "title")
		if id == "" && title == "" {
			dropped++
			continue
		}
		entry := importedCollection{hadID: id != ""}
		if entry.hadID {
			entry.key = strings.ToLower(id)
		} else {
			entry.key = strings.ToLower(title)
			generated, err := mint(index, entry.key)
			if err != nil {
				dropped++
				continue
			}
			id = generated
		}
		collection := Collection{
			ID:            id,
			Title:         title,
			Description:   stringField(item, "description"),
			CoverImageURL: stringField(item, "coverImageUrl"),
			Tags:          stringList(item, "tags"),
			Category:      stringField(item, "category"),
			Featured:      item.Get("featured").Type == gjson.True,
			NoteIDs:       stringList(item, "noteIds"),
			CreatedAt:     timestampField(item, "createdAt", now),
			UpdatedAt:     timestampField(item, "updatedAt", now),
		}
		if publishedAt, ok := integerField(item, "publishedAt"); ok && publishedAt >= 0 {
			collection.PublishedAt = &publishedAt
		}
		entry.collection = collection
		imported = append(imported, entry)
	}
	return imported, dropped
}

func indexOfCollection(items []Collection, id string) int {
	return slices.IndexFunc(items, func(collection Collection) bool {
		return collection.ID == id
	})
}
