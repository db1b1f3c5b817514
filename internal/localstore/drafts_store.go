package localstore

import (
	"context"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/tidwall/gjson"
)

// RouteStep is a wizard route entry pointing at a waypoint.
type RouteStep struct {
	WaypointID string `json:"waypointId"`
	X          int64  `json:"x"`
	Y          int64  `json:"y"`
	Z          int64  `json:"z"`
	Label      string `json:"label"`
}

// PublishProgress is the last completed publish step, persisted so a retry resumes from it.
// The hashes fingerprint what the note, link and route steps submitted.
type PublishProgress struct {
	NoteID         string `json:"noteId"`
	GroupID        int64  `json:"groupId,omitempty"`
	CompletedSteps int    `json:"completedSteps"`
	LastStep       string `json:"lastStep"`
	NoteHash       string `json:"noteHash,omitempty"`
	LinkHash       string `json:"linkHash,omitempty"`
	RouteHash      string `json:"routeHash,omitempty"`
}

// Draft is the authoring buffer of a note. NoteID is set when it edits a published note.
type Draft struct {
	ID                 string           `json:"id"`
	NoteID             string           `json:"noteId,omitempty"`
	Title              string           `json:"title"`
	Content            string           `json:"content"`
	Tags               []string         `json:"tags"`
	HeaderImageURL     string           `json:"headerImageUrl,omitempty"`
	SelectedWaypointID string           `json:"selectedWaypointId,omitempty"`
	RouteSteps         []RouteStep      `json:"routeSteps,omitempty"`
	Progress           *PublishProgress `json:"progress,omitempty"`
	CreatedAt          int64            `json:"createdAt"`
	UpdatedAt          int64            `json:"updatedAt"`
}

// DraftsStore persists drafts under drafts-storage and follows other instances through the bus.
type DraftsStore struct {
	slot  *storage.Slot[[]Draft]
	ids   func() (string, error)
	clock func() int64
}

func NewDraftsStore(cfg Config) (*DraftsStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	slot, err := newListSlot(cfg, DraftsKey, DraftsLegacyKey, "drafts", decodeDraft)
	if err != nil {
		return nil, err
	}
	return &DraftsStore{
		slot:  slot,
		ids:   cfg.IDs.NewID,
		clock: func() int64 { return cfg.Clock().Unix() },
	}, nil
}

func decodeDraft(item gjson.Result) (Draft, bool) {
	draft, ok := decodeJSON[Draft](item)
	if !ok || strings.TrimSpace(draft.ID) == "" {
		return Draft{}, false
	}
	if draft.Tags == nil {
		draft.Tags = []string{}
	}
	return draft, true
}

func (s *DraftsStore) Load(ctx context.Context) error {
	return s.slot.Load(ctx)
}

func (s *DraftsStore) Run(ctx context.Context) error {
	return s.slot.Run(ctx)
}

// Origin identifies this store instance on the bus.
func (s *DraftsStore) Origin() string {
	return s.slot.Origin()
}

func (s *DraftsStore) List() ([]Draft, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return slices.Clone(current), nil
}

func (s *DraftsStore) Get(id string) (Draft, error) {
	current, err := s.slot.Get()
	if err != nil {
		return Draft{}, err
	}
	index := indexOfDraft(current, id)
	if index < 0 {
		return Draft{}, ErrNotFound
	}
	return current[index], nil
}

// Create stores a new draft seeded with the given fields under a fresh id.
func (s *DraftsStore) Create(ctx context.Context, seed Draft) (Draft, error) {
	id, err := s.ids()
	if err != nil {
		return Draft{}, err
	}
	now := s.clock()
	seed.ID = id
	seed.CreatedAt = now
	seed.UpdatedAt = now
	seed.Progress = nil
	if seed.Tags == nil {
		seed.Tags = []string{}
	}
	_, err = s.slot.Update(ctx, func(current []Draft) ([]Draft, error) {
		return append(slices.Clone(current), seed), nil
	})
	if err != nil {
		return Draft{}, err
	}
	return seed, nil
}

// CreateFromNote opens a draft editing an existing note.
func (s *DraftsStore) CreateFromNote(ctx context.Context, note LocalNote) (Draft, error) {
	return s.Create(ctx, Draft{
		NoteID:         note.ID,
		Title:          note.Title,
		Content:        note.Content,
		Tags:           slices.Clone(note.Tags),
		HeaderImageURL: note.HeaderImageURL,
	})
}

// Duplicate copies an existing draft's editable fields into a new draft.
func (s *DraftsStore) Duplicate(ctx context.Context, id string) (Draft, error) {
	source, err := s.Get(id)
	if err != nil {
		return Draft{}, err
	}
	source.RouteSteps = slices.Clone(source.RouteSteps)
	source.Tags = slices.Clone(source.Tags)
	return s.Create(ctx, source)
}

// Save replaces the stored draft with the same id. CreatedAt and Progress are kept.
func (s *DraftsStore) Save(ctx context.Context, draft Draft) (Draft, error) {
	var saved Draft
	_, err := s.slot.Update(ctx, func(current []Draft) ([]Draft, error) {
		index := indexOfDraft(current, draft.ID)
		if index < 0 {
			return nil, ErrNotFound
		}
		next := slices.Clone(current)
		draft.CreatedAt = next[index].CreatedAt
		draft.Progress = next[index].Progress
		draft.UpdatedAt = s.clock()
		if draft.Tags == nil {
			draft.Tags = []string{}
		}
		next[index] = draft
		saved = draft
		return next, nil
	})
	if err != nil {
		return Draft{}, err
	}
	return saved, nil
}

// SaveProgress records the publish saga marker of a draft.
func (s *DraftsStore) SaveProgress(ctx context.Context, id string, progress PublishProgress) error {
	_, err := s.slot.Update(ctx, func(current []Draft) ([]Draft, error) {
		index := indexOfDraft(current, id)
		if index < 0 {
			return nil, ErrNotFound
		}
		next := slices.Clone(current)
		marker := progress
		next[index].Progress = &marker
		return next, nil
	})
	return err
}

func (s *DraftsStore) Delete(ctx context.Context, id string) error {
	_, err := s.slot.Update(ctx, func(current []Draft) ([]Draft, error) {
		index := indexOfDraft(current, id)
		if index < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(slices.Clone(current), index, index+1), nil
	})
	return err
}

func (s *DraftsStore) Clear(ctx context.Context) error {
	return s.slot.Replace(ctx, []Draft{})
}

func indexOfDraft(items []Draft, id string) int {
	id = strings.TrimSpace(id)
	return slices.IndexFunc(items, func(draft Draft) bool {
		return draft.ID == id
	})
}
