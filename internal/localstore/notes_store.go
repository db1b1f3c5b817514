package localstore

import (
	"context"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/tidwall/gjson"
)

// LocalNote mirrors a Note before or instead of the chain copy.
type LocalNote struct {
	ID             string   `json:"id"`
	Owner          string   `json:"owner"`
	TipJar         string   `json:"tipJar,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
	BoostUntil     int64    `json:"boostUntil"`
	TotalTips      int64    `json:"totalTips"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	HeaderImageURL string   `json:"headerImageUrl,omitempty"`
	IsDraft        bool     `json:"isDraft"`
	EntityID       string   `json:"entityId,omitempty"`
}

// FromNote builds a published local mirror of an on-chain note.
func FromNote(note notes.Note) LocalNote {
	return LocalNote{
		ID:             string(note.ID),
		Owner:          note.Owner,
		TipJar:         note.TipJar,
		CreatedAt:      note.CreatedAt,
		UpdatedAt:      note.UpdatedAt,
		BoostUntil:     note.BoostUntil,
		TotalTips:      note.TotalTips,
		Title:          note.Title,
		Content:        note.Content,
		Tags:           slices.Clone(note.Tags),
		HeaderImageURL: note.HeaderImageURL,
	}
}

// ToNote drops the local-only fields. TipJar defaults to the owner.
func (n LocalNote) ToNote() notes.Note {
	tipJar := n.TipJar
	if tipJar == "" {
		tipJar = n.Owner
	}
	tags := slices.Clone(n.Tags)
	if tags == nil {
		tags = []string{}
	}
	return notes.Note{
		ID:             notes.NoteID(strings.ToLower(n.ID)),
		Owner:          n.Owner,
		TipJar:         tipJar,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
		BoostUntil:     n.BoostUntil,
		TotalTips:      n.TotalTips,
		Title:          n.Title,
		Content:        n.Content,
		Tags:           tags,
		HeaderImageURL: n.HeaderImageURL,
	}
}

// NotesStore persists LocalNotes under notes-storage.
type NotesStore struct {
	slot  *storage.Slot[[]LocalNote]
	clock func() int64
}

func NewNotesStore(cfg Config) (*NotesStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	slot, err := newListSlot(cfg, NotesKey, NotesLegacyKey, "notes", decodeLocalNote)
	if err != nil {
		return nil, err
	}
	return &NotesStore{slot: slot, clock: func() int64 { return cfg.Clock().Unix() }}, nil
}

func decodeLocalNote(item gjson.Result) (LocalNote, bool) {
	note, ok := decodeJSON[LocalNote](item)
	if !ok || strings.TrimSpace(note.ID) == "" {
		return LocalNote{}, false
	}
	note.ID = strings.ToLower(strings.TrimSpace(note.ID))
	return note, true
}

func (s *NotesStore) Load(ctx context.Context) error {
	return s.slot.Load(ctx)
}

func (s *NotesStore) Run(ctx context.Context) error {
	return s.slot.Run(ctx)
}

// List returns every local note, drafts included.
func (s *NotesStore) List() ([]LocalNote, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return slices.Clone(current), nil
}

// Published returns the local notes that are not flagged as drafts.
func (s *NotesStore) Published() ([]LocalNote, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	published := make([]LocalNote, 0, len(current))
	for _, note := range current {
		if !note.IsDraft {
			published = append(published, note)
		}
	}
	return published, nil
}

func (s *NotesStore) Get(id string) (LocalNote, error) {
	current, err := s.slot.Get()
	if err != nil {
		return LocalNote{}, err
	}
	index := indexOfNote(current, id)
	if index < 0 {
		return LocalNote{}, ErrNotFound
	}
	return current[index], nil
}

// Upsert inserts or replaces the note with the same id and stamps UpdatedAt.
func (s *NotesStore) Upsert(ctx context.Context, note LocalNote) (LocalNote, error) {
	note.ID = strings.ToLower(strings.TrimSpace(note.ID))
	if note.ID == "" {
		return LocalNote{}, &ValidationError{Reason: "note id is required"}
	}
	now := s.clock()
	if note.CreatedAt == 0 {
		note.CreatedAt = now
	}
	if note.UpdatedAt < now {
		note.UpdatedAt = now
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	_, err := s.slot.Update(ctx, func(current []LocalNote) ([]LocalNote, error) {
		next := slices.Clone(current)
		if index := indexOfNote(next, note.ID); index >= 0 {
			next[index] = note
			return next, nil
		}
		return append(next, note), nil
	})
	if err != nil {
		return LocalNote{}, err
	}
	return note, nil
}

func (s *NotesStore) Delete(ctx context.Context, id string) error {
	_, err := s.slot.Update(ctx, func(current []LocalNote) ([]LocalNote, error) {
		index := indexOfNote(current, id)
		if index < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(slices.Clone(current), index, index+1), nil
	})
	return err
}

func (s *NotesStore) Clear(ctx context.Context) error {
	return s.slot.Replace(ctx, []LocalNote{})
}

func indexOfNote(items []LocalNote, id string) int {
	id = strings.ToLower(strings.TrimSpace(id))
	return slices.IndexFunc(items, func(note LocalNote) bool {
		return note.ID == id
	})
}
