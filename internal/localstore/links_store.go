package localstore

import (
	"context"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/tidwall/gjson"
)

// WaypointLink associates a waypoint with exactly one note or one draft.
type WaypointLink struct {
	WaypointID string `json:"waypointId"`
	NoteID     string `json:"noteId,omitempty"`
	DraftID    string `json:"draftId,omitempty"`
	LinkedAt   int64  `json:"linkedAt"`
}

// LinkOwner names the note xor the draft a link belongs to.
type LinkOwner struct {
	NoteID  string
	DraftID string
}

func (o LinkOwner) validate() error {
	hasNote := strings.TrimSpace(o.NoteID) != ""
	hasDraft := strings.TrimSpace(o.DraftID) != ""
	if hasNote == hasDraft {
		return &ValidationError{Reason: "link needs exactly one of note id or draft id"}
	}
	return nil
}

func (o LinkOwner) owns(link WaypointLink) bool {
	if o.NoteID != "" {
		return strings.EqualFold(link.NoteID, o.NoteID)
	}
	return link.DraftID == o.DraftID
}

// LinksStore persists waypoint links under waypoint-links-storage.
type LinksStore struct {
	slot  *storage.Slot[[]WaypointLink]
	clock func() int64
}

func NewLinksStore(cfg Config) (*LinksStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	slot, err := newListSlot(cfg, LinksKey, LinksLegacyKey, "links", decodeLink)
	if err != nil {
		return nil, err
	}
	return &LinksStore{slot: slot, clock: func() int64 { return cfg.Clock().Unix() }}, nil
}

func decodeLink(item gjson.Result) (WaypointLink, bool) {
	link, ok := decodeJSON[WaypointLink](item)
	if !ok || strings.TrimSpace(link.WaypointID) == "" {
		return WaypointLink{}, false
	}
	if (LinkOwner{NoteID: link.NoteID, DraftID: link.DraftID}).validate() != nil {
		return WaypointLink{}, false
	}
	return link, true
}

func (s *LinksStore) Load(ctx context.Context) error {
	return s.slot.Load(ctx)
}

func (s *LinksStore) Run(ctx context.Context) error {
	return s.slot.Run(ctx)
}

func (s *LinksStore) List() ([]WaypointLink, error) {
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	return slices.Clone(current), nil
}

func (s *LinksStore) ForNote(noteID string) ([]WaypointLink, error) {
	return s.filter(LinkOwner{NoteID: noteID})
}

func (s *LinksStore) ForDraft(draftID string) ([]WaypointLink, error) {
	return s.filter(LinkOwner{DraftID: draftID})
}

func (s *LinksStore) filter(owner LinkOwner) ([]WaypointLink, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	current, err := s.slot.Get()
	if err != nil {
		return nil, err
	}
	matches := []WaypointLink{}
	for _, link := range current {
		if owner.owns(link) {
			matches = append(matches, link)
		}
	}
	return matches, nil
}

// Link records the association; linking twice is a no-op.
func (s *LinksStore) Link(ctx context.Context, waypointID string, owner LinkOwner) (WaypointLink, error) {
	waypointID = strings.TrimSpace(waypointID)
	if waypointID == "" {
		return WaypointLink{}, &ValidationError{Reason: "waypoint id is required"}
	}
	if err := owner.validate(); err != nil {
		return WaypointLink{}, err
	}
	link := WaypointLink{
		WaypointID: waypointID,
		NoteID:     strings.ToLower(strings.TrimSpace(owner.NoteID)),
		DraftID:    strings.TrimSpace(owner.DraftID),
		LinkedAt:   s.clock(),
	}
	_, err := s.slot.Update(ctx, func(current []WaypointLink) ([]WaypointLink, error) {
		for _, existing := range current {
			if existing.WaypointID == waypointID && owner.owns(existing) {
				link = existing
				return current, nil
			}
		}
		return append(slices.Clone(current), link), nil
	})
	if err != nil {
		return WaypointLink{}, err
	}
	return link, nil
}

func (s *LinksStore) Unlink(ctx context.Context, waypointID string, owner LinkOwner) error {
	if err := owner.validate(); err != nil {
		return err
	}
	return s.removeWhere(ctx, func(link WaypointLink) bool {
		return link.WaypointID == waypointID && owner.owns(link)
	})
}

// RemoveForWaypoint drops every link to a deleted waypoint.
func (s *LinksStore) RemoveForWaypoint(ctx context.Context, waypointID string) error {
	return s.removeWhere(ctx, func(link WaypointLink) bool {
		return link.WaypointID == waypointID
	})
}

func (s *LinksStore) RemoveForDraft(ctx context.Context, draftID string) error {
	return s.removeWhere(ctx, func(link WaypointLink) bool {
		return link.DraftID == draftID
	})
}

func (s *LinksStore) removeWhere(ctx context.Context, match func(WaypointLink) bool) error {
	_, err := s.slot.Update(ctx, func(current []WaypointLink) ([]WaypointLink, error) {
		return slices.DeleteFunc(slices.Clone(current), match), nil
	})
	return err
}

// RebindDraftToNote moves a draft's links onto the published note, skipping ones the note already has.
func (s *LinksStore) RebindDraftToNote(ctx context.Context, draftID, noteID string) (int, error) {
	owner := LinkOwner{NoteID: noteID}
	if err := owner.validate(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(draftID) == "" {
		return 0, &ValidationError{Reason: "draft id is required"}
	}
	noteID = strings.ToLower(strings.TrimSpace(noteID))
	moved := 0
	_, err := s.slot.Update(ctx, func(current []WaypointLink) ([]WaypointLink, error) {
		moved = 0
		existing := make(map[string]struct{})
		for _, link := range current {
			if owner.owns(link) {
				existing[link.WaypointID] = struct{}{}
			}
		}
		next := make([]WaypointLink, 0, len(current))
		for _, link := range current {
			if link.DraftID != draftID {
				next = append(next, link)
				continue
			}
			if _, duplicate := existing[link.WaypointID]; duplicate {
				continue
			}
			existing[link.WaypointID] = struct{}{}
			next = append(next, WaypointLink{WaypointID: link.WaypointID, NoteID: noteID, LinkedAt: link.LinkedAt})
			moved++
		}
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
