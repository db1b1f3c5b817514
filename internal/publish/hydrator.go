package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/chain"
	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errMissingHydratorDeps = errors.New("publish: hydrator requires notes reader, drafts and waypoints")

// NoteLocationReader exposes the on-chain location and routes of a note.
type NoteLocationReader interface {
	GetNoteLink(ctx context.Context, noteID string) (*notes.NoteLink, error)
	GetRoutesForNote(ctx context.Context, noteID string) ([]notes.WaypointGroup, error)
}

type DraftEditor interface {
	Get(id string) (localstore.Draft, error)
	Save(ctx context.Context, draft localstore.Draft) (localstore.Draft, error)
}

type WaypointResolver interface {
	FindByEntityID(entityID string) (localstore.Waypoint, error)
	Add(ctx context.Context, input localstore.WaypointInput) (localstore.Waypoint, error)
}

type HydratorConfig struct {
	Notes     NoteLocationReader
	Drafts    DraftEditor
	Waypoints WaypointResolver
	Logger    *zap.Logger
}

// Hydrator fills an edit draft with the location and route its note already has on chain.
type Hydrator struct {
	notes     NoteLocationReader
	drafts    DraftEditor
	waypoints WaypointResolver
	logger    *zap.Logger
}

func NewHydrator(cfg HydratorConfig) (*Hydrator, error) {
	if cfg.Notes == nil || cfg.Drafts == nil || cfg.Waypoints == nil {
		return nil, errMissingHydratorDeps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hydrator{notes: cfg.Notes, drafts: cfg.Drafts, waypoints: cfg.Waypoints, logger: logger}, nil
}

// Hydrate is best effort: indexer failures are logged and leave the draft as it was.
// Fields the author already set are never overwritten.
func (h *Hydrator) Hydrate(ctx context.Context, draftID string) (localstore.Draft, error) {
	draft, err := h.drafts.Get(draftID)
	if err != nil {
		return localstore.Draft{}, err
	}
	if draft.NoteID == "" {
		return draft, nil
	}
	needLocation := draft.SelectedWaypointID == ""
	needRoute := len(draft.RouteSteps) == 0
	if !needLocation && !needRoute {
		return draft, nil
	}

	var (
		link   *notes.NoteLink
		groups []notes.WaypointGroup
	)
	group, groupCtx := errgroup.WithContext(ctx)
	if needLocation {
		group.Go(func() error {
			found, err := h.notes.GetNoteLink(groupCtx, draft.NoteID)
			if err != nil {
				h.logger.Warn("loading note link for draft failed", zap.String("note_id", draft.NoteID), zap.Error(err))
				return nil
			}
			link = found
			return nil
		})
	}
	if needRoute {
		group.Go(func() error {
			found, err := h.notes.GetRoutesForNote(groupCtx, draft.NoteID)
			if err != nil {
				h.logger.Warn("loading note routes for draft failed", zap.String("note_id", draft.NoteID), zap.Error(err))
				return nil
			}
			groups = found
			return nil
		})
	}
	_ = group.Wait()

	changed := false
	if needLocation && link != nil {
		waypoint, err := h.ensureWaypoint(ctx, link.EntityID, link.X, link.Y, link.Z, locationName(draft))
		if err != nil {
			h.logger.Warn("materializing note location failed", zap.String("note_id", draft.NoteID), zap.Error(err))
		} else {
			draft.SelectedWaypointID = waypoint.ID
			changed = true
		}
	}
	if needRoute && len(groups) > 0 {
		steps, err := h.routeSteps(ctx, groups[0])
		if err != nil {
			h.logger.Warn("materializing note route failed", zap.String("note_id", draft.NoteID), zap.Error(err))
		} else if len(steps) > 0 {
			draft.RouteSteps = steps
			changed = true
		}
	}
	if !changed {
		return draft, nil
	}
	return h.drafts.Save(ctx, draft)
}

func (h *Hydrator) routeSteps(ctx context.Context, group notes.WaypointGroup) ([]localstore.RouteStep, error) {
	steps := make([]localstore.RouteStep, 0, len(group.Steps))
	for _, step := range group.Steps {
		entityID, err := chain.EntityIDForCoordinates(step.X, step.Y, step.Z)
		if err != nil {
			return nil, err
		}
		label := strings.TrimSpace(step.Label)
		name := label
		if name == "" {
			name = fmt.Sprintf("%s step %d", group.Name, step.Index)
		}
		waypoint, err := h.ensureWaypoint(ctx, entityID, step.X, step.Y, step.Z, name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, localstore.RouteStep{
			WaypointID: waypoint.ID,
			X:          step.X,
			Y:          step.Y,
			Z:          step.Z,
			Label:      label,
		})
	}
	return steps, nil
}

func (h *Hydrator) ensureWaypoint(ctx context.Context, entityID string, x, y, z int64, name string) (localstore.Waypoint, error) {
	existing, err := h.waypoints.FindByEntityID(entityID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return localstore.Waypoint{}, err
	}
	return h.waypoints.Add(ctx, localstore.WaypointInput{
		Name:     name,
		Category: "note",
		EntityID: entityID,
		X:        &x,
		Y:        &y,
		Z:        &z,
	})
}

func locationName(draft localstore.Draft) string {
	if title := strings.TrimSpace(draft.Title); title != "" {
		return title
	}
	return "Note location"
}
