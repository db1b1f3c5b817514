package reconcile

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStep        = 8
	defaultConcurrency = 8
	maxScanCells       = 4096

	entityTagPrefix   = "entity:"
	waypointTagPrefix = "waypoint:"

	SourceForceField = "force_field"
	SourceWaypoint   = "waypoint"
)

var (
	ErrScanTooLarge      = errors.New("reconcile: scan covers too many cells")
	errMissingProvider   = errors.New("reconcile: spatial provider is required")
	errMissingNoteSource = errors.New("reconcile: local note source is required")
)

// Position is an integer block position.
type Position struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

func (p Position) distanceTo(x, y, z int64) float64 {
	dx := float64(x - p.X)
	dy := float64(y - p.Y)
	dz := float64(z - p.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ForceField is a live world entity found at a grid cell.
type ForceField struct {
	EntityID string
	X, Y, Z  int64
}

// SpatialProvider answers what entity, if any, covers a block.
type SpatialProvider interface {
	ForceFieldAt(ctx context.Context, x, y, z int64) (*ForceField, error)
}

type NoteSource interface {
	List() ([]localstore.LocalNote, error)
}

type WaypointSource interface {
	List() ([]localstore.Waypoint, error)
}

type LinkSource interface {
	List() ([]localstore.WaypointLink, error)
}

// NearbyHit is one local note associated with an entity near the player.
type NearbyHit struct {
	Note     localstore.LocalNote `json:"note"`
	EntityID string               `json:"entityId"`
	Source   string               `json:"source"`
	X        int64                `json:"x"`
	Y        int64                `json:"y"`
	Z        int64                `json:"z"`
	Distance float64              `json:"distance"`
}

type ScannerConfig struct {
	Provider    SpatialProvider
	Notes       NoteSource
	Waypoints   WaypointSource
	Links       LinkSource
	Step        int64
	Concurrency int
	Logger      *zap.Logger
}

// NearbyScanner probes a 3-D grid around the player. Cost is one provider call per cell,
// so callers must bound how often Scan runs.
type NearbyScanner struct {
	provider    SpatialProvider
	notes       NoteSource
	waypoints   WaypointSource
	links       LinkSource
	step        int64
	concurrency int
	logger      *zap.Logger
}

func NewNearbyScanner(cfg ScannerConfig) (*NearbyScanner, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	if cfg.Notes == nil {
		return nil, errMissingNoteSource
	}
	step := cfg.Step
	if step <= 0 {
		step = defaultStep
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NearbyScanner{
		provider:    cfg.Provider,
		notes:       cfg.Notes,
		waypoints:   cfg.Waypoints,
		links:       cfg.Links,
		step:        step,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (s *NearbyScanner) cells(position Position, radius int64) ([]Position, error) {
	if radius < 0 {
		radius = -radius
	}
	perAxis := 2*radius/s.step + 1
	if perAxis*perAxis*perAxis > maxScanCells {
		return nil, ErrScanTooLarge
	}
	cells := make([]Position, 0, perAxis*perAxis*perAxis)
	for x := position.X - radius; x <= position.X+radius; x += s.step {
		for y := position.Y - radius; y <= position.Y+radius; y += s.step {
			for z := position.Z - radius; z <= position.Z+radius; z += s.step {
				cells = append(cells, Position{X: x, Y: y, Z: z})
			}
		}
	}
	return cells, nil
}

// Scan returns local notes tied to entities within radius of position, deduplicated by
// note id (first occurrence wins) and sorted by ascending distance.
func (s *NearbyScanner) Scan(ctx context.Context, position Position, radius int64) ([]NearbyHit, error) {
	cells, err := s.cells(position, radius)
	if err != nil {
		return nil, err
	}
	fields, err := s.probe(ctx, cells)
	if err != nil {
		return nil, err
	}

	localNotes, err := s.notes.List()
	if err != nil {
		return nil, err
	}

	var hits []NearbyHit
	for _, field := range fields {
		for _, note := range localNotes {
			if referencesEntity(note, field.EntityID) {
				hits = append(hits, NearbyHit{
					Note:     note,
					EntityID: field.EntityID,
					Source:   SourceForceField,
					X:        field.X,
					Y:        field.Y,
					Z:        field.Z,
					Distance: position.distanceTo(field.X, field.Y, field.Z),
				})
			}
		}
	}

	waypointHits, err := s.waypointHits(position, radius, localNotes)
	if err != nil {
		s.logger.Warn("nearby waypoint association failed", zap.Error(err))
	}
	hits = append(hits, waypointHits...)

	return dedupeByNote(hits), nil
}

// probe queries every cell with bounded parallelism. A failing cell is logged and skipped.
func (s *NearbyScanner) probe(ctx context.Context, cells []Position) ([]ForceField, error) {
	found := make([]*ForceField, len(cells))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for index, cell := range cells {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			field, err := s.provider.ForceFieldAt(groupCtx, cell.X, cell.Y, cell.Z)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				s.logger.Warn("force field probe failed",
					zap.Int64("x", cell.X), zap.Int64("y", cell.Y), zap.Int64("z", cell.Z), zap.Error(err))
				return nil
			}
			found[index] = field
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	fields := make([]ForceField, 0)
	for _, field := range found {
		if field == nil || field.EntityID == "" {
			continue
		}
		key := strings.ToLower(field.EntityID)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		fields = append(fields, *field)
	}
	return fields, nil
}

func (s *NearbyScanner) waypointHits(position Position, radius int64, localNotes []localstore.LocalNote) ([]NearbyHit, error) {
	if s.waypoints == nil {
		return nil, nil
	}
	waypoints, err := s.waypoints.List()
	if err != nil {
		return nil, err
	}
	var links []localstore.WaypointLink
	if s.links != nil {
		if links, err = s.links.List(); err != nil {
			return nil, err
		}
	}

	var hits []NearbyHit
	for _, waypoint := range waypoints {
		x, y, z, ok := waypoint.Coordinates()
		if !ok || !withinBox(position, radius, x, y, z) {
			continue
		}
		for _, note := range localNotes {
			if !referencesWaypoint(note, waypoint, links) {
				continue
			}
			hits = append(hits, NearbyHit{
				Note:     note,
				EntityID: waypoint.EntityID,
				Source:   SourceWaypoint,
				X:        x,
				Y:        y,
				Z:        z,
				Distance: position.distanceTo(x, y, z),
			})
		}
	}
	return hits, nil
}

func withinBox(position Position, radius, x, y, z int64) bool {
	if radius < 0 {
		radius = -radius
	}
	return x >= position.X-radius && x <= position.X+radius &&
		y >= position.Y-radius && y <= position.Y+radius &&
		z >= position.Z-radius && z <= position.Z+radius
}

// referencesEntity matches a direct entity backlink or an "entity:<id>" tag.
func referencesEntity(note localstore.LocalNote, entityID string) bool {
	if strings.EqualFold(note.EntityID, entityID) {
		return true
	}
	return hasTag(note, entityTagPrefix+entityID)
}

func referencesWaypoint(note localstore.LocalNote, waypoint localstore.Waypoint, links []localstore.WaypointLink) bool {
	if referencesEntity(note, waypoint.EntityID) || hasTag(note, waypointTagPrefix+waypoint.ID) {
		return true
	}
	if waypoint.EntityID != "" && strings.Contains(strings.ToLower(note.Content), strings.ToLower(waypoint.EntityID)) {
		return true
	}
	for _, link := range links {
		if link.WaypointID == waypoint.ID && link.NoteID != "" && strings.EqualFold(link.NoteID, note.ID) {
			return true
		}
	}
	return false
}

func hasTag(note localstore.LocalNote, wanted string) bool {
	for _, tag := range note.Tags {
		if strings.EqualFold(strings.TrimSpace(tag), wanted) {
			return true
		}
	}
	return false
}

func dedupeByNote(hits []NearbyHit) []NearbyHit {
	seen := make(map[string]struct{}, len(hits))
	unique := make([]NearbyHit, 0, len(hits))
	for _, hit := range hits {
		key := strings.ToLower(hit.Note.ID)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, hit)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Distance < unique[j].Distance
	})
	return unique
}
