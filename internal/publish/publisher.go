package publish

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/chain"
	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	defaultGroupName  = "Route"
	defaultGroupColor = "#f59e0b"
	firstStepIndex    = 1
)

// Positions of the fixed steps in a publish plan; route steps follow groupStep.
const (
	noteStep  = 0
	linkStep  = 1
	groupStep = 2
)

var (
	ErrLocationUnresolved = errors.New("publish: location has no usable coordinates")

	errMissingSubmitter = errors.New("publish: submitter is required")
	errMissingStores    = errors.New("publish: drafts, waypoints, links and notes stores are required")
	errTooManyGroups    = errors.New("publish: no free waypoint group id")
)

// StepError names the publish step that failed. Earlier steps stay applied on chain
// and the draft keeps the progress marker so a retry resumes at Index.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("publish: step %d (%s) failed: %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ProgressError reports a step that was applied on chain but whose marker could not be saved.
// The publisher holds the marker in memory, so a retry from this process resumes after Step.
type ProgressError struct {
	Step      string
	Completed int
	Err       error
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("publish: step %s applied but progress not recorded: %v", e.Step, e.Err)
}

func (e *ProgressError) Unwrap() error {
	return e.Err
}

type DraftStore interface {
	Get(id string) (localstore.Draft, error)
	SaveProgress(ctx context.Context, id string, progress localstore.PublishProgress) error
	Delete(ctx context.Context, id string) error
}

type WaypointReader interface {
	Get(id string) (localstore.Waypoint, error)
}

type LinkStore interface {
	Link(ctx context.Context, waypointID string, owner localstore.LinkOwner) (localstore.WaypointLink, error)
	RebindDraftToNote(ctx context.Context, draftID, noteID string) (int, error)
}

type NoteWriter interface {
	Upsert(ctx context.Context, note localstore.LocalNote) (localstore.LocalNote, error)
}

// RouteReader reads the groups already on chain for a note.
type RouteReader interface {
	GetRoutesForNote(ctx context.Context, noteID string) ([]notes.WaypointGroup, error)
}

type PublisherConfig struct {
	Submitter chain.Submitter
	Namespace string
	Drafts    DraftStore
	Waypoints WaypointReader
	Links     LinkStore
	Notes     NoteWriter
	Routes    RouteReader
	NoteIDs   notes.IDProvider
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Result summarizes a completed publish.
type Result struct {
	NoteID         string          `json:"noteId"`
	Created        bool            `json:"created"`
	StepsCompleted int             `json:"stepsCompleted"`
	Receipts       []chain.Receipt `json:"-"`
}

// Publisher runs the publish saga: note, link, then the optional route group and its steps.
// Each completed step is recorded on the draft before the next one starts.
type Publisher struct {
	submitter chain.Submitter
	systemID  common.Hash
	drafts    DraftStore
	waypoints WaypointReader
	links     LinkStore
	notes     NoteWriter
	routes    RouteReader
	noteIDs   notes.IDProvider
	clock     func() time.Time
	logger    *zap.Logger

	heldMu sync.Mutex
	held   map[string]localstore.PublishProgress
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Submitter == nil {
		return nil, errMissingSubmitter
	}
	if cfg.Drafts == nil || cfg.Waypoints == nil || cfg.Links == nil || cfg.Notes == nil {
		return nil, errMissingStores
	}
	systemID, err := chain.SystemID(cfg.Namespace, NoteSystemName)
	if err != nil {
		return nil, err
	}
	noteIDs := cfg.NoteIDs
	if noteIDs == nil {
		noteIDs = notes.NewRandomNoteIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		submitter: cfg.Submitter,
		systemID:  systemID,
		drafts:    cfg.Drafts,
		waypoints: cfg.Waypoints,
		links:     cfg.Links,
		notes:     cfg.Notes,
		routes:    cfg.Routes,
		noteIDs:   noteIDs,
		clock:     clock,
		logger:    logger,
		held:      make(map[string]localstore.PublishProgress),
	}, nil
}

type location struct {
	waypointID string
	entityID   string
	x, y, z    int32
}

type action struct {
	name string
	call chain.SystemCall
}

// Publish submits the draft's pending steps in order. On a StepError the draft is kept.
// Steps applied by an earlier attempt are submitted again when the draft changed since.
// On full success the local note is written, links move from the draft to the note and
// the draft is deleted.
func (p *Publisher) Publish(ctx context.Context, draftID, owner string) (Result, error) {
	draft, err := p.drafts.Get(draftID)
	if err != nil {
		return Result{}, err
	}
	if err := Ready(draft); err != nil {
		return Result{}, err
	}
	waypoint, err := p.waypoints.Get(draft.SelectedWaypointID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLocationRequired, err)
	}
	place, err := resolveLocation(waypoint)
	if err != nil {
		return Result{}, err
	}

	progress, err := p.startProgress(ctx, draft)
	if err != nil {
		return Result{}, err
	}
	actions, err := p.plan(draft, place, progress)
	if err != nil {
		return Result{}, err
	}
	marks := fingerprintDraft(draft, place, progress.GroupID)

	result := Result{NoteID: progress.NoteID, Created: draft.NoteID == ""}
	for _, step := range pendingSteps(actions, progress, marks) {
		receipt, err := p.submitter.SystemCall(ctx, step.action.call)
		if err != nil {
			p.logger.Warn("publish step failed",
				zap.String("draft_id", draft.ID),
				zap.String("note_id", progress.NoteID),
				zap.String("step", step.action.name),
				zap.Int("index", step.index),
				zap.Error(err))
			result.StepsCompleted = progress.CompletedSteps
			return result, &StepError{Step: step.action.name, Index: step.index, Err: err}
		}
		result.Receipts = append(result.Receipts, receipt)
		if err := p.record(ctx, draft.ID, &progress, step, marks); err != nil {
			result.StepsCompleted = progress.CompletedSteps
			return result, err
		}
		if step.index == noteStep {
			p.mirrorNote(ctx, draft, progress.NoteID, owner, place)
		}
	}
	result.StepsCompleted = progress.CompletedSteps

	p.mirrorNote(ctx, draft, progress.NoteID, owner, place)
	if _, err := p.links.Link(ctx, place.waypointID, localstore.LinkOwner{NoteID: progress.NoteID}); err != nil {
		p.logger.Warn("linking published note to its location failed", zap.String("note_id", progress.NoteID), zap.Error(err))
	}
	if _, err := p.links.RebindDraftToNote(ctx, draft.ID, progress.NoteID); err != nil {
		p.logger.Warn("moving draft links to note failed", zap.String("note_id", progress.NoteID), zap.Error(err))
	}
	if err := p.drafts.Delete(ctx, draft.ID); err != nil {
		return result, err
	}
	p.logger.Info("note published",
		zap.String("note_id", progress.NoteID),
		zap.Bool("created", result.Created),
		zap.Int("steps", result.StepsCompleted))
	return result, nil
}

type pendingStep struct {
	index  int
	action action
}

// fingerprints identify what each part of the plan submitted: the note fields, the link
// location and the route.
type fingerprints struct {
	note  string
	link  string
	route string
}

func fingerprintDraft(draft localstore.Draft, place location, groupID int64) fingerprints {
	var route strings.Builder
	fmt.Fprintf(&route, "%d", groupID)
	for _, step := range draft.RouteSteps {
		fmt.Fprintf(&route, "|%d,%d,%d,%q", step.X, step.Y, step.Z, strings.TrimSpace(step.Label))
	}
	return fingerprints{
		note:  digest(fmt.Sprintf("%q|%q|%q|%q", draft.Title, draft.Content, strings.Join(draft.Tags, "\x00"), draft.HeaderImageURL)),
		link:  digest(fmt.Sprintf("%s|%d,%d,%d", place.entityID, place.x, place.y, place.z)),
		route: digest(route.String()),
	}
}

func digest(value string) string {
	return crypto.Keccak256Hash([]byte(value)).Hex()
}

// pendingSteps lists what is left to submit. An applied note whose fields changed is sent
// again as updateNote, a stale link is sent again, and a changed route restarts at its first step.
func pendingSteps(actions []action, progress localstore.PublishProgress, marks fingerprints) []pendingStep {
	var pending []pendingStep
	start := progress.CompletedSteps
	if start > noteStep && progress.NoteHash != marks.note {
		update := actions[noteStep]
		update.name = fnUpdateNote
		update.call.FunctionName = fnUpdateNote
		pending = append(pending, pendingStep{index: noteStep, action: update})
	}
	if start > linkStep && progress.LinkHash != marks.link {
		pending = append(pending, pendingStep{index: linkStep, action: actions[linkStep]})
	}
	if start > groupStep+1 && progress.RouteHash != marks.route {
		start = groupStep + 1
	}
	for index := start; index < len(actions); index++ {
		pending = append(pending, pendingStep{index: index, action: actions[index]})
	}
	return pending
}

// record advances the marker past step and saves it. Route steps run in order, so a route
// step sets the count; a resubmitted note or link never moves it back.
func (p *Publisher) record(ctx context.Context, draftID string, progress *localstore.PublishProgress, step pendingStep, marks fingerprints) error {
	switch step.index {
	case noteStep:
		progress.NoteHash = marks.note
		progress.CompletedSteps = max(progress.CompletedSteps, step.index+1)
	case linkStep:
		progress.LinkHash = marks.link
		progress.CompletedSteps = max(progress.CompletedSteps, step.index+1)
	default:
		progress.RouteHash = marks.route
		progress.CompletedSteps = step.index + 1
	}
	progress.LastStep = step.action.name
	if err := p.drafts.SaveProgress(ctx, draftID, *progress); err != nil {
		p.hold(draftID, *progress)
		p.logger.Error("publish progress not recorded",
			zap.String("draft_id", draftID),
			zap.String("step", step.action.name),
			zap.Int("completed", progress.CompletedSteps),
			zap.Error(err))
		return &ProgressError{Step: step.action.name, Completed: progress.CompletedSteps, Err: err}
	}
	p.release(draftID)
	return nil
}

func (p *Publisher) hold(draftID string, progress localstore.PublishProgress) {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	p.held[draftID] = progress
}

func (p *Publisher) release(draftID string) {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	delete(p.held, draftID)
}

func (p *Publisher) heldProgress(draftID string) (localstore.PublishProgress, bool) {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	progress, ok := p.held[draftID]
	return progress, ok
}

// startProgress resumes the draft's saga marker or starts one. The fresh marker is
// persisted before any transaction so a retry reuses the same note id.
func (p *Publisher) startProgress(ctx context.Context, draft localstore.Draft) (localstore.PublishProgress, error) {
	progress := localstore.PublishProgress{}
	if draft.Progress != nil && draft.Progress.NoteID != "" {
		progress = *draft.Progress
	}
	dirty := false
	if held, ok := p.heldProgress(draft.ID); ok && held.CompletedSteps >= progress.CompletedSteps {
		progress = held
		dirty = true
	}
	if progress.NoteID == "" {
		noteID := draft.NoteID
		if noteID == "" {
			generated, err := p.noteIDs.NewID()
			if err != nil {
				return localstore.PublishProgress{}, err
			}
			noteID = generated
		}
		normalized, err := notes.NewNoteID(noteID)
		if err != nil {
			return localstore.PublishProgress{}, err
		}
		progress.NoteID = normalized.String()
		dirty = true
	}
	if len(draft.RouteSteps) > 0 && progress.GroupID == 0 {
		groupID, err := p.nextGroupID(ctx, progress.NoteID, draft.NoteID != "")
		if err != nil {
			return localstore.PublishProgress{}, err
		}
		progress.GroupID = groupID
		dirty = true
	}
	if dirty {
		if err := p.drafts.SaveProgress(ctx, draft.ID, progress); err != nil {
			return localstore.PublishProgress{}, err
		}
		p.release(draft.ID)
	}
	return progress, nil
}

// nextGroupID is 1 for new notes; for edits it follows the highest group already on chain.
func (p *Publisher) nextGroupID(ctx context.Context, noteID string, existing bool) (int64, error) {
	if !existing || p.routes == nil {
		return 1, nil
	}
	groups, err := p.routes.GetRoutesForNote(ctx, noteID)
	if err != nil {
		p.logger.Warn("reading existing route groups failed", zap.String("note_id", noteID), zap.Error(err))
		return 1, nil
	}
	var highest int64
	for _, group := range groups {
		highest = max(highest, group.GroupID)
	}
	if highest >= math.MaxUint16 {
		return 0, errTooManyGroups
	}
	return highest + 1, nil
}

func (p *Publisher) plan(draft localstore.Draft, place location, progress localstore.PublishProgress) ([]action, error) {
	noteKey := [32]byte(common.HexToHash(progress.NoteID))
	entityKey := [32]byte(common.HexToHash(place.entityID))
	tags := draft.Tags
	if tags == nil {
		tags = []string{}
	}

	noteFunction := fnCreateNote
	if draft.NoteID != "" {
		noteFunction = fnUpdateNote
	}
	actions := []action{
		p.action(noteFunction, noteKey, draft.Title, draft.Content, tags, draft.HeaderImageURL),
		p.action(fnCreateNoteLink, noteKey, entityKey, place.x, place.y, place.z),
	}
	if len(draft.RouteSteps) == 0 {
		return actions, nil
	}

	groupID := uint16(progress.GroupID)
	actions = append(actions, p.action(fnCreateWaypointGroup, noteKey, groupID, defaultGroupName, defaultGroupColor, true))
	for offset, step := range draft.RouteSteps {
		x, y, z, err := toInt32Coordinates(step.X, step.Y, step.Z)
		if err != nil {
			return nil, fmt.Errorf("route step %d: %w", offset+firstStepIndex, err)
		}
		index := uint16(offset + firstStepIndex)
		actions = append(actions, p.action(fnAddWaypointStep, noteKey, groupID, index, x, y, z, strings.TrimSpace(step.Label)))
	}
	return actions, nil
}

func (p *Publisher) action(functionName string, args ...any) action {
	return action{
		name: functionName,
		call: chain.SystemCall{
			SystemID:     p.systemID,
			ABI:          noteSystemABI,
			FunctionName: functionName,
			Args:         args,
		},
	}
}

// mirrorNote keeps a local non-draft copy so the note shows up before the indexer catches up.
func (p *Publisher) mirrorNote(ctx context.Context, draft localstore.Draft, noteID, owner string, place location) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	_, err := p.notes.Upsert(ctx, localstore.LocalNote{
		ID:             noteID,
		Owner:          owner,
		TipJar:         owner,
		Title:          draft.Title,
		Content:        draft.Content,
		Tags:           draft.Tags,
		HeaderImageURL: draft.HeaderImageURL,
		EntityID:       place.entityID,
		UpdatedAt:      p.clock().Unix(),
	})
	if err != nil {
		p.logger.Warn("mirroring published note locally failed", zap.String("note_id", noteID), zap.Error(err))
	}
}

func resolveLocation(waypoint localstore.Waypoint) (location, error) {
	entityID, err := notes.NewEntityID(waypoint.EntityID)
	if err != nil {
		return location{}, fmt.Errorf("%w: %v", ErrLocationUnresolved, err)
	}
	x, y, z, ok := waypoint.Coordinates()
	if !ok {
		x, y, z, ok = chain.DecodeBlockEntityID(entityID.String())
	}
	if !ok {
		return location{}, ErrLocationUnresolved
	}
	cx, cy, cz, err := toInt32Coordinates(x, y, z)
	if err != nil {
		return location{}, fmt.Errorf("%w: %v", ErrLocationUnresolved, err)
	}
	return location{waypointID: waypoint.ID, entityID: entityID.String(), x: cx, y: cy, z: cz}, nil
}

func toInt32Coordinates(x, y, z int64) (int32, int32, int32, error) {
	for _, value := range []int64{x, y, z} {
		if value < math.MinInt32 || value > math.MaxInt32 {
			return 0, 0, 0, chain.ErrCoordinateRange
		}
	}
	return int32(x), int32(y), int32(z), nil
}
