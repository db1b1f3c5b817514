package publish

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/chain"
	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testNamespace = "dailydust"
	testOwner     = "0x00000000000000000000000000000000000000aa"
	spawnID       = "landmark-spawn"
)

var (
	testNow    = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	fixedNote  = "0x" + strings.Repeat("ab", 32)
	editedNote = "0x" + strings.Repeat("cd", 32)
)

type recordingSubmitter struct {
	mu       sync.Mutex
	calls    []chain.SystemCall
	failOn   map[string]error
	failWhen func(call chain.SystemCall) error
}

func (s *recordingSubmitter) SystemCall(_ context.Context, call chain.SystemCall) (chain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[call.FunctionName]; err != nil {
		return chain.Receipt{Status: "reverted"}, err
	}
	if s.failWhen != nil {
		if err := s.failWhen(call); err != nil {
			return chain.Receipt{Status: "reverted"}, err
		}
	}
	s.calls = append(s.calls, call)
	return chain.Receipt{TransactionHash: "0x01", Status: "success"}, nil
}

func (s *recordingSubmitter) functionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.calls))
	for _, call := range s.calls {
		names = append(names, call.FunctionName)
	}
	return names
}

type fixedIDs struct {
	value string
}

func (f fixedIDs) NewID() (string, error) {
	return f.value, nil
}

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return "local-" + strconv.Itoa(c.next), nil
}

type routeStub struct {
	groups []notes.WaypointGroup
	link   *notes.NoteLink
	err    error
}

func (r routeStub) GetRoutesForNote(context.Context, string) ([]notes.WaypointGroup, error) {
	return r.groups, r.err
}

func (r routeStub) GetNoteLink(context.Context, string) (*notes.NoteLink, error) {
	return r.link, r.err
}

type fixture struct {
	drafts    *localstore.DraftsStore
	waypoints *localstore.WaypointsStore
	links     *localstore.LinksStore
	notes     *localstore.NotesStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	cfg := localstore.Config{
		Backend: storage.NewMemoryBackend(),
		IDs:     &counterIDs{},
		Clock:   func() time.Time { return testNow },
	}
	drafts, err := localstore.NewDraftsStore(cfg)
	if err != nil {
		t.Fatalf("drafts store: %v", err)
	}
	waypoints, err := localstore.NewWaypointsStore(cfg)
	if err != nil {
		t.Fatalf("waypoints store: %v", err)
	}
	links, err := localstore.NewLinksStore(cfg)
	if err != nil {
		t.Fatalf("links store: %v", err)
	}
	notesStore, err := localstore.NewNotesStore(cfg)
	if err != nil {
		t.Fatalf("notes store: %v", err)
	}
	for _, load := range []func(context.Context) error{drafts.Load, waypoints.Load, links.Load, notesStore.Load} {
		if err := load(ctx); err != nil {
			t.Fatalf("load failed: %v", err)
		}
	}
	return fixture{drafts: drafts, waypoints: waypoints, links: links, notes: notesStore}
}

func (f fixture) publisher(t *testing.T, submitter chain.Submitter, routes RouteReader, logger *zap.Logger) *Publisher {
	t.Helper()
	publisher, err := NewPublisher(PublisherConfig{
		Submitter: submitter,
		Namespace: testNamespace,
		Drafts:    f.drafts,
		Waypoints: f.waypoints,
		Links:     f.links,
		Notes:     f.notes,
		Routes:    routes,
		NoteIDs:   fixedIDs{value: fixedNote},
		Clock:     func() time.Time { return testNow },
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to build publisher: %v", err)
	}
	return publisher
}

func (f fixture) routedDraft(t *testing.T) localstore.Draft {
	t.Helper()
	ctx := context.Background()
	draft, err := f.drafts.Create(ctx, localstore.Draft{
		Title:              "Lighthouse hunt",
		Content:            "Follow the shore north.",
		Tags:               []string{"quest"},
		SelectedWaypointID: spawnID,
		RouteSteps: []localstore.RouteStep{
			{WaypointID: "landmark-lighthouse", X: 120, Y: 80, Z: -640, Label: "Beacon"},
			{WaypointID: "landmark-market", X: 512, Y: 40, Z: 512},
		},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := f.links.Link(ctx, "landmark-caves", localstore.LinkOwner{DraftID: draft.ID}); err != nil {
		t.Fatalf("link draft: %v", err)
	}
	return draft
}

func TestPublishSubmitsStepsInOrder(t *testing.T) {
	f := newFixture(t)
	submitter := &recordingSubmitter{}
	draft := f.routedDraft(t)

	result, err := f.publisher(t, submitter, nil, nil).Publish(context.Background(), draft.ID, testOwner)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if result.NoteID != fixedNote || !result.Created || result.StepsCompleted != 5 {
		t.Fatalf("unexpected result %#v", result)
	}

	expected := []string{"createNote", "createNoteLink", "createWaypointGroup", "addWaypointStep", "addWaypointStep"}
	got := submitter.functionNames()
	if strings.Join(got, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected calls %v, got %v", expected, got)
	}

	systemID, _ := chain.SystemID(testNamespace, NoteSystemName)
	link := submitter.calls[1]
	if link.SystemID != systemID {
		t.Fatalf("expected system id %s, got %s", systemID.Hex(), link.SystemID.Hex())
	}
	spawnEntity := chain.BlockEntityID(0, 64, 0)
	if link.Args[1].([32]byte) != [32]byte(spawnEntity) || link.Args[3].(int32) != 64 {
		t.Fatalf("unexpected link args %#v", link.Args)
	}
	group := submitter.calls[2]
	if group.Args[1].(uint16) != 1 {
		t.Fatalf("expected first group id 1, got %v", group.Args[1])
	}
	for offset, call := range submitter.calls[3:] {
		if call.Args[2].(uint16) != uint16(offset+1) {
			t.Fatalf("expected step index %d, got %v", offset+1, call.Args[2])
		}
	}
	if submitter.calls[3].Args[6].(string) != "Beacon" || submitter.calls[3].Args[5].(int32) != -640 {
		t.Fatalf("unexpected first step args %#v", submitter.calls[3].Args)
	}

	if _, err := f.drafts.Get(draft.ID); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected draft deleted, got %v", err)
	}
	note, err := f.notes.Get(fixedNote)
	if err != nil {
		t.Fatalf("expected local note: %v", err)
	}
	if note.IsDraft || note.EntityID != strings.ToLower(spawnEntity.Hex()) || note.Owner != testOwner {
		t.Fatalf("unexpected local note %#v", note)
	}
	noteLinks, err := f.links.ForNote(fixedNote)
	if err != nil {
		t.Fatalf("links for note: %v", err)
	}
	if len(noteLinks) != 2 {
		t.Fatalf("expected location and rebound draft link, got %#v", noteLinks)
	}
	if draftLinks, _ := f.links.ForDraft(draft.ID); len(draftLinks) != 0 {
		t.Fatalf("expected draft links moved, got %#v", draftLinks)
	}
}

func TestPublishFailureKeepsDraftAndResumes(t *testing.T) {
	f := newFixture(t)
	reverted := errors.New("GroupExists: 1")
	submitter := &recordingSubmitter{failOn: map[string]error{"createWaypointGroup": reverted}}
	core, logs := observer.New(zapcore.WarnLevel)
	publisher := f.publisher(t, submitter, nil, zap.New(core))
	draft := f.routedDraft(t)

	_, err := publisher.Publish(context.Background(), draft.ID, testOwner)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "createWaypointGroup" || stepErr.Index != 2 || !errors.Is(err, reverted) {
		t.Fatalf("unexpected step error %#v", stepErr)
	}
	if logs.FilterMessage("publish step failed").Len() != 1 {
		t.Fatalf("expected failure logged")
	}

	kept, err := f.drafts.Get(draft.ID)
	if err != nil {
		t.Fatalf("expected draft kept: %v", err)
	}
	if kept.Progress == nil || kept.Progress.CompletedSteps != 2 || kept.Progress.NoteID != fixedNote || kept.Progress.GroupID != 1 {
		t.Fatalf("unexpected progress %#v", kept.Progress)
	}
	if _, err := f.notes.Get(fixedNote); err != nil {
		t.Fatalf("expected the created note mirrored locally: %v", err)
	}
	for _, name := range submitter.functionNames() {
		if name == "addWaypointStep" {
			t.Fatalf("no step may be submitted after the group failed")
		}
	}

	submitter.failOn = nil
	result, err := publisher.Publish(context.Background(), draft.ID, testOwner)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	expected := "createNote,createNoteLink,createWaypointGroup,addWaypointStep,addWaypointStep"
	if got := strings.Join(submitter.functionNames(), ","); got != expected {
		t.Fatalf("expected resumed calls %s, got %s", expected, got)
	}
	if result.NoteID != fixedNote || len(result.Receipts) != 3 {
		t.Fatalf("unexpected resume result %#v", result)
	}
	if _, err := f.drafts.Get(draft.ID); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected draft deleted after resume")
	}
}

func TestPublishEditUsesUpdateAndNextGroup(t *testing.T) {
	f := newFixture(t)
	submitter := &recordingSubmitter{}
	routes := routeStub{groups: []notes.WaypointGroup{{GroupID: 1}, {GroupID: 3}}}
	draft, err := f.drafts.Create(context.Background(), localstore.Draft{
		NoteID:             editedNote,
		Title:              "Edited",
		Content:            "Body",
		SelectedWaypointID: spawnID,
		RouteSteps:         []localstore.RouteStep{{X: 1, Y: 2, Z: 3}},
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	result, err := f.publisher(t, submitter, routes, nil).Publish(context.Background(), draft.ID, testOwner)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if result.Created || result.NoteID != editedNote {
		t.Fatalf("unexpected result %#v", result)
	}
	if submitter.calls[0].FunctionName != "updateNote" {
		t.Fatalf("expected updateNote, got %s", submitter.calls[0].FunctionName)
	}
	if submitter.calls[2].Args[1].(uint16) != 4 {
		t.Fatalf("expected group id 4, got %v", submitter.calls[2].Args[1])
	}
}

func TestPublishRejectsIncompleteDraft(t *testing.T) {
	testCases := []struct {
		name     string
		draft    localstore.Draft
		expected error
	}{
		{name: "missing content", draft: localstore.Draft{Title: "T", SelectedWaypointID: spawnID}, expected: ErrContentIncomplete},
		{name: "missing location", draft: localstore.Draft{Title: "T", Content: "C"}, expected: ErrLocationRequired},
		{name: "unknown location", draft: localstore.Draft{Title: "T", Content: "C", SelectedWaypointID: "gone"}, expected: ErrLocationRequired},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			f := newFixture(t)
			submitter := &recordingSubmitter{}
			draft, err := f.drafts.Create(context.Background(), testCase.draft)
			if err != nil {
				t.Fatalf("create draft: %v", err)
			}
			_, err = f.publisher(t, submitter, nil, nil).Publish(context.Background(), draft.ID, testOwner)
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			if len(submitter.functionNames()) != 0 {
				t.Fatalf("expected no chain calls")
			}
		})
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Fatalf("expected missing submitter error")
	}
	f := newFixture(t)
	_, err := NewPublisher(PublisherConfig{
		Submitter: &recordingSubmitter{},
		Namespace: strings.Repeat("n", 20),
		Drafts:    f.drafts,
		Waypoints: f.waypoints,
		Links:     f.links,
		Notes:     f.notes,
	})
	if !errors.Is(err, chain.ErrNamespaceTooLong) {
		t.Fatalf("expected namespace error, got %v", err)
	}
}

func TestWizardGates(t *testing.T) {
	wizard := NewWizard()
	draft := localstore.Draft{}
	if err := wizard.Advance(draft); !errors.Is(err, ErrContentIncomplete) || wizard.Stage() != StageContent {
		t.Fatalf("expected content gate, got %v at %s", err, wizard.Stage())
	}
	draft.Title, draft.Content = "Title", "Body"
	if err := wizard.Advance(draft); err != nil || wizard.Stage() != StageLocation {
		t.Fatalf("expected location stage, got %v at %s", err, wizard.Stage())
	}
	if err := wizard.Advance(draft); !errors.Is(err, ErrLocationRequired) {
		t.Fatalf("expected location gate, got %v", err)
	}
	draft.SelectedWaypointID = spawnID
	if err := wizard.Advance(draft); err != nil || wizard.Stage() != StageRoute {
		t.Fatalf("expected route stage, got %v at %s", err, wizard.Stage())
	}
	if err := wizard.Advance(draft); err != nil || wizard.Stage() != StageRoute {
		t.Fatalf("route stage is final")
	}
	wizard.Back()
	if wizard.Stage().String() != "location" {
		t.Fatalf("expected back to location, got %s", wizard.Stage())
	}
}

func TestHydratorFillsLocationAndRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entity := "0x" + strings.Repeat("0e", 32)
	reader := routeStub{
		link: &notes.NoteLink{NoteID: notes.NoteID(editedNote), EntityID: entity, X: 7, Y: 8, Z: 9},
		groups: []notes.WaypointGroup{{
			GroupID: 1,
			Name:    "Tour",
			Steps: []notes.WaypointStep{
				{Index: 1, X: 0, Y: 64, Z: 0, Label: "Start"},
				{Index: 2, X: 10, Y: 20, Z: 30},
			},
		}},
	}
	draft, err := f.drafts.CreateFromNote(ctx, localstore.LocalNote{ID: editedNote, Title: "Tour note", Content: "Body"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	hydrator, err := NewHydrator(HydratorConfig{Notes: reader, Drafts: f.drafts, Waypoints: f.waypoints})
	if err != nil {
		t.Fatalf("failed to build hydrator: %v", err)
	}

	hydrated, err := hydrator.Hydrate(ctx, draft.ID)
	if err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	location, err := f.waypoints.Get(hydrated.SelectedWaypointID)
	if err != nil || location.EntityID != entity || location.Name != "Tour note" {
		t.Fatalf("unexpected location waypoint %#v err=%v", location, err)
	}
	if len(hydrated.RouteSteps) != 2 {
		t.Fatalf("expected two route steps, got %#v", hydrated.RouteSteps)
	}
	if hydrated.RouteSteps[0].WaypointID != spawnID || hydrated.RouteSteps[0].Label != "Start" {
		t.Fatalf("expected the spawn landmark reused, got %#v", hydrated.RouteSteps[0])
	}
	second, err := f.waypoints.Get(hydrated.RouteSteps[1].WaypointID)
	if err != nil || second.Name != "Tour step 2" {
		t.Fatalf("unexpected materialized step waypoint %#v err=%v", second, err)
	}
}

func TestHydratorToleratesIndexerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	reader := routeStub{err: errors.New("indexer down")}
	draft, err := f.drafts.CreateFromNote(ctx, localstore.LocalNote{ID: editedNote, Title: "T", Content: "C"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	hydrator, err := NewHydrator(HydratorConfig{Notes: reader, Drafts: f.drafts, Waypoints: f.waypoints, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to build hydrator: %v", err)
	}

	hydrated, err := hydrator.Hydrate(ctx, draft.ID)
	if err != nil {
		t.Fatalf("expected best effort hydrate, got %v", err)
	}
	if hydrated.SelectedWaypointID != "" || len(hydrated.RouteSteps) != 0 {
		t.Fatalf("expected draft untouched, got %#v", hydrated)
	}
	if logs.Len() != 2 {
		t.Fatalf("expected both failures logged, got %d", logs.Len())
	}
}

func TestPublishResubmitsNoteEditedAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitter := &recordingSubmitter{failOn: map[string]error{"createNoteLink": errors.New("LinkExists")}}
	publisher := f.publisher(t, submitter, nil, nil)
	draft := f.routedDraft(t)

	if _, err := publisher.Publish(ctx, draft.ID, testOwner); err == nil {
		t.Fatalf("expected the link step to fail")
	}
	kept, err := f.drafts.Get(draft.ID)
	if err != nil {
		t.Fatalf("expected draft kept: %v", err)
	}
	kept.Title = "Corrected title"
	if _, err := f.drafts.Save(ctx, kept); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	submitter.failOn = nil
	if _, err := publisher.Publish(ctx, draft.ID, testOwner); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	expected := "createNote,updateNote,createNoteLink,createWaypointGroup,addWaypointStep,addWaypointStep"
	if got := strings.Join(submitter.functionNames(), ","); got != expected {
		t.Fatalf("expected calls %s, got %s", expected, got)
	}
	update := submitter.calls[1]
	if update.Args[0].([32]byte) != submitter.calls[0].Args[0].([32]byte) || update.Args[1].(string) != "Corrected title" {
		t.Fatalf("expected the corrected title sent for the same note, got %#v", update.Args)
	}
	note, err := f.notes.Get(fixedNote)
	if err != nil || note.Title != "Corrected title" {
		t.Fatalf("expected local note to carry the correction, got %#v err=%v", note, err)
	}
}

func TestPublishUnchangedDraftResumesWithoutResubmitting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitter := &recordingSubmitter{failOn: map[string]error{"createNoteLink": errors.New("LinkExists")}}
	publisher := f.publisher(t, submitter, nil, nil)
	draft := f.routedDraft(t)

	if _, err := publisher.Publish(ctx, draft.ID, testOwner); err == nil {
		t.Fatalf("expected the link step to fail")
	}
	submitter.failOn = nil
	if _, err := publisher.Publish(ctx, draft.ID, testOwner); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	expected := "createNote,createNoteLink,createWaypointGroup,addWaypointStep,addWaypointStep"
	if got := strings.Join(submitter.functionNames(), ","); got != expected {
		t.Fatalf("expected calls %s, got %s", expected, got)
	}
}

func TestPublishRestartsRouteEditedAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitter := &recordingSubmitter{failWhen: func(call chain.SystemCall) error {
		if call.FunctionName == "addWaypointStep" && call.Args[2].(uint16) == 2 {
			return errors.New("StepRejected")
		}
		return nil
	}}
	publisher := f.publisher(t, submitter, nil, nil)
	draft := f.routedDraft(t)

	_, err := publisher.Publish(ctx, draft.ID, testOwner)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 4 {
		t.Fatalf("expected the second route step to fail, got %v", err)
	}
	kept, _ := f.drafts.Get(draft.ID)
	kept.RouteSteps[0].Label = "North beacon"
	if _, err := f.drafts.Save(ctx, kept); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	submitter.failWhen = nil
	if _, err := publisher.Publish(ctx, draft.ID, testOwner); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	expected := "createNote,createNoteLink,createWaypointGroup,addWaypointStep,addWaypointStep,addWaypointStep"
	if got := strings.Join(submitter.functionNames(), ","); got != expected {
		t.Fatalf("expected calls %s, got %s", expected, got)
	}
	resent := submitter.calls[4]
	if resent.Args[2].(uint16) != 1 || resent.Args[6].(string) != "North beacon" {
		t.Fatalf("expected the route to restart at step 1 with the new label, got %#v", resent.Args)
	}
}

type flakyDrafts struct {
	*localstore.DraftsStore
	mu       sync.Mutex
	calls    int
	failures map[int]error
}

func (d *flakyDrafts) SaveProgress(ctx context.Context, id string, progress localstore.PublishProgress) error {
	d.mu.Lock()
	d.calls++
	err := d.failures[d.calls]
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.DraftsStore.SaveProgress(ctx, id, progress)
}

func TestPublishUnrecordedProgressIsNotReportedAsStepFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	diskFull := errors.New("disk full")
	drafts := &flakyDrafts{DraftsStore: f.drafts, failures: map[int]error{2: diskFull}}
	submitter := &recordingSubmitter{}
	publisher, err := NewPublisher(PublisherConfig{
		Submitter: submitter,
		Namespace: testNamespace,
		Drafts:    drafts,
		Waypoints: f.waypoints,
		Links:     f.links,
		Notes:     f.notes,
		NoteIDs:   fixedIDs{value: fixedNote},
		Clock:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to build publisher: %v", err)
	}
	draft := f.routedDraft(t)

	_, err = publisher.Publish(ctx, draft.ID, testOwner)
	var progressErr *ProgressError
	if !errors.As(err, &progressErr) || !errors.Is(err, diskFull) {
		t.Fatalf("expected ProgressError, got %v", err)
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		t.Fatalf("an applied step must not be reported as failed")
	}
	if progressErr.Step != "createNote" || progressErr.Completed != 1 {
		t.Fatalf("unexpected progress error %#v", progressErr)
	}

	if _, err := publisher.Publish(ctx, draft.ID, testOwner); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	expected := "createNote,createNoteLink,createWaypointGroup,addWaypointStep,addWaypointStep"
	if got := strings.Join(submitter.functionNames(), ","); got != expected {
		t.Fatalf("expected createNote submitted once, got %s", got)
	}
}
