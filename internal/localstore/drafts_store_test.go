package localstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
)

func loadedDrafts(t *testing.T, cfg Config) *DraftsStore {
	t.Helper()
	store, err := NewDraftsStore(cfg)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return store
}

func TestDraftsCreateSaveDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend storage.Backend) {
		ctx := context.Background()
		store := loadedDrafts(t, testConfig(backend, nil))

		draft, err := store.Create(ctx, Draft{Title: "Hello"})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if draft.ID == "" || draft.CreatedAt != testNow.Unix() || draft.Tags == nil {
			t.Fatalf("unexpected draft %#v", draft)
		}

		if err := store.SaveProgress(ctx, draft.ID, PublishProgress{NoteID: "0xabc", CompletedSteps: 1, LastStep: "note"}); err != nil {
			t.Fatalf("save progress failed: %v", err)
		}
		draft.Content = "World"
		draft.CreatedAt = 1
		saved, err := store.Save(ctx, draft)
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if saved.CreatedAt != testNow.Unix() || saved.Progress == nil || saved.Progress.CompletedSteps != 1 {
			t.Fatalf("expected CreatedAt and progress kept, got %#v", saved)
		}

		reopened := loadedDrafts(t, testConfig(backend, nil))
		stored, err := reopened.Get(draft.ID)
		if err != nil || stored.Content != "World" || stored.Progress.NoteID != "0xabc" {
			t.Fatalf("unexpected stored draft %#v err=%v", stored, err)
		}

		if err := store.Delete(ctx, draft.ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := store.Get(draft.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected draft removed")
		}
		if _, err := store.Save(ctx, draft); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected save of a deleted draft to fail, got %v", err)
		}
	})
}

func TestDraftsCreateFromNoteAndDuplicate(t *testing.T) {
	ctx := context.Background()
	store := loadedDrafts(t, testConfig(storage.NewMemoryBackend(), nil))

	fromNote, err := store.CreateFromNote(ctx, LocalNote{ID: "0xnote", Title: "T", Content: "C", Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("create from note failed: %v", err)
	}
	if fromNote.NoteID != "0xnote" || fromNote.Title != "T" || fromNote.Tags[0] != "a" {
		t.Fatalf("unexpected draft %#v", fromNote)
	}
	duplicate, err := store.Duplicate(ctx, fromNote.ID)
	if err != nil {
		t.Fatalf("duplicate failed: %v", err)
	}
	if duplicate.ID == fromNote.ID || duplicate.Title != "T" {
		t.Fatalf("unexpected duplicate %#v", duplicate)
	}
	drafts, _ := store.List()
	if len(drafts) != 2 {
		t.Fatalf("expected two drafts, got %d", len(drafts))
	}
}

func TestDraftsFollowOtherInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := storage.NewMemoryBackend()
	bus := storage.NewBroadcaster()

	editor := loadedDrafts(t, testConfig(backend, bus))
	sidebar := loadedDrafts(t, testConfig(backend, bus))
	if editor.Origin() == sidebar.Origin() {
		t.Fatalf("expected distinct origins")
	}

	go func() {
		_ = sidebar.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		// Re-create until the sidebar's subscription is live and has observed a change.
		if _, err := editor.Create(ctx, Draft{Title: "Shared"}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		drafts, _ := sidebar.List()
		if len(drafts) > 0 && drafts[0].Title == "Shared" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("sidebar never observed the editor's draft")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestAutosaverCoalescesEdits(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	bus := storage.NewBroadcaster()
	store := loadedDrafts(t, testConfig(backend, bus))
	draft, _ := store.Create(ctx, Draft{Title: "Start"})

	subscriberCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	messages, cleanup := bus.Subscribe(subscriberCtx, DraftsKey)
	defer cleanup()

	autosaver := NewAutosaver(store, 30*time.Millisecond, nil)
	for _, title := range []string{"S", "Sa", "Saved"} {
		edit := draft
		edit.Title = title
		autosaver.Schedule(edit)
	}

	select {
	case <-messages:
	case <-time.After(time.Second):
		t.Fatal("expected the debounced save")
	}
	select {
	case <-messages:
		t.Fatal("expected a single save for coalesced edits")
	case <-time.After(100 * time.Millisecond):
	}
	stored, _ := store.Get(draft.ID)
	if stored.Title != "Saved" {
		t.Fatalf("expected last edit saved, got %q", stored.Title)
	}
}

func TestAutosaverFlushSavesImmediately(t *testing.T) {
	ctx := context.Background()
	store := loadedDrafts(t, testConfig(storage.NewMemoryBackend(), nil))
	draft, _ := store.Create(ctx, Draft{Title: "Start"})

	autosaver := NewAutosaver(store, time.Hour, nil)
	draft.Title = "Flushed"
	autosaver.Schedule(draft)
	if err := autosaver.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	stored, _ := store.Get(draft.ID)
	if stored.Title != "Flushed" {
		t.Fatalf("expected flushed edit, got %q", stored.Title)
	}
	if err := autosaver.Flush(ctx); err != nil {
		t.Fatalf("second flush should be a no-op, got %v", err)
	}
}

func TestAutosaverKeepsEditsOfDifferentDrafts(t *testing.T) {
	ctx := context.Background()
	store := loadedDrafts(t, testConfig(storage.NewMemoryBackend(), nil))
	first, _ := store.Create(ctx, Draft{Title: "A"})
	second, _ := store.Create(ctx, Draft{Title: "B"})

	autosaver := NewAutosaver(store, 30*time.Millisecond, nil)
	first.Title = "A edited"
	autosaver.Schedule(first)
	time.Sleep(10 * time.Millisecond)
	second.Title = "B edited"
	autosaver.Schedule(second)

	deadline := time.After(time.Second)
	for {
		storedFirst, _ := store.Get(first.ID)
		storedSecond, _ := store.Get(second.ID)
		if storedFirst.Title == "A edited" && storedSecond.Title == "B edited" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected both autosaved edits, got A=%q B=%q", storedFirst.Title, storedSecond.Title)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAutosaverFlushAndCancelPerDraft(t *testing.T) {
	ctx := context.Background()
	store := loadedDrafts(t, testConfig(storage.NewMemoryBackend(), nil))
	first, _ := store.Create(ctx, Draft{Title: "A"})
	second, _ := store.Create(ctx, Draft{Title: "B"})
	third, _ := store.Create(ctx, Draft{Title: "C"})

	autosaver := NewAutosaver(store, time.Hour, nil)
	first.Title = "A flushed"
	second.Title = "B dropped"
	third.Title = "C flushed"
	autosaver.Schedule(first)
	autosaver.Schedule(second)
	autosaver.Schedule(third)

	if err := autosaver.FlushDraft(ctx, first.ID); err != nil {
		t.Fatalf("flush draft failed: %v", err)
	}
	autosaver.Cancel(second.ID)
	if err := autosaver.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	expected := map[string]string{first.ID: "A flushed", second.ID: "B", third.ID: "C flushed"}
	for id, title := range expected {
		stored, _ := store.Get(id)
		if stored.Title != title {
			t.Fatalf("draft %s: expected %q, got %q", id, title, stored.Title)
		}
	}
}
