package localstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAutosaveDelay = 500 * time.Millisecond

// Autosaver coalesces rapid draft edits into one save per draft after a quiet period.
// Each draft has its own pending edit and timer.
type Autosaver struct {
	store  *DraftsStore
	delay  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingEdit
}

type pendingEdit struct {
	draft Draft
	timer *time.Timer
}

func NewAutosaver(store *DraftsStore, delay time.Duration, logger *zap.Logger) *Autosaver {
	if delay <= 0 {
		delay = defaultAutosaveDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Autosaver{store: store, delay: delay, logger: logger, pending: make(map[string]*pendingEdit)}
}

// Schedule replaces the draft's pending edit and restarts its quiet period.
func (a *Autosaver) Schedule(draft Draft) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if previous, ok := a.pending[draft.ID]; ok {
		previous.timer.Stop()
	}
	id := draft.ID
	a.pending[id] = &pendingEdit{
		draft: draft,
		timer: time.AfterFunc(a.delay, func() {
			if err := a.FlushDraft(context.Background(), id); err != nil {
				a.logger.Warn("draft autosave failed", zap.String("draft_id", id), zap.Error(err))
			}
		}),
	}
}

// FlushDraft saves the draft's pending edit now, if any.
func (a *Autosaver) FlushDraft(ctx context.Context, id string) error {
	edit, ok := a.take(id)
	if !ok {
		return nil
	}
	_, err := a.store.Save(ctx, edit.draft)
	return err
}

// Flush saves every pending edit now.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := a.FlushDraft(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel drops the draft's pending edit without saving it.
func (a *Autosaver) Cancel(id string) {
	a.take(id)
}

func (a *Autosaver) take(id string) (*pendingEdit, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	edit, ok := a.pending[id]
	if !ok {
		return nil, false
	}
	edit.timer.Stop()
	delete(a.pending, id)
	return edit, true
}
