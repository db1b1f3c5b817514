package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTrackerInterval = 5 * time.Second

// ErrStaleScan is returned by Refresh when a newer position or refresh superseded the scan.
var ErrStaleScan = errors.New("reconcile: scan superseded")

type TrackerConfig struct {
	Scanner  *NearbyScanner
	Radius   int64
	Interval time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Snapshot is the latest accepted scan.
type Snapshot struct {
	Position  Position    `json:"position"`
	Hits      []NearbyHit `json:"hits"`
	ScannedAt time.Time   `json:"scannedAt"`
}

// NearbyTracker rescans around the last reported position on a fixed interval and keeps
// only results of the most recent request.
type NearbyTracker struct {
	scanner  *NearbyScanner
	radius   int64
	interval time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	guard    RequestGuard

	mu       sync.RWMutex
	position *Position
	snapshot *Snapshot
}

func NewNearbyTracker(cfg TrackerConfig) (*NearbyTracker, error) {
	if cfg.Scanner == nil {
		return nil, errMissingProvider
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultTrackerInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NearbyTracker{
		scanner:  cfg.Scanner,
		radius:   cfg.Radius,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}, nil
}

// UpdatePosition records the player position and supersedes any scan in flight.
func (t *NearbyTracker) UpdatePosition(position Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = &position
	t.guard.Begin()
}

// Refresh scans around the current position. The position and the request token are taken
// together, and the result is stored only if no newer request began meanwhile.
func (t *NearbyTracker) Refresh(ctx context.Context) (Snapshot, error) {
	t.mu.Lock()
	if t.position == nil {
		t.mu.Unlock()
		return Snapshot{}, nil
	}
	position := *t.position
	token := t.guard.Begin()
	t.mu.Unlock()

	hits, err := t.scanner.Scan(ctx, position, t.radius)
	if err != nil {
		return Snapshot{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard.IsLatest(token) {
		return Snapshot{}, ErrStaleScan
	}
	snapshot := Snapshot{Position: position, Hits: hits, ScannedAt: t.clock().UTC()}
	t.snapshot = &snapshot
	return snapshot, nil
}

// Latest returns the last accepted scan, if any.
func (t *NearbyTracker) Latest() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snapshot == nil {
		return Snapshot{}, false
	}
	return *t.snapshot, true
}

// Run refreshes every interval until ctx ends.
func (t *NearbyTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleScan) && ctx.Err() == nil {
				t.logger.Warn("nearby refresh failed", zap.Error(err))
			}
		}
	}
}
