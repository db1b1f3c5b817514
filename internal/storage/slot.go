package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the load lifecycle of a Slot.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

var (
	// ErrNotLoaded is returned by reads and mutations issued before Load completed.
	ErrNotLoaded = errors.New("storage: slot not loaded")

	errMissingBackend = errors.New("storage: backend is required")
	errMissingKey     = errors.New("storage: slot key is required")
)

// SlotConfig describes one persisted slot.
type SlotConfig[T any] struct {
	Key       string
	LegacyKey string
	Backend   Backend
	Bus       Bus
	// Seed produces the initial value when neither key holds data. Nil seeds the zero value.
	Seed func() T
	// PersistSeed writes the seeded value immediately so seeding happens once per backend.
	PersistSeed bool
	// Decode overrides JSON decoding, e.g. to sanitize older schemas.
	Decode func(raw []byte) (T, error)
	// PersistNormalized writes the decoded value back on Load when its encoding differs from
	// the stored bytes, so values completed during decoding (ids, timestamps) stick.
	PersistNormalized bool
	Origin            string
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Slot owns one key of a Backend: it loads with legacy-key migration, guards writes
// until loaded, persists every replacement and announces it on the Bus.
type Slot[T any] struct {
	key         string
	legacyKey   string
	backend     Backend
	bus         Bus
	seed        func() T
	persistSeed bool
	decode      func([]byte) (T, error)
	normalize   bool
	origin      string
	clock       func() time.Time
	logger      *zap.Logger

	mu    sync.RWMutex
	state State
	value T
}

func NewSlot[T any](cfg SlotConfig[T]) (*Slot[T], error) {
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, errMissingKey
	}
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	seed := cfg.Seed
	if seed == nil {
		seed = func() T {
			var zero T
			return zero
		}
	}
	decode := cfg.Decode
	if decode == nil {
		decode = func(raw []byte) (T, error) {
			var value T
			err := json.Unmarshal(raw, &value)
			return value, err
		}
	}
	origin := strings.TrimSpace(cfg.Origin)
	if origin == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		origin = generated.String()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slot[T]{
		key:         key,
		legacyKey:   strings.TrimSpace(cfg.LegacyKey),
		backend:     cfg.Backend,
		bus:         cfg.Bus,
		seed:        seed,
		persistSeed: cfg.PersistSeed,
		decode:      decode,
		normalize:   cfg.PersistNormalized,
		origin:      origin,
		clock:       clock,
		logger:      logger.With(zap.String("slot", key)),
	}, nil
}

func (s *Slot[T]) Key() string {
	return s.key
}

// Origin identifies this instance in broadcast messages.
func (s *Slot[T]) Origin() string {
	return s.origin
}

func (s *Slot[T]) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Load reads the slot once. Later calls are no-ops.
func (s *Slot[T]) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateLoaded {
		return nil
	}
	s.state = StateLoading

	raw, found, err := s.readWithMigration(ctx)
	if err != nil {
		s.state = StateUnloaded
		return err
	}

	if !found {
		s.value = s.seed()
		if s.persistSeed {
			if err := s.persistLocked(ctx, s.value); err != nil {
				s.state = StateUnloaded
				return err
			}
		}
		s.state = StateLoaded
		return nil
	}

	value, err := s.decode(raw)
	if err != nil {
		s.logger.Warn("discarding undecodable slot", zap.Error(err))
		var zero T
		value = zero
	} else if s.normalize {
		s.writeNormalizedLocked(ctx, raw, value)
	}
	s.value = value
	s.state = StateLoaded
	return nil
}

func (s *Slot[T]) writeNormalizedLocked(ctx context.Context, raw []byte, value T) {
	encoded, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("failed to encode normalized slot", zap.Error(err))
		return
	}
	if bytes.Equal(encoded, raw) {
		return
	}
	if err := s.backend.Save(ctx, s.key, encoded); err != nil {
		s.logger.Warn("failed to persist normalized slot", zap.Error(err))
		return
	}
	s.logger.Info("persisted normalized slot")
}

// readWithMigration returns the primary value, moving the legacy value into place first when
// only the legacy key exists. Concurrent runs converge on the same final state.
func (s *Slot[T]) readWithMigration(ctx context.Context) ([]byte, bool, error) {
	raw, found, err := s.backend.Load(ctx, s.key)
	if err != nil || found || s.legacyKey == "" {
		return raw, found, err
	}

	legacy, legacyFound, err := s.backend.Load(ctx, s.legacyKey)
	if err != nil {
		return nil, false, err
	}
	if legacyFound {
		if err := s.backend.Save(ctx, s.key, legacy); err != nil {
			return nil, false, err
		}
		if err := s.backend.Remove(ctx, s.legacyKey); err != nil {
			return nil, false, err
		}
		s.logger.Info("migrated legacy slot", zap.String("legacy_key", s.legacyKey))
		return legacy, true, nil
	}

	// Another instance may have finished the migration between our two reads.
	return s.backend.Load(ctx, s.key)
}

// Get returns the current in-memory value.
func (s *Slot[T]) Get() (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateLoaded {
		var zero T
		return zero, ErrNotLoaded
	}
	return s.value, nil
}

// Update replaces the value with mutate(current), persists it and announces the change.
// mutate must return a new value rather than modifying current in place.
func (s *Slot[T]) Update(ctx context.Context, mutate func(current T) (T, error)) (T, error) {
	s.mu.Lock()
	if s.state != StateLoaded {
		s.mu.Unlock()
		var zero T
		return zero, ErrNotLoaded
	}
	next, err := mutate(s.value)
	if err != nil {
		s.mu.Unlock()
		var zero T
		return zero, err
	}
	if err := s.persistLocked(ctx, next); err != nil {
		s.mu.Unlock()
		var zero T
		return zero, err
	}
	s.value = next
	s.mu.Unlock()

	s.announce()
	return next, nil
}

// Replace is Update with a fixed value.
func (s *Slot[T]) Replace(ctx context.Context, value T) error {
	_, err := s.Update(ctx, func(T) (T, error) {
		return value, nil
	})
	return err
}

// Reload re-reads the primary key without announcing.
func (s *Slot[T]) Reload(ctx context.Context) error {
	raw, found, err := s.backend.Load(ctx, s.key)
	if err != nil {
		return err
	}
	var value T
	if found {
		value, err = s.decode(raw)
		if err != nil {
			return err
		}
	} else {
		value = s.seed()
	}
	s.mu.Lock()
	s.value = value
	s.state = StateLoaded
	s.mu.Unlock()
	return nil
}

// Run follows the Bus and reloads whenever another instance rewrites this key.
// Own messages are ignored and a reload is never re-announced. Run returns when ctx ends.
func (s *Slot[T]) Run(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	stream, cleanup := s.bus.Subscribe(ctx, s.key)
	defer cleanup()
	return s.follow(ctx, stream)
}

func (s *Slot[T]) follow(ctx context.Context, stream <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-stream:
			if !ok {
				return nil
			}
			if message.Origin == s.origin {
				continue
			}
			if err := s.Reload(ctx); err != nil {
				s.logger.Warn("slot reload failed", zap.String("origin", message.Origin), zap.Error(err))
			}
		}
	}
}

func (s *Slot[T]) persistLocked(ctx context.Context, value T) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.backend.Save(ctx, s.key, encoded)
}

func (s *Slot[T]) announce() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Message{Key: s.key, Origin: s.origin, Timestamp: s.clock().UTC()})
}
