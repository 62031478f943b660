package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Config tunes the cadence loop and visibility rules.
type Config struct {
	// Period between cadence cycles.
	Period time.Duration
	// Spread staggers pass units evenly across ScheduleTime.
	Spread       bool
	ScheduleTime time.Duration
	// MaxInFlight bounds concurrently running units per pass; 0 means unbounded.
	MaxInFlight int
	// LocationDecay is how old a location may be and still count as fresh.
	LocationDecay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Period:        time.Second,
		MaxInFlight:   64,
		LocationDecay: 5 * time.Minute,
	}
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithMetrics installs a pass metrics collector.
func WithMetrics(m PassMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry owns every live Session and drives the tick and broadcast passes.
type Registry struct {
	store     Store
	transport Transport
	cfg       Config
	clock     clockwork.Clock
	metrics   PassMetrics
	sem       *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	loads    singleflight.Group

	ticking      atomic.Bool
	broadcasting atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, transport Transport, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		transport: transport,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		metrics:   NoOpMetrics{},
		sessions:  make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.MaxInFlight > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return r
}

// Get returns the session if it is already in memory.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrLoad returns the in-memory session, loading it when its persisted
// stage is active. ok is false, with a nil error, when the session does not
// exist or is not active. Concurrent loads of the same id share one load.
func (r *Registry) GetOrLoad(ctx context.Context, id uuid.UUID) (*Session, bool, error) {
	if s, ok := r.Get(id); ok {
		return s, true, nil
	}

	v, err, shared := r.loads.Do(id.String(), func() (any, error) {
		if s, ok := r.Get(id); ok {
			return s, nil
		}

		stage, err := r.store.Stage(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch stage: %w", err)
		}
		if !stage.IsActive() {
			log.Debug().
				Str("session_id", id.String()).
				Str("stage", stage.String()).
				Msg("session not active; not loading")
			return nil, nil
		}

		s := newSession(id, r.store, r.clock, r.cfg.LocationDecay)
		if err := s.Load(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		if existing, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.sessions[id] = s
		r.mu.Unlock()

		log.Info().
			Str("session_id", id.String()).
			Str("stage", stage.String()).
			Msg("session activated")
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	if shared {
		log.Debug().Str("session_id", id.String()).Msg("joined in-flight session load")
	}
	return v.(*Session), true, nil
}

// Sessions returns a snapshot of all live sessions ordered by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// Unload evicts a session. It reports whether the session was loaded.
func (r *Registry) Unload(id uuid.UUID) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		log.Info().Str("session_id", id.String()).Msg("session unloaded")
	}
	return ok
}

// HandleStageChange evicts a session whose stage left the active set.
// Sessions entering the active set are loaded lazily on first request.
func (r *Registry) HandleStageChange(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	if stage.IsActive() {
		return nil
	}
	r.Unload(id)
	return nil
}

// UpdateLocation records a participant location reported by a client.
func (r *Registry) UpdateLocation(ctx context.Context, sessionID, participantID uuid.UUID, loc models.Location) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotLoaded
	}
	p, ok := s.Participant(participantID)
	if !ok {
		return ErrUnknownParticipant
	}
	return p.SetLocation(ctx, loc)
}

// Admit makes sure participantID is part of the live session, loading the
// session and the participant as needed.
func (r *Registry) Admit(ctx context.Context, sessionID, participantID uuid.UUID) error {
	s, ok, err := r.GetOrLoad(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotLoaded
	}
	if _, ok := s.Participant(participantID); ok {
		return nil
	}
	if _, err := s.Join(ctx, participantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnknownParticipant
		}
		return err
	}
	return nil
}

// Close drops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	n := len(r.sessions)
	r.sessions = make(map[uuid.UUID]*Session)
	r.mu.Unlock()
	log.Info().Int("sessions", n).Msg("registry closed")
}
