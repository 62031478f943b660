package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/outpost/go/internal/live/coordinator"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Session is the in-memory state of one active match. It owns its
// participants and entities; the Registry owns the Session.
type Session struct {
	id    uuid.UUID
	store Store
	clock clockwork.Clock
	decay time.Duration

	mu             sync.RWMutex
	participants   map[uuid.UUID]*Participant
	producers      []*Tracked[Producer]
	exchangePoints []*Tracked[ExchangePoint]
	text           map[string]string
	loadedAt       time.Time
}

func newSession(id uuid.UUID, store Store, clock clockwork.Clock, decay time.Duration) *Session {
	return &Session{
		id:           id,
		store:        store,
		clock:        clock,
		decay:        decay,
		participants: make(map[uuid.UUID]*Participant),
		text:         make(map[string]string),
	}
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// LoadedAt returns when the session finished loading.
func (s *Session) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Load fetches participants, producers, exchange points and text overrides
// in a single wave. Nothing is installed unless every part succeeds.
func (s *Session) Load(ctx context.Context) error {
	var (
		mu             sync.Mutex
		participants   = make(map[uuid.UUID]*Participant)
		producers      []*Tracked[Producer]
		exchangePoints []*Tracked[ExchangePoint]
		text           map[string]string
	)

	c := coordinator.New()

	c.Branch()
	go func() {
		ids, err := s.store.ParticipantIDs(ctx, s.id)
		if err != nil {
			c.Complete(fmt.Errorf("participants: %w", err))
			return
		}
		// Each participant joins the wave before this branch completes so the
		// count cannot reach zero early.
		for _, id := range ids {
			p := newParticipant(s, id)
			c.Go(func() error {
				if err := p.Load(ctx); err != nil {
					return err
				}
				mu.Lock()
				participants[p.id] = p
				mu.Unlock()
				return nil
			})
		}
		c.Complete(nil)
	}()

	c.Go(func() error {
		list, err := s.store.Producers(ctx, s.id)
		if err != nil {
			return fmt.Errorf("producers: %w", err)
		}
		for _, p := range list {
			producers = append(producers, track(p))
		}
		return nil
	})

	c.Go(func() error {
		list, err := s.store.ExchangePoints(ctx, s.id)
		if err != nil {
			return fmt.Errorf("exchange points: %w", err)
		}
		for _, e := range list {
			exchangePoints = append(exchangePoints, track(e))
		}
		return nil
	})

	c.Go(func() error {
		overrides, err := s.store.TextOverrides(ctx, s.id)
		if err != nil {
			return fmt.Errorf("text overrides: %w", err)
		}
		text = overrides
		return nil
	})

	if err := c.Wait(ctx); err != nil {
		return fmt.Errorf("load session %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.participants = participants
	s.producers = producers
	s.exchangePoints = exchangePoints
	if text != nil {
		s.text = text
	}
	s.loadedAt = s.clock.Now()
	s.mu.Unlock()

	log.Debug().
		Str("session_id", s.id.String()).
		Int("participants", len(participants)).
		Int("producers", len(producers)).
		Int("exchange_points", len(exchangePoints)).
		Msg("session loaded")
	return nil
}

// Participant returns a participant by id.
func (s *Session) Participant(id uuid.UUID) (*Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns a snapshot ordered by id.
func (s *Session) Participants() []*Participant {
	s.mu.RLock()
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// Producers returns a snapshot of the session's producers.
func (s *Session) Producers() []*Tracked[Producer] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Tracked[Producer](nil), s.producers...)
}

// ExchangePoints returns a snapshot of the session's exchange points.
func (s *Session) ExchangePoints() []*Tracked[ExchangePoint] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Tracked[ExchangePoint](nil), s.exchangePoints...)
}

// ExchangePointFor returns the exchange point operated by the participant.
func (s *Session) ExchangePointFor(participantID uuid.UUID) (*Tracked[ExchangePoint], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.exchangePoints {
		if e.Entity.OperatorID() == participantID {
			return e, true
		}
	}
	return nil, false
}

// Text returns the session override for key.
func (s *Session) Text(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.text[key]
	return v, ok
}

// Join loads a participant and adds it to the session. Joining twice
// reloads the existing participant.
func (s *Session) Join(ctx context.Context, participantID uuid.UUID) (*Participant, error) {
	if p, ok := s.Participant(participantID); ok {
		return p, p.Load(ctx)
	}
	p := newParticipant(s, participantID)
	if err := p.Load(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.participants[participantID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.participants[participantID] = p
	s.mu.Unlock()

	log.Info().
		Str("session_id", s.id.String()).
		Str("participant_id", participantID.String()).
		Msg("participant joined")
	return p, nil
}

// Leave removes a participant and the visibility state recorded for it.
func (s *Session) Leave(participantID uuid.UUID) bool {
	s.mu.Lock()
	_, ok := s.participants[participantID]
	delete(s.participants, participantID)
	producers := s.producers
	exchangePoints := s.exchangePoints
	s.mu.Unlock()

	if !ok {
		return false
	}
	for _, p := range producers {
		p.Seen.Forget(participantID)
	}
	for _, e := range exchangePoints {
		e.Seen.Forget(participantID)
	}
	log.Info().
		Str("session_id", s.id.String()).
		Str("participant_id", participantID.String()).
		Msg("participant left")
	return true
}

// ProducerCount counts producers owned by teamID.
func (s *Session) ProducerCount(teamID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.producers {
		if p.Entity.TeamID() == teamID {
			n++
		}
	}
	return n
}

// Balances reads unit for every participant, keyed by participant id.
func (s *Session) Balances(ctx context.Context, unit models.Unit) (map[uuid.UUID]int64, error) {
	var mu sync.Mutex
	out := make(map[uuid.UUID]int64)

	c := coordinator.New()
	for _, p := range s.Participants() {
		c.Go(func() error {
			v, err := p.Balance(ctx, unit)
			if err != nil {
				return err
			}
			mu.Lock()
			out[p.id] = v
			mu.Unlock()
			return nil
		})
	}
	if err := c.Wait(ctx); err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	return out, nil
}

// TotalBalance sums unit over every participant.
func (s *Session) TotalBalance(ctx context.Context, unit models.Unit) (int64, error) {
	balances, err := s.Balances(ctx, unit)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range balances {
		total += v
	}
	return total, nil
}
