// Package livetest provides in-memory collaborators for exercising the live
// session layer in tests.
package livetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
)

type member struct {
	role models.GameState
	team live.Team
}

// Store is an in-memory live.Store.
type Store struct {
	mu             sync.Mutex
	stages         map[uuid.UUID]models.Stage
	members        map[uuid.UUID]map[uuid.UUID]*member
	order          map[uuid.UUID][]uuid.UUID
	teams          map[uuid.UUID][]live.Team
	producers      map[uuid.UUID][]live.Producer
	exchangePoints map[uuid.UUID][]live.ExchangePoint
	text           map[uuid.UUID]map[string]string
	fields         map[live.Ref]map[string]json.RawMessage
	fieldErrs      map[string]error
	stageErr       error
	participantErr error

	// StageGate, when set, blocks Stage until the channel is closed.
	StageGate  chan struct{}
	StageCalls atomic.Int32
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		stages:         make(map[uuid.UUID]models.Stage),
		members:        make(map[uuid.UUID]map[uuid.UUID]*member),
		order:          make(map[uuid.UUID][]uuid.UUID),
		teams:          make(map[uuid.UUID][]live.Team),
		producers:      make(map[uuid.UUID][]live.Producer),
		exchangePoints: make(map[uuid.UUID][]live.ExchangePoint),
		text:           make(map[uuid.UUID]map[string]string),
		fields:         make(map[live.Ref]map[string]json.RawMessage),
		fieldErrs:      make(map[string]error),
	}
}

// AddSession registers a session at the given stage.
func (s *Store) AddSession(id uuid.UUID, stage models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[id] = stage
	if s.members[id] == nil {
		s.members[id] = make(map[uuid.UUID]*member)
	}
}

// SetStage changes a session's stage.
func (s *Store) SetStage(id uuid.UUID, stage models.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[id] = stage
}

// AddParticipant adds a member to a session. team may be nil.
func (s *Store) AddParticipant(sessionID, participantID uuid.UUID, role models.GameState, team live.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[sessionID] == nil {
		s.members[sessionID] = make(map[uuid.UUID]*member)
	}
	if _, ok := s.members[sessionID][participantID]; !ok {
		s.order[sessionID] = append(s.order[sessionID], participantID)
	}
	s.members[sessionID][participantID] = &member{role: role, team: team}
}

// AddTeam registers a team with a session.
func (s *Store) AddTeam(sessionID uuid.UUID, team live.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[sessionID] = append(s.teams[sessionID], team)
}

// AddProducer registers a producer with a session.
func (s *Store) AddProducer(sessionID uuid.UUID, p live.Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producers[sessionID] = append(s.producers[sessionID], p)
}

// AddExchangePoint registers an exchange point with a session.
func (s *Store) AddExchangePoint(sessionID uuid.UUID, e live.ExchangePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchangePoints[sessionID] = append(s.exchangePoints[sessionID], e)
}

// SetText sets a session text override.
func (s *Store) SetText(sessionID uuid.UUID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text[sessionID] == nil {
		s.text[sessionID] = make(map[string]string)
	}
	s.text[sessionID][key] = value
}

// Put stores a field value directly.
func (s *Store) Put(ref live.Ref, field string, value any) {
	if err := s.SetField(context.Background(), ref, field, value); err != nil {
		panic(err)
	}
}

// Int returns a stored integer field, zero if missing.
func (s *Store) Int(ref live.Ref, field string) int64 {
	s.mu.Lock()
	raw := s.fields[ref][field]
	s.mu.Unlock()
	var v int64
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// FailField makes reads and writes of field fail with err.
func (s *Store) FailField(field string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldErrs[field] = err
}

// FailStage makes Stage fail with err.
func (s *Store) FailStage(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageErr = err
}

// FailParticipants makes ParticipantIDs fail with err.
func (s *Store) FailParticipants(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participantErr = err
}

func (s *Store) Stage(ctx context.Context, sessionID uuid.UUID) (models.Stage, error) {
	s.StageCalls.Add(1)
	if s.StageGate != nil {
		select {
		case <-s.StageGate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageErr != nil {
		return 0, s.stageErr
	}
	stage, ok := s.stages[sessionID]
	if !ok {
		return 0, live.ErrNotFound
	}
	return stage, nil
}

func (s *Store) ParticipantIDs(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participantErr != nil {
		return nil, s.participantErr
	}
	return append([]uuid.UUID(nil), s.order[sessionID]...), nil
}

func (s *Store) GameState(ctx context.Context, sessionID, participantID uuid.UUID) (models.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fieldErrs["game_state"]; err != nil {
		return models.GameState{}, err
	}
	m, ok := s.members[sessionID][participantID]
	if !ok {
		return models.GameState{}, live.ErrNotFound
	}
	return m.role, nil
}

func (s *Store) TeamOf(ctx context.Context, sessionID, participantID uuid.UUID) (live.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[sessionID][participantID]
	if !ok {
		return nil, live.ErrNotFound
	}
	return m.team, nil
}

func (s *Store) Teams(ctx context.Context, sessionID uuid.UUID) ([]live.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Team(nil), s.teams[sessionID]...), nil
}

func (s *Store) Producers(ctx context.Context, sessionID uuid.UUID) ([]live.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Producer(nil), s.producers[sessionID]...), nil
}

func (s *Store) ExchangePoints(ctx context.Context, sessionID uuid.UUID) ([]live.ExchangePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.ExchangePoint(nil), s.exchangePoints[sessionID]...), nil
}

func (s *Store) TextOverrides(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.text[sessionID]))
	for k, v := range s.text[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) GetField(ctx context.Context, ref live.Ref, field string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fieldErrs[field]; err != nil {
		return nil, err
	}
	return s.fields[ref][field], nil
}

func (s *Store) SetField(ctx context.Context, ref live.Ref, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", field, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fieldErrs[field]; err != nil {
		return err
	}
	if s.fields[ref] == nil {
		s.fields[ref] = make(map[string]json.RawMessage)
	}
	s.fields[ref][field] = raw
	return nil
}

func (s *Store) UpdateIntField(ctx context.Context, ref live.Ref, field string, apply func(int64) int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fieldErrs[field]; err != nil {
		return 0, err
	}
	var current int64
	if raw := s.fields[ref][field]; len(raw) > 0 {
		if err := json.Unmarshal(raw, &current); err != nil {
			return 0, fmt.Errorf("decode %s: %w", field, err)
		}
	}
	next := apply(current)
	raw, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", field, err)
	}
	if s.fields[ref] == nil {
		s.fields[ref] = make(map[string]json.RawMessage)
	}
	s.fields[ref][field] = raw
	return next, nil
}
