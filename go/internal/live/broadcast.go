package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live/coordinator"
	"github.com/mcdev12/outpost/go/internal/models"
)

// Viewer is the subset of participant state visibility rules look at.
type Viewer struct {
	ID     uuid.UUID
	Role   models.GameState
	TeamID uuid.UUID
	Fresh  bool
}

// CanSee reports whether observer sees other in its participant list.
//
// Spectators and special participants are visible to everyone. Players are
// visible when their location is fresh and they share the observer's team,
// or to any spectator regardless of team.
func CanSee(observer, other Viewer) bool {
	if observer.ID == other.ID {
		return false
	}
	if other.Role.Spectator || other.Role.Special {
		return true
	}
	if !other.Role.Player || !other.Fresh {
		return false
	}
	if observer.Role.Spectator {
		return true
	}
	return sameTeam(observer.TeamID, other.TeamID)
}

func sameTeam(a, b uuid.UUID) bool {
	return a != uuid.Nil && a == b
}

func (r *Registry) broadcastTo(ctx context.Context, s *Session, p *Participant, connections []string) error {
	delta, err := AssembleDelta(ctx, s, p)
	if err != nil {
		return fmt.Errorf("assemble delta: %w", err)
	}
	if len(connections) > 0 {
		err = r.transport.SendToConnections(ctx, PacketState, delta, s.id, connections)
	} else {
		err = r.transport.SendToParticipant(ctx, PacketState, delta, s.id, p.id)
	}
	if err != nil {
		return fmt.Errorf("send delta: %w", err)
	}
	return nil
}

// AssembleDelta builds the state visible to observer p. The first wave
// resolves everyone's role; the second fetches the details of what is
// visible. Any failure aborts this observer's delta only.
func AssembleDelta(ctx context.Context, s *Session, p *Participant) (*models.Delta, error) {
	participants := s.Participants()

	var mu sync.Mutex
	roles := make(map[uuid.UUID]models.GameState, len(participants))

	c := coordinator.New()
	for _, o := range participants {
		c.Go(func() error {
			gs, err := o.GameState(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			roles[o.id] = gs
			mu.Unlock()
			return nil
		})
	}
	if err := c.Wait(ctx); err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}

	self := p.Observer()
	viewer := Viewer{ID: p.id, Role: roles[p.id], TeamID: self.TeamID, Fresh: self.LocationFresh}

	var visible []*Participant
	for _, o := range participants {
		other := Viewer{ID: o.id, Role: roles[o.id], TeamID: o.TeamID(), Fresh: o.HasFreshLocation()}
		if CanSee(viewer, other) {
			visible = append(visible, o)
		}
	}

	c.Reset()

	entries := make([]models.ParticipantEntry, len(visible))
	for i, o := range visible {
		entries[i] = models.ParticipantEntry{
			ID:       o.id,
			Location: o.Location(),
			Ally:     sameTeam(self.TeamID, o.TeamID()),
		}
		c.Go(func() error {
			name, err := o.Name(ctx)
			if err != nil {
				return err
			}
			entries[i].Name = name
			return nil
		})
		if ep, ok := s.ExchangePointFor(o.id); ok {
			c.Go(func() error {
				entry, err := exchangePointEntry(ctx, ep, self)
				if err != nil {
					return err
				}
				entries[i].ExchangePoint = entry
				return nil
			})
		}
	}

	producers := s.Producers()
	entities := make([]*models.EntityEntry, len(producers))
	for i, tp := range producers {
		c.Go(func() error {
			entry, err := producerEntry(ctx, tp, self)
			if err != nil {
				return err
			}
			entities[i] = entry
			return nil
		})
	}

	if err := c.Wait(ctx); err != nil {
		return nil, fmt.Errorf("collect visible state: %w", err)
	}

	delta := &models.Delta{
		SessionID:    s.id,
		Participants: entries,
		Entities:     make([]models.EntityEntry, 0, len(entities)),
	}
	for _, e := range entities {
		if e != nil {
			delta.Entities = append(delta.Entities, *e)
		}
	}
	return delta, nil
}

func exchangePointEntry(ctx context.Context, tp *Tracked[ExchangePoint], observer models.Observer) (*models.ExchangePointEntry, error) {
	vis, err := tp.Entity.Visibility(ctx, observer)
	if err != nil {
		return nil, fmt.Errorf("exchange point %s visibility: %w", tp.Entity.ID(), err)
	}
	rng, err := tp.Entity.RangeFor(ctx, observer)
	if err != nil {
		return nil, fmt.Errorf("exchange point %s range: %w", tp.Entity.ID(), err)
	}
	tp.Seen.Observe(observer.ParticipantID, vis)
	return &models.ExchangePointEntry{
		ID:      tp.Entity.ID(),
		Token:   tp.Entity.Token(),
		Range:   rng,
		Ally:    vis.Ally,
		InRange: vis.InRange,
	}, nil
}

// producerEntry returns nil when the producer is not visible to observer.
func producerEntry(ctx context.Context, tp *Tracked[Producer], observer models.Observer) (*models.EntityEntry, error) {
	vis, err := tp.Entity.Visibility(ctx, observer)
	if err != nil {
		return nil, fmt.Errorf("producer %s visibility: %w", tp.Entity.ID(), err)
	}
	changed := tp.Seen.Observe(observer.ParticipantID, vis)
	if !vis.Visible {
		return nil, nil
	}
	rng, err := tp.Entity.RangeFor(ctx, observer)
	if err != nil {
		return nil, fmt.Errorf("producer %s range: %w", tp.Entity.ID(), err)
	}
	return &models.EntityEntry{
		ID:       tp.Entity.ID(),
		Name:     tp.Entity.Name(),
		Location: tp.Entity.Location(),
		Range:    rng,
		Ally:     vis.Ally,
		InRange:  vis.InRange,
		Changed:  changed,
	}, nil
}
