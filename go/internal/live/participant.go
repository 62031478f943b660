package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/outpost/go/internal/live/coordinator"
	"github.com/mcdev12/outpost/go/internal/models"
)

const (
	fieldName     = "name"
	fieldLocation = "location"
	fieldStrength = "strength"
)

// Participant is a connected user of a live session. Balances are never
// cached; every read goes to the store.
type Participant struct {
	id      uuid.UUID
	session *Session
	store   Store
	clock   clockwork.Clock
	decay   time.Duration

	mu       sync.RWMutex
	location models.Location
	team     Team
}

func newParticipant(s *Session, id uuid.UUID) *Participant {
	return &Participant{
		id:      id,
		session: s,
		store:   s.store,
		clock:   s.clock,
		decay:   s.decay,
	}
}

// ID returns the participant id.
func (p *Participant) ID() uuid.UUID { return p.id }

// Session returns the owning session.
func (p *Participant) Session() *Session { return p.session }

func (p *Participant) ref() Ref { return Ref{Kind: KindParticipant, ID: p.id} }

// Load fetches the stored location and the team reference.
func (p *Participant) Load(ctx context.Context) error {
	var (
		loc  models.Location
		team Team
	)

	c := coordinator.New()
	c.Go(func() error {
		var err error
		loc, err = getField[models.Location](ctx, p.store, p.ref(), fieldLocation)
		return err
	})
	c.Go(func() error {
		var err error
		team, err = p.store.TeamOf(ctx, p.session.id, p.id)
		return err
	})
	if err := c.Wait(ctx); err != nil {
		return fmt.Errorf("load participant %s: %w", p.id, err)
	}

	p.mu.Lock()
	p.location = loc
	p.team = team
	p.mu.Unlock()
	return nil
}

// Location returns the last known location.
func (p *Participant) Location() models.Location {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.location
}

// SetLocation persists a new location and caches it. A zero At is replaced
// by the current time.
func (p *Participant) SetLocation(ctx context.Context, loc models.Location) error {
	if loc.At.IsZero() {
		loc.At = p.clock.Now()
	}
	if err := setField(ctx, p.store, p.ref(), fieldLocation, loc); err != nil {
		return err
	}
	p.mu.Lock()
	p.location = loc
	p.mu.Unlock()
	return nil
}

// HasFreshLocation reports whether the location is recent enough to take
// part in visibility decisions.
func (p *Participant) HasFreshLocation() bool {
	return locationFresh(p.Location(), p.clock.Now(), p.decay)
}

// locationFresh is inclusive at the boundary: a location exactly decay old
// is still fresh, one nanosecond older is stale.
func locationFresh(loc models.Location, now time.Time, decay time.Duration) bool {
	if loc.At.IsZero() {
		return false
	}
	return loc.Age(now) <= decay
}

// Team returns the cached team, nil when the participant has none.
func (p *Participant) Team() Team {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.team
}

// TeamID returns the cached team id or uuid.Nil.
func (p *Participant) TeamID() uuid.UUID {
	if t := p.Team(); t != nil {
		return t.ID()
	}
	return uuid.Nil
}

// RefreshTeam reloads the team reference from the store.
func (p *Participant) RefreshTeam(ctx context.Context) error {
	team, err := p.store.TeamOf(ctx, p.session.id, p.id)
	if err != nil {
		return fmt.Errorf("refresh team: %w", err)
	}
	p.mu.Lock()
	p.team = team
	p.mu.Unlock()
	return nil
}

// Observer describes the participant for entity visibility questions.
func (p *Participant) Observer() models.Observer {
	p.mu.RLock()
	loc := p.location
	team := p.team
	p.mu.RUnlock()

	o := models.Observer{
		ParticipantID: p.id,
		Location:      loc,
		LocationFresh: locationFresh(loc, p.clock.Now(), p.decay),
	}
	if team != nil {
		o.TeamID = team.ID()
	}
	return o
}

// Name returns the display name.
func (p *Participant) Name(ctx context.Context) (string, error) {
	return getField[string](ctx, p.store, p.ref(), fieldName)
}

// GameState returns the role flags from the session membership.
func (p *Participant) GameState(ctx context.Context) (models.GameState, error) {
	gs, err := p.store.GameState(ctx, p.session.id, p.id)
	if err != nil {
		return models.GameState{}, fmt.Errorf("game state: %w", err)
	}
	return gs, nil
}

// Balance reads a resource counter.
func (p *Participant) Balance(ctx context.Context, unit models.Unit) (int64, error) {
	if !unit.Valid() {
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
	return getField[int64](ctx, p.store, p.ref(), unit.Field())
}

// SetBalance writes a resource counter.
func (p *Participant) SetBalance(ctx context.Context, unit models.Unit, value int64) error {
	if !unit.Valid() {
		return fmt.Errorf("unknown unit %q", unit)
	}
	return setField(ctx, p.store, p.ref(), unit.Field(), value)
}

// AdjustBalance atomically replaces a resource counter with apply(current)
// and returns the new value.
func (p *Participant) AdjustBalance(ctx context.Context, unit models.Unit, apply func(int64) int64) (int64, error) {
	if !unit.Valid() {
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
	v, err := p.store.UpdateIntField(ctx, p.ref(), unit.Field(), apply)
	if err != nil {
		return 0, fmt.Errorf("update %s.%s: %w", KindParticipant, unit.Field(), err)
	}
	return v, nil
}

// Money returns the currency balance.
func (p *Participant) Money(ctx context.Context) (int64, error) {
	return p.Balance(ctx, models.UnitCurrency)
}

// Inbound returns the inbound resource balance.
func (p *Participant) Inbound(ctx context.Context) (int64, error) {
	return p.Balance(ctx, models.UnitInbound)
}

// Outbound returns the outbound resource balance.
func (p *Participant) Outbound(ctx context.Context) (int64, error) {
	return p.Balance(ctx, models.UnitOutbound)
}

// Strength returns the participant's strength rating.
func (p *Participant) Strength(ctx context.Context) (int64, error) {
	return getField[int64](ctx, p.store, p.ref(), fieldStrength)
}
