package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
)

// Team field names.
const (
	FieldMoney    = "money"
	FieldInbound  = "inbound"
	FieldOutbound = "outbound"
	FieldStrength = "strength"
	FieldDefence  = "defence"
)

// Team is a session team whose counters live in live_fields.
type Team struct {
	store *Postgres
	id    uuid.UUID
	name  string
}

func (t *Team) ID() uuid.UUID { return t.id }
func (t *Team) Name() string  { return t.name }

func (t *Team) ref() live.Ref { return live.Ref{Kind: live.KindTeam, ID: t.id} }

func (t *Team) Money(ctx context.Context) (int64, error) {
	return t.store.intField(ctx, t.ref(), FieldMoney)
}

func (t *Team) ProducerCount(ctx context.Context) (int64, error) {
	return t.store.producerCount(ctx, t.id)
}

func (t *Team) Inbound(ctx context.Context) (int64, error) {
	return t.store.intField(ctx, t.ref(), FieldInbound)
}

func (t *Team) Outbound(ctx context.Context) (int64, error) {
	return t.store.intField(ctx, t.ref(), FieldOutbound)
}

func (t *Team) Strength(ctx context.Context) (int64, error) {
	return t.store.intField(ctx, t.ref(), FieldStrength)
}

func (t *Team) Defence(ctx context.Context) (int64, error) {
	return t.store.intField(ctx, t.ref(), FieldDefence)
}

// Producer pays its rate into the owning team's money on every tick.
type Producer struct {
	store  *Postgres
	id     uuid.UUID
	team   uuid.UUID
	name   string
	loc    models.Location
	rangeM float64
	rate   int64
}

func (p *Producer) ID() uuid.UUID             { return p.id }
func (p *Producer) Name() string              { return p.name }
func (p *Producer) Location() models.Location { return p.loc }
func (p *Producer) TeamID() uuid.UUID         { return p.team }

// Tick credits the owning team. Unowned producers and zero rates do nothing.
func (p *Producer) Tick(ctx context.Context) error {
	if p.team == uuid.Nil || p.rate == 0 {
		return nil
	}
	_, err := p.store.AddToField(ctx, live.Ref{Kind: live.KindTeam, ID: p.team}, FieldMoney, p.rate)
	return err
}

func (p *Producer) Visibility(_ context.Context, o models.Observer) (models.Visibility, error) {
	v := assess(p.team, p.loc, p.rangeM, o)
	v.Visible = v.Ally || v.InRange
	return v, nil
}

func (p *Producer) RangeFor(context.Context, models.Observer) (float64, error) {
	return p.rangeM, nil
}

// ExchangePoint is a fixed trading spot run by a special participant. It is
// visible to everyone.
type ExchangePoint struct {
	id       uuid.UUID
	operator uuid.UUID
	team     uuid.UUID
	token    string
	loc      models.Location
	rangeM   float64
}

func (e *ExchangePoint) ID() uuid.UUID             { return e.id }
func (e *ExchangePoint) OperatorID() uuid.UUID     { return e.operator }
func (e *ExchangePoint) Token() string             { return e.token }
func (e *ExchangePoint) Location() models.Location { return e.loc }
func (e *ExchangePoint) TeamID() uuid.UUID         { return e.team }

func (e *ExchangePoint) Visibility(_ context.Context, o models.Observer) (models.Visibility, error) {
	v := assess(e.team, e.loc, e.rangeM, o)
	v.Visible = true
	return v, nil
}

func (e *ExchangePoint) RangeFor(context.Context, models.Observer) (float64, error) {
	return e.rangeM, nil
}

// assess reports whether o shares the entity's team and whether o's fresh
// location lies within rangeM of it.
func assess(team uuid.UUID, loc models.Location, rangeM float64, o models.Observer) models.Visibility {
	return models.Visibility{
		Ally:    team != uuid.Nil && o.TeamID == team,
		InRange: o.LocationFresh && models.Distance(o.Location, loc) <= rangeM,
	}
}

var (
	_ live.Team          = (*Team)(nil)
	_ live.Producer      = (*Producer)(nil)
	_ live.ExchangePoint = (*ExchangePoint)(nil)
)
