package livetest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
)

// Team is a fixed-value live.Team.
type Team struct {
	TeamID        uuid.UUID
	TeamName      string
	MoneyValue    int64
	Producers     int64
	InboundValue  int64
	OutboundValue int64
	StrengthValue int64
	DefenceValue  int64
	Err           error
}

func (t *Team) ID() uuid.UUID { return t.TeamID }
func (t *Team) Name() string  { return t.TeamName }

func (t *Team) Money(context.Context) (int64, error)         { return t.MoneyValue, t.Err }
func (t *Team) ProducerCount(context.Context) (int64, error) { return t.Producers, t.Err }
func (t *Team) Inbound(context.Context) (int64, error)       { return t.InboundValue, t.Err }
func (t *Team) Outbound(context.Context) (int64, error)      { return t.OutboundValue, t.Err }
func (t *Team) Strength(context.Context) (int64, error)      { return t.StrengthValue, t.Err }
func (t *Team) Defence(context.Context) (int64, error)       { return t.DefenceValue, t.Err }

// Producer is a scriptable live.Producer. Visible defaults to VisibleTo when
// set, otherwise to DefaultVisibility.
type Producer struct {
	ProducerID        uuid.UUID
	ProducerName      string
	Loc               models.Location
	Team              uuid.UUID
	Range             float64
	DefaultVisibility models.Visibility
	TickErr           error
	VisibilityErr     error

	// OnTick, when set, runs inside Tick.
	OnTick func()

	mu        sync.Mutex
	visibleTo map[uuid.UUID]models.Visibility
	ticks     atomic.Int32
}

// SetVisibility overrides the visibility reported to one observer.
func (p *Producer) SetVisibility(observer uuid.UUID, v models.Visibility) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visibleTo == nil {
		p.visibleTo = make(map[uuid.UUID]models.Visibility)
	}
	p.visibleTo[observer] = v
}

// Ticks returns how many times Tick ran.
func (p *Producer) Ticks() int { return int(p.ticks.Load()) }

func (p *Producer) ID() uuid.UUID             { return p.ProducerID }
func (p *Producer) Name() string              { return p.ProducerName }
func (p *Producer) Location() models.Location { return p.Loc }
func (p *Producer) TeamID() uuid.UUID         { return p.Team }

func (p *Producer) Tick(context.Context) error {
	p.ticks.Add(1)
	if p.OnTick != nil {
		p.OnTick()
	}
	return p.TickErr
}

func (p *Producer) Visibility(_ context.Context, o models.Observer) (models.Visibility, error) {
	if p.VisibilityErr != nil {
		return models.Visibility{}, p.VisibilityErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.visibleTo[o.ParticipantID]; ok {
		return v, nil
	}
	return p.DefaultVisibility, nil
}

func (p *Producer) RangeFor(context.Context, models.Observer) (float64, error) {
	return p.Range, nil
}

// ExchangePoint is a fixed live.ExchangePoint.
type ExchangePoint struct {
	PointID    uuid.UUID
	Operator   uuid.UUID
	TokenValue string
	Loc        models.Location
	Team       uuid.UUID
	Range      float64
	Vis        models.Visibility
}

func (e *ExchangePoint) ID() uuid.UUID             { return e.PointID }
func (e *ExchangePoint) OperatorID() uuid.UUID     { return e.Operator }
func (e *ExchangePoint) Token() string             { return e.TokenValue }
func (e *ExchangePoint) Location() models.Location { return e.Loc }
func (e *ExchangePoint) TeamID() uuid.UUID         { return e.Team }

func (e *ExchangePoint) Visibility(context.Context, models.Observer) (models.Visibility, error) {
	return e.Vis, nil
}

func (e *ExchangePoint) RangeFor(context.Context, models.Observer) (float64, error) {
	return e.Range, nil
}

// Sent is one packet recorded by Transport.
type Sent struct {
	Type          string
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	Connections   []string
	Payload       json.RawMessage
}

// Transport records every packet it is asked to send.
type Transport struct {
	mu   sync.Mutex
	sent []Sent
	fail map[uuid.UUID]error
}

// FailFor makes sends to participantID fail with err.
func (t *Transport) FailFor(participantID uuid.UUID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail == nil {
		t.fail = make(map[uuid.UUID]error)
	}
	t.fail[participantID] = err
}

// Sent returns every recorded packet.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// SentTo returns packets of packetType addressed to participantID.
func (t *Transport) SentTo(participantID uuid.UUID, packetType string) []Sent {
	var out []Sent
	for _, s := range t.Sent() {
		if s.ParticipantID == participantID && s.Type == packetType {
			out = append(out, s)
		}
	}
	return out
}

func (t *Transport) SendToParticipant(_ context.Context, packetType string, payload any, sessionID, participantID uuid.UUID) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[participantID]; err != nil {
		return err
	}
	t.sent = append(t.sent, Sent{Type: packetType, SessionID: sessionID, ParticipantID: participantID, Payload: raw})
	return nil
}

func (t *Transport) SendToConnections(_ context.Context, packetType string, payload any, sessionID uuid.UUID, connections []string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, Sent{Type: packetType, SessionID: sessionID, Connections: connections, Payload: raw})
	return nil
}

var (
	_ live.Store         = (*Store)(nil)
	_ live.Team          = (*Team)(nil)
	_ live.Producer      = (*Producer)(nil)
	_ live.ExchangePoint = (*ExchangePoint)(nil)
	_ live.Transport     = (*Transport)(nil)
)
