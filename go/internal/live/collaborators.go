package live

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/models"
)

// Packet types pushed through the Transport.
const (
	PacketState         = "live.state"
	PacketNotification  = "live.notification"
	PacketSpecialAction = "live.special_action"
)

// Kind scopes a field reference to the owner of the field.
type Kind string

const (
	KindSession     Kind = "session"
	KindParticipant Kind = "participant"
	KindTeam        Kind = "team"
)

// Ref addresses a document in the model layer.
type Ref struct {
	Kind Kind
	ID   uuid.UUID
}

// Store is the persistence layer the live state reads through. Single field
// reads and writes are atomic; sequences of them are not.
type Store interface {
	// Stage returns the persisted stage of a session, or ErrNotFound.
	Stage(ctx context.Context, sessionID uuid.UUID) (models.Stage, error)
	ParticipantIDs(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
	GameState(ctx context.Context, sessionID, participantID uuid.UUID) (models.GameState, error)
	// TeamOf returns the participant's team, or nil when it has none.
	TeamOf(ctx context.Context, sessionID, participantID uuid.UUID) (Team, error)
	Teams(ctx context.Context, sessionID uuid.UUID) ([]Team, error)
	Producers(ctx context.Context, sessionID uuid.UUID) ([]Producer, error)
	ExchangePoints(ctx context.Context, sessionID uuid.UUID) ([]ExchangePoint, error)
	TextOverrides(ctx context.Context, sessionID uuid.UUID) (map[string]string, error)

	// GetField returns the raw JSON document stored under field, or nil if
	// the field was never written.
	GetField(ctx context.Context, ref Ref, field string) (json.RawMessage, error)
	SetField(ctx context.Context, ref Ref, field string, value any) error
	// UpdateIntField replaces an integer field with apply(current) as one
	// atomic step and returns the stored value. Missing fields read as zero.
	UpdateIntField(ctx context.Context, ref Ref, field string, apply func(int64) int64) (int64, error)
}

// Team is a session team as seen by ranking and filtering code.
type Team interface {
	ID() uuid.UUID
	Name() string
	Money(ctx context.Context) (int64, error)
	ProducerCount(ctx context.Context) (int64, error)
	Inbound(ctx context.Context) (int64, error)
	Outbound(ctx context.Context) (int64, error)
	Strength(ctx context.Context) (int64, error)
	Defence(ctx context.Context) (int64, error)
}

// Entity is a session-owned object with a position, an owning team and a
// range that depends on who is looking.
type Entity interface {
	ID() uuid.UUID
	Location() models.Location
	// TeamID returns uuid.Nil for unowned entities.
	TeamID() uuid.UUID
	Visibility(ctx context.Context, observer models.Observer) (models.Visibility, error)
	RangeFor(ctx context.Context, observer models.Observer) (float64, error)
}

// Producer is an entity advanced by the tick pass.
type Producer interface {
	Entity
	Name() string
	Tick(ctx context.Context) error
}

// ExchangePoint is an entity operated by a special participant.
type ExchangePoint interface {
	Entity
	OperatorID() uuid.UUID
	Token() string
}

// Transport pushes packets to connected clients. Connection ids are the
// transport's own opaque identifiers.
type Transport interface {
	SendToParticipant(ctx context.Context, packetType string, payload any, sessionID, participantID uuid.UUID) error
	SendToConnections(ctx context.Context, packetType string, payload any, sessionID uuid.UUID, connections []string) error
}
