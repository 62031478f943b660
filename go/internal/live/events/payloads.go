package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types published by the live layer.
const (
	TypeSpecialActionExecuted = "SpecialActionExecuted"
)

// Event is one audit record of something that happened in a live session.
type Event struct {
	ID         uuid.UUID       `json:"event_id"`
	Type       string          `json:"event_type"`
	SessionID  uuid.UUID       `json:"session_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into a fresh event.
func NewEvent(eventType string, sessionID uuid.UUID, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		SessionID:  sessionID,
		OccurredAt: at.UTC(),
		Payload:    raw,
	}, nil
}

// MutationRecord summarises one applied mutation.
type MutationRecord struct {
	Unit       string `json:"unit"`
	Method     string `json:"method"`
	AmountType string `json:"amount_type"`
	Amount     int64  `json:"amount"`
}

// SpecialActionExecutedPayload is the payload for a SpecialActionExecuted event
type SpecialActionExecutedPayload struct {
	RequesterID   string           `json:"requester_id"`
	AffectedCount int              `json:"affected_count"`
	Participants  []string         `json:"participants"`
	Stages        []string         `json:"stages"`
	Mutations     []MutationRecord `json:"mutations"`
	Notified      bool             `json:"notified"`
	ExecutedAt    time.Time        `json:"executed_at"`
}
