package models

import "github.com/google/uuid"

// Delta is the visibility-scoped state pushed to one participant.
type Delta struct {
	SessionID    uuid.UUID          `json:"session_id"`
	Participants []ParticipantEntry `json:"participants"`
	Entities     []EntityEntry      `json:"entities"`
}

// ParticipantEntry describes another participant visible to the observer.
type ParticipantEntry struct {
	ID            uuid.UUID           `json:"id"`
	Name          string              `json:"name"`
	Location      Location            `json:"location"`
	Ally          bool                `json:"ally"`
	ExchangePoint *ExchangePointEntry `json:"exchange_point,omitempty"`
}

// ExchangePointEntry is attached to participants operating an exchange point.
type ExchangePointEntry struct {
	ID      uuid.UUID `json:"id"`
	Token   string    `json:"token"`
	Range   float64   `json:"range"`
	Ally    bool      `json:"ally"`
	InRange bool      `json:"in_range"`
}

// EntityEntry describes a producer visible to the observer.
type EntityEntry struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Location Location  `json:"location"`
	Range    float64   `json:"range"`
	Ally     bool      `json:"ally"`
	InRange  bool      `json:"in_range"`
	Changed  bool      `json:"changed"`
}

// SpecialActionResult is reported to the requester of a special action.
type SpecialActionResult struct {
	AffectedCount int `json:"affected_count"`
}

// Notification is pushed to participants affected by a special action.
type Notification struct {
	SessionID uuid.UUID `json:"session_id"`
	Message   string    `json:"message"`
}
