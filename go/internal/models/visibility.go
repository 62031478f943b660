package models

import "github.com/google/uuid"

// Visibility is what an entity exposes about itself to one observer.
type Visibility struct {
	Visible bool `json:"visible"`
	Ally    bool `json:"ally"`
	InRange bool `json:"in_range"`
}

// Observer describes the participant a visibility question is asked for.
type Observer struct {
	ParticipantID uuid.UUID
	TeamID        uuid.UUID // uuid.Nil when the participant has no team
	Location      Location
	LocationFresh bool
}

// HasTeam reports whether the observer belongs to a team.
func (o Observer) HasTeam() bool {
	return o.TeamID != uuid.Nil
}
