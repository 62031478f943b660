package models

import "github.com/google/uuid"

// Stage is the persisted lifecycle stage of a game session.
type Stage int

const (
	StageSetup Stage = iota
	StageLobby
	StageRunning
	StageOvertime
	StageFinished
)

// IsActive reports whether sessions in this stage are kept in memory.
func (s Stage) IsActive() bool {
	return s == StageRunning || s == StageOvertime
}

func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "setup"
	case StageLobby:
		return "lobby"
	case StageRunning:
		return "running"
	case StageOvertime:
		return "overtime"
	case StageFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SessionRecord is the persisted view of a session.
type SessionRecord struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Stage Stage     `json:"stage"`
}

// GameState holds the role flags of a participant within a session.
type GameState struct {
	Player    bool `json:"player"`
	Spectator bool `json:"spectator"`
	Special   bool `json:"special"`
}
