package live

import "errors"

var (
	// ErrNotFound is returned by a Store when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownParticipant means the participant is not part of the live session.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrSessionNotLoaded means the session is not held in memory.
	ErrSessionNotLoaded = errors.New("session not loaded")
)
