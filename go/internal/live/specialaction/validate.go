package specialaction

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrUnknownRequester means the requester is not a participant of the session.
	ErrUnknownRequester = errors.New("unknown requester")
	// ErrNotPrivileged means the requester may not run special actions.
	ErrNotPrivileged = errors.New("requester is not privileged")
	// ErrSessionNotActive means the session is missing or not in an active stage.
	ErrSessionNotActive = errors.New("session not active")
)

// ValidationError reports a malformed request. Nothing has been mutated when
// it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the request shape before anything is read or written.
func Validate(req Request) error {
	if req.SessionID == uuid.Nil {
		return invalid("session_id", "required")
	}
	if req.RequesterID == uuid.Nil {
		return invalid("requester_id", "required")
	}

	sel := req.Selection
	if sel.IDs != nil && len(sel.IDs.IDs) == 0 {
		return invalid("selection.ids", "must list at least one participant")
	}
	if sel.Teams != nil && len(sel.Teams.TeamIDs) == 0 {
		return invalid("selection.teams", "must list at least one team")
	}
	if r := sel.Players; r != nil {
		if !r.OrderBy.valid() {
			return invalid("selection.players.order_by", "unknown sort key %q", r.OrderBy)
		}
		if !r.Order.valid() {
			return invalid("selection.players.order", "unknown order %q", r.Order)
		}
		if r.Limit <= 0 {
			return invalid("selection.players.limit", "must be a positive integer, got %d", r.Limit)
		}
	}
	if r := sel.TeamRanking; r != nil {
		if !r.OrderBy.valid() {
			return invalid("selection.team_ranking.order_by", "unknown sort key %q", r.OrderBy)
		}
		if !r.Order.valid() {
			return invalid("selection.team_ranking.order", "unknown order %q", r.Order)
		}
		if r.Limit <= 0 {
			return invalid("selection.team_ranking.limit", "must be a positive integer, got %d", r.Limit)
		}
	}
	if a := sel.Area; a != nil {
		if math.IsNaN(a.Radius) || math.IsInf(a.Radius, 0) || a.Radius < 0 {
			return invalid("selection.area.radius", "must be a non-negative distance")
		}
	}
	if c := sel.Cap; c != nil && c.Limit <= 0 {
		return invalid("selection.cap.limit", "must be a positive integer, got %d", c.Limit)
	}

	if len(req.Mutations) == 0 {
		return invalid("mutations", "at least one mutation is required")
	}
	seen := make(map[string]bool, len(req.Mutations))
	for i, m := range req.Mutations {
		field := fmt.Sprintf("mutations[%d]", i)
		if !m.Unit.Valid() {
			return invalid(field+".unit", "unknown unit %q", m.Unit)
		}
		if seen[string(m.Unit)] {
			return invalid(field+".unit", "unit %q mutated twice", m.Unit)
		}
		seen[string(m.Unit)] = true
		if !m.Method.valid() {
			return invalid(field+".method", "unknown method %q", m.Method)
		}
		if !m.AmountType.valid() {
			return invalid(field+".amount_type", "unknown amount type %q", m.AmountType)
		}
		if m.Method == MethodSet {
			if m.Amount < 0 {
				return invalid(field+".amount", "must not be negative, got %d", m.Amount)
			}
		} else if m.Amount <= 0 {
			return invalid(field+".amount", "must be a positive integer, got %d", m.Amount)
		}
	}
	return nil
}
