// Package liveapi exposes the privileged live-session operations over Connect.
package liveapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/live/specialaction"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified name of the live service.
const ServiceName = "outpost.live.v1.LiveService"

// Procedures served by the Handler.
const (
	ExecuteSpecialActionProcedure = "/" + ServiceName + "/ExecuteSpecialAction"
	TriggerBroadcastProcedure     = "/" + ServiceName + "/TriggerBroadcast"
	GetSessionProcedure           = "/" + ServiceName + "/GetSession"
)

// Executor runs special actions.
type Executor interface {
	Execute(ctx context.Context, req specialaction.Request) (*specialaction.Result, error)
}

// Sessions is the part of the registry the API reads.
type Sessions interface {
	GetOrLoad(ctx context.Context, id uuid.UUID) (*live.Session, bool, error)
	TriggerBroadcast(ctx context.Context, sessionID uuid.UUID)
}

// Records reads persisted session metadata.
type Records interface {
	Session(ctx context.Context, id uuid.UUID) (models.SessionRecord, error)
}

// Handler implements the live service with structpb messages.
type Handler struct {
	actions  Executor
	sessions Sessions
	records  Records
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithRecords adds the persisted session name and stage to GetSession.
func WithRecords(r Records) HandlerOption {
	return func(h *Handler) { h.records = r }
}

func NewHandler(actions Executor, sessions Sessions, opts ...HandlerOption) *Handler {
	h := &Handler{
		actions:  actions,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts every procedure on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(ExecuteSpecialActionProcedure, connect.NewUnaryHandler(ExecuteSpecialActionProcedure, h.ExecuteSpecialAction))
	mux.Handle(TriggerBroadcastProcedure, connect.NewUnaryHandler(TriggerBroadcastProcedure, h.TriggerBroadcast))
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, h.GetSession))
}

// ExecuteSpecialAction decodes a special action request and runs it.
func (h *Handler) ExecuteSpecialAction(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var action specialaction.Request
	if err := decode(req.Msg, &action); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := h.actions.Execute(ctx, action)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", action.SessionID.String()).
			Str("requester_id", action.RequesterID.String()).
			Msg("special action rejected")
		return nil, connectError(err)
	}

	return respond(map[string]any{
		"affected_count": result.AffectedCount,
	})
}

// TriggerBroadcast starts an out-of-band broadcast for an active session.
func (h *Handler) TriggerBroadcast(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id, err := sessionID(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if _, err := h.session(ctx, id); err != nil {
		return nil, err
	}
	h.sessions.TriggerBroadcast(ctx, id)
	return respond(map[string]any{"triggered": true})
}

// GetSession describes an active session and its participants.
func (h *Handler) GetSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id, err := sessionID(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	s, err := h.session(ctx, id)
	if err != nil {
		return nil, err
	}

	participants := make([]any, 0)
	for _, p := range s.Participants() {
		gs, err := p.GameState(ctx)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		entry := map[string]any{
			"id":        p.ID().String(),
			"player":    gs.Player,
			"spectator": gs.Spectator,
			"special":   gs.Special,
			"located":   p.HasFreshLocation(),
		}
		if team := p.TeamID(); team != uuid.Nil {
			entry["team_id"] = team.String()
		}
		participants = append(participants, entry)
	}

	out := map[string]any{
		"session_id":      s.ID().String(),
		"participants":    participants,
		"producers":       len(s.Producers()),
		"exchange_points": len(s.ExchangePoints()),
	}
	if h.records != nil {
		rec, err := h.records.Session(ctx, id)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("session record: %w", err))
		}
		out["name"] = rec.Name
		out["stage"] = rec.Stage.String()
	}
	return respond(out)
}

func (h *Handler) session(ctx context.Context, id uuid.UUID) (*live.Session, error) {
	s, ok, err := h.sessions.GetOrLoad(ctx, id)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %s is not active", id))
	}
	return s, nil
}

// connectError maps pipeline failures onto Connect codes.
func connectError(err error) error {
	switch {
	case specialaction.IsValidation(err):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, specialaction.ErrSessionNotActive), errors.Is(err, specialaction.ErrUnknownRequester):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, specialaction.ErrNotPrivileged):
		return connect.NewError(connect.CodePermissionDenied, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// decode converts a Struct into v through its JSON form.
func decode(msg *structpb.Struct, v any) error {
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func sessionID(msg *structpb.Struct) (uuid.UUID, error) {
	raw := msg.GetFields()["session_id"].GetStringValue()
	if raw == "" {
		return uuid.Nil, errors.New("session_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session_id: %w", err)
	}
	return id, nil
}

func respond(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
