package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for live sessions
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// HandleLiveConnection upgrades a participant's connection to a live session.
func (h *WebSocketHandler) HandleLiveConnection(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(r, "session_id")
	if !ok {
		http.Error(w, "valid session_id is required", http.StatusBadRequest)
		return
	}
	participantID, ok := uuidParam(r, "participant_id")
	if !ok {
		http.Error(w, "valid participant_id is required", http.StatusBadRequest)
		return
	}

	err := h.connectionManager.sessions.Admit(r.Context(), sessionID, participantID)
	switch {
	case err == nil:
	case errors.Is(err, live.ErrSessionNotLoaded):
		http.Error(w, "session is not live", http.StatusNotFound)
		return
	case errors.Is(err, live.ErrUnknownParticipant):
		http.Error(w, "not a participant of this session", http.StatusForbidden)
		return
	default:
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID.String()).
			Msg("failed to admit participant")
		http.Error(w, "failed to join session", http.StatusInternalServerError)
		return
	}

	// The upgrader replies to the client itself when the handshake fails.
	if err := h.connectionManager.UpgradeConnection(w, r, sessionID, participantID); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID.String()).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/live", h.HandleLiveConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
