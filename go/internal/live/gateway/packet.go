package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Packet is the envelope of every message pushed to a client.
type Packet struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewPacket wraps payload in a packet of the given type.
func NewPacket(packetType string, sessionID uuid.UUID, payload any, at time.Time) (*Packet, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", packetType, err)
	}
	return &Packet{
		ID:        uuid.New().String(),
		Type:      packetType,
		SessionID: sessionID.String(),
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// Client message types.
const (
	ClientLocation = "location"
)

// ClientMessage is a message sent by a client over its socket.
type ClientMessage struct {
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}
