package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/outpost/go/internal/live"
	"github.com/mcdev12/outpost/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Sessions is the live state the gateway reports client activity to.
type Sessions interface {
	Admit(ctx context.Context, sessionID, participantID uuid.UUID) error
	UpdateLocation(ctx context.Context, sessionID, participantID uuid.UUID, loc models.Location) error
	BroadcastPass(ctx context.Context, target live.Target) error
}

// Forwarder hands packets to other gateway nodes.
type Forwarder interface {
	Forward(env Envelope) error
}

// ConnectionManager manages WebSocket connections of live sessions and
// implements live.Transport on top of them.
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[uuid.UUID]map[*Connection]bool
	byID               map[string]*Connection
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	sessions Sessions

	relayMu sync.RWMutex
	relay   Forwarder
}

var _ live.Transport = (*ConnectionManager)(nil)

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID            string
	ParticipantID uuid.UUID
	SessionID     uuid.UUID
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time

	pingMu   sync.Mutex
	lastPing time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, sessions Sessions) *ConnectionManager {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		byID:               make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		sessions: sessions,
	}
}

// SetRelay forwards every outbound packet to other nodes through f.
func (cm *ConnectionManager) SetRelay(f Forwarder) {
	cm.relayMu.Lock()
	cm.relay = f
	cm.relayMu.Unlock()
}

// UpgradeConnection upgrades the HTTP connection of an admitted participant
// and pushes an initial delta to the new socket.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionID, participantID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		SessionID:     sessionID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBuffer),
		Manager:       cm,
		ConnectedAt:   time.Now(),
		lastPing:      time.Now(),
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID.String()).
		Str("session_id", sessionID.String()).
		Msg("WebSocket connection established")

	go func() {
		target := live.Target{SessionID: sessionID, ParticipantID: participantID, Connections: []string{connection.ID}}
		if err := cm.sessions.BroadcastPass(context.Background(), target); err != nil {
			log.Warn().Err(err).Str("connection_id", connection.ID).Msg("initial state not delivered")
		}
	}()
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	cm.byID[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", len(cm.sessionConnections[conn.SessionID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	delete(cm.byID, conn.ID)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID.String()).
		Str("session_id", conn.SessionID.String()).
		Msg("connection unregistered")
}

// SendToParticipant pushes a packet to every connection of the participant,
// here and, through the relay, on other nodes.
func (cm *ConnectionManager) SendToParticipant(ctx context.Context, packetType string, payload any, sessionID, participantID uuid.UUID) error {
	data, err := cm.encode(packetType, sessionID, payload)
	if err != nil {
		return err
	}
	cm.deliver(sessionID, data, func(c *Connection) bool { return c.ParticipantID == participantID })
	return cm.forward(Envelope{SessionID: sessionID, ParticipantID: participantID, Packet: data})
}

// SendToConnections pushes a packet to the listed connections only.
func (cm *ConnectionManager) SendToConnections(ctx context.Context, packetType string, payload any, sessionID uuid.UUID, connections []string) error {
	data, err := cm.encode(packetType, sessionID, payload)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(connections))
	for _, id := range connections {
		want[id] = true
	}
	if n := cm.deliver(sessionID, data, func(c *Connection) bool { return want[c.ID] }); n == len(connections) {
		return nil
	}
	return cm.forward(Envelope{SessionID: sessionID, Connections: connections, Packet: data})
}

func (cm *ConnectionManager) encode(packetType string, sessionID uuid.UUID, payload any) ([]byte, error) {
	packet, err := NewPacket(packetType, sessionID, payload, time.Now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(packet)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}
	return data, nil
}

func (cm *ConnectionManager) forward(env Envelope) error {
	cm.relayMu.RLock()
	relay := cm.relay
	cm.relayMu.RUnlock()
	if relay == nil {
		return nil
	}
	if err := relay.Forward(env); err != nil {
		return fmt.Errorf("relay packet: %w", err)
	}
	return nil
}

// deliver enqueues data on the session's connections accepted by match and
// returns how many received it. Connections with a full buffer are dropped.
func (cm *ConnectionManager) deliver(sessionID uuid.UUID, data []byte, match func(*Connection) bool) int {
	delivered := 0
	var slow []*Connection

	// Send channels are only closed under the write lock.
	cm.mu.RLock()
	for conn := range cm.sessionConnections[sessionID] {
		if !match(conn) {
			continue
		}
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("participant_id", conn.ParticipantID.String()).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
	return delivered
}

// Stats summarises active connections.
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID.String()] = len(connections)
	}
	return stats
}

// CloseAll closes every open connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, conn := range cm.byID {
		all = append(all, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// LastPing returns when the client last answered a ping.
func (c *Connection) LastPing() time.Time {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.lastPing
}

func (c *Connection) touch() {
	c.pingMu.Lock()
	c.lastPing = time.Now()
	c.pingMu.Unlock()
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case ClientLocation:
		loc := models.Location{Lat: msg.Lat, Lng: msg.Lng}
		if err := c.Manager.sessions.UpdateLocation(context.Background(), c.SessionID, c.ParticipantID, loc); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Str("participant_id", c.ParticipantID.String()).
				Msg("location update rejected")
		}
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", msg.Type).
			Msg("unknown client message type")
	}
}
