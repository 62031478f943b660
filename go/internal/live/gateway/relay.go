package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// HeaderOrigin carries the id of the node that published a relayed packet.
const HeaderOrigin = "Origin-Node"

// Envelope is a packet travelling between gateway nodes.
type Envelope struct {
	SessionID     uuid.UUID       `json:"session_id"`
	ParticipantID uuid.UUID       `json:"participant_id,omitempty"`
	Connections   []string        `json:"connections,omitempty"`
	Packet        json.RawMessage `json:"packet"`
}

// Relay fans packets out to the other gateway nodes over core NATS so a
// participant connected elsewhere still receives them.
type Relay struct {
	nc      *nats.Conn
	prefix  string
	nodeID  string
	manager *ConnectionManager
	sub     *nats.Subscription
}

// NewRelay creates a relay publishing under prefix.
func NewRelay(nc *nats.Conn, prefix string, cm *ConnectionManager) *Relay {
	return &Relay{
		nc:      nc,
		prefix:  prefix,
		nodeID:  uuid.New().String(),
		manager: cm,
	}
}

// Subject returns the subject packets of a session travel on.
func Subject(prefix string, sessionID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", prefix, sessionID)
}

// Start subscribes to packets from other nodes and installs the relay on the
// connection manager.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe(r.prefix+".*", r.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.prefix, err)
	}
	r.sub = sub
	r.manager.SetRelay(r)

	log.Info().
		Str("prefix", r.prefix).
		Str("node_id", r.nodeID).
		Msg("packet relay started")
	return nil
}

// Forward publishes env for the other nodes.
func (r *Relay) Forward(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := nats.NewMsg(Subject(r.prefix, env.SessionID))
	msg.Data = data
	msg.Header.Set(HeaderOrigin, r.nodeID)
	return r.nc.PublishMsg(msg)
}

func (r *Relay) handle(msg *nats.Msg) {
	if msg.Header.Get(HeaderOrigin) == r.nodeID {
		return
	}

	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed relayed packet")
		return
	}

	var n int
	if len(env.Connections) > 0 {
		want := make(map[string]bool, len(env.Connections))
		for _, id := range env.Connections {
			want[id] = true
		}
		n = r.manager.deliver(env.SessionID, env.Packet, func(c *Connection) bool { return want[c.ID] })
	} else {
		n = r.manager.deliver(env.SessionID, env.Packet, func(c *Connection) bool { return c.ParticipantID == env.ParticipantID })
	}

	log.Debug().
		Str("session_id", env.SessionID.String()).
		Int("connections", n).
		Msg("relayed packet delivered")
}

// Close stops receiving relayed packets.
func (r *Relay) Close() error {
	r.manager.SetRelay(nil)
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
