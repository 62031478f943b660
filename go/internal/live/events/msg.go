package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Header keys carried on every published event.
const (
	HeaderEventType = "Event-Type"
	HeaderEventID   = "Event-ID"
	HeaderSessionID = "Session-ID"
)

func newMsg(subject string, event Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderEventType, event.Type)
	msg.Header.Set(HeaderEventID, event.ID.String())
	msg.Header.Set(HeaderSessionID, event.SessionID.String())
	return msg, nil
}

// DecodeMsg turns a received message back into an Event.
func DecodeMsg(msg *nats.Msg) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
