// Package message defines the inter-agent message envelope.
package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Broadcast is the reserved recipient meaning "all agents".
const Broadcast = "broadcast"

// Type identifies the kind of message.
type Type string

const (
	TypeRequest   Type = "request"
	TypeResponse  Type = "response"
	TypeEvent     Type = "event"
	TypeCommand   Type = "command"
	TypeHeartbeat Type = "heartbeat"
	TypeBroadcast Type = "broadcast"
	TypeAck       Type = "ack"
)

// ValidTypes lists all recognized message types.
var ValidTypes = []Type{
	TypeRequest, TypeResponse, TypeEvent, TypeCommand,
	TypeHeartbeat, TypeBroadcast, TypeAck,
}

// Priority orders messages and tasks. Higher runs first.
type Priority int

const (
	PriorityCritical   Priority = 10
	PriorityHigh       Priority = 8
	PriorityNormal     Priority = 5
	PriorityLow        Priority = 3
	PriorityBackground Priority = 1
)

// Message is an addressed envelope between agents. Messages are immutable
// once sent and persisted for audit.
type Message struct {
	ID            string          `json:"id"`
	FromAgent     string          `json:"from_agent"`
	ToAgent       string          `json:"to_agent"` // or Broadcast
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      Priority        `json:"priority"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequiresAck   bool            `json:"requires_ack,omitempty"`
	TTLSeconds    int             `json:"ttl_seconds,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// New builds a message with a fresh ID and timestamp.
func New(from, to string, typ Type, payload json.RawMessage) Message {
	return Message{
		ID:        uuid.NewString(),
		FromAgent: from,
		ToAgent:   to,
		Type:      typ,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks required envelope fields. A response must carry the
// correlation ID of the request it answers.
func (m *Message) Validate() error {
	if m.FromAgent == "" {
		return errors.New("from_agent is required")
	}
	if m.ToAgent == "" {
		return errors.New("to_agent is required")
	}
	valid := false
	for _, t := range ValidTypes {
		if m.Type == t {
			valid = true
			break
		}
	}
	if !valid {
		return errors.New("invalid message type")
	}
	if m.Type == TypeResponse && m.CorrelationID == "" {
		return errors.New("response requires correlation_id")
	}
	if m.Priority == 0 {
		m.Priority = PriorityNormal
	}
	return nil
}

// IsBroadcast reports whether the message addresses all agents.
func (m *Message) IsBroadcast() bool {
	return m.ToAgent == Broadcast || m.Type == TypeBroadcast
}
