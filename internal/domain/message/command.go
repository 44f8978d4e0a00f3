package message

import (
	"encoding/json"
	"fmt"
)

// CommandName identifies a control-plane instruction to a runtime.
type CommandName string

const (
	CommandPause    CommandName = "pause"
	CommandResume   CommandName = "resume"
	CommandStop     CommandName = "stop"
	CommandSnapshot CommandName = "snapshot"
)

// Command is the payload of a TypeCommand message.
type Command struct {
	Name CommandName     `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// NewCommand builds a command message from the control plane to an agent.
func NewCommand(agentID string, name CommandName) (Message, error) {
	payload, err := json.Marshal(Command{Name: name})
	if err != nil {
		return Message{}, fmt.Errorf("marshal command: %w", err)
	}
	m := New("control-plane", agentID, TypeCommand, payload)
	m.Priority = PriorityCritical
	return m, nil
}

// ParseCommand decodes a command payload.
func ParseCommand(payload json.RawMessage) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return c, fmt.Errorf("parse command: %w", err)
	}
	return c, nil
}
