// Package relay maintains a long-lived WebSocket session with a remote
// control plane: it pushes colony state on a timer and executes commands
// arriving from the remote.
package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Protocol version sent in the connect frame.
const Version = "1"

// Outbound frame types (client to relay).
const (
	TypeConnect       = "connect"
	TypeStateUpdate   = "state_update"
	TypeCommandResult = "command_result"
	TypePong          = "pong"
)

// Inbound frame types (relay to client).
const (
	TypeConnected = "connected"
	TypePing      = "ping"
	TypeError     = "error"
	TypeCommand   = "command"
)

// Envelope is the common shape of every frame; Payload carries the
// type-specific fields.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectPayload identifies the colony on session start.
type ConnectPayload struct {
	ColonyID  string `json:"colony_id"`
	AuthToken string `json:"auth_token"`
	Version   string `json:"version"`
}

// AgentSnapshot is one agent's row in a state update. Status is derived
// from the multiplexer (pane present or not), never from state.json.
type AgentSnapshot struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Status       string    `json:"status"` // running | stopped
	LastActivity time.Time `json:"last_activity"`
}

// TaskSnapshot is one task's row in a state update.
type TaskSnapshot struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Assigned string `json:"assigned,omitempty"`
	Progress int    `json:"progress"`
}

// MessageSnapshot is one recent message in a state update.
type MessageSnapshot struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Type      string    `json:"message_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StateUpdate is the periodic snapshot pushed to the relay. Messages hold
// at most the 50 most recent entries.
type StateUpdate struct {
	ColonyID  string            `json:"colony_id"`
	Timestamp time.Time         `json:"timestamp"`
	Agents    []AgentSnapshot   `json:"agents"`
	Tasks     []TaskSnapshot    `json:"tasks"`
	Messages  []MessageSnapshot `json:"messages"`
}

// CommandResult reports the outcome of one remote command.
type CommandResult struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorPayload carries a server-side error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CommandType enumerates the remote commands. The set is closed; unknown
// types produce a failed command_result, not a crash.
type CommandType string

const (
	CmdSendMessage      CommandType = "send_message"
	CmdBroadcastMessage CommandType = "broadcast_message"
	CmdCreateTask       CommandType = "create_task"
	CmdStartAgent       CommandType = "start_agent"
	CmdStopAgent        CommandType = "stop_agent"
	CmdRestartAgent     CommandType = "restart_agent"
)

// Command is the tagged union of remote commands; only the fields for the
// given Type are populated.
type Command struct {
	Type        CommandType `json:"type"`
	To          string      `json:"to,omitempty"`
	Content     string      `json:"content,omitempty"`
	MessageType string      `json:"message_type,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	AssignedTo  string      `json:"assigned_to,omitempty"`
	Priority    string      `json:"priority,omitempty"`
	AgentID     string      `json:"agent_id,omitempty"`
}

// CommandEnvelope is the inbound command frame payload.
type CommandEnvelope struct {
	RequestID string  `json:"request_id"`
	Command   Command `json:"command"`
}

func encodeFrame(frameType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", frameType, err)
	}
	return json.Marshal(&Envelope{Type: frameType, Payload: raw})
}
