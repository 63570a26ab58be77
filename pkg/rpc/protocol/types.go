// Package protocol defines the JSON-over-stdio framing spoken between the
// fleetplay controller and the per-node agent runner. Each frame is one
// newline-terminated JSON envelope carrying a typed payload.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the payload carried by a frame.
type MessageType string

const (
	// MessageTypeHello is the runner's opening frame announcing its
	// version and the agents it can serve.
	MessageTypeHello MessageType = "HELLO"

	// MessageTypeInvoke asks the runner to execute one agent action.
	MessageTypeInvoke MessageType = "INVOKE"

	// MessageTypeEvent is a progress note emitted while an invocation is
	// in flight.
	MessageTypeEvent MessageType = "EVENT"

	// MessageTypeReply carries the successful result of an invocation.
	MessageTypeReply MessageType = "REPLY"

	// MessageTypeFail reports that an invocation could not complete.
	MessageTypeFail MessageType = "FAIL"

	// MessageTypeBye is the runner's final frame before it exits.
	MessageTypeBye MessageType = "BYE"
)

// Message is the envelope common to every frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AgentAdvert describes one agent the runner can serve.
type AgentAdvert struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Actions []string `json:"actions"`
}

// HelloMessage announces runner identity and capabilities.
type HelloMessage struct {
	Version  string        `json:"version"`
	Node     string        `json:"node"`
	Platform string        `json:"platform"`
	PID      int           `json:"pid"`
	Agents   []AgentAdvert `json:"agents"`
}

// InvokeMessage asks the runner to execute one agent action.
type InvokeMessage struct {
	// RequestID ties replies and events back to the dispatch round.
	RequestID string `json:"request_id"`

	// Agent and Action identify the capability to execute.
	Agent  string `json:"agent"`
	Action string `json:"action"`

	// Options are the action parameters.
	Options json.RawMessage `json:"options,omitempty"`

	// OptionsPath points at a staged options file when the inline payload
	// would exceed the frame size limit.
	OptionsPath string `json:"options_path,omitempty"`

	// Timeout bounds the invocation, in seconds.
	Timeout int `json:"timeout"`

	// Caller is the identity the playbook runs as, for audit and policy.
	Caller string `json:"caller,omitempty"`
}

// EventMessage is a progress note for an in-flight invocation.
type EventMessage struct {
	RequestID string `json:"request_id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// ReplyMessage carries a successful invocation result.
type ReplyMessage struct {
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Duration  float64         `json:"duration"` // seconds
}

// FailMessage reports a failed invocation.
type FailMessage struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ByeMessage is sent before the runner terminates.
type ByeMessage struct {
	Reason      string `json:"reason"`
	ExitCode    int    `json:"exit_code"`
	Invocations int    `json:"invocations"`
}

// Validate checks the message type is one the protocol defines.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeHello, MessageTypeInvoke, MessageTypeEvent,
		MessageTypeReply, MessageTypeFail, MessageTypeBye:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks the invocation frame is well formed.
func (m *InvokeMessage) Validate() error {
	if m.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if m.Agent == "" || m.Action == "" {
		return fmt.Errorf("agent and action are required")
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(m.Options) > 0 && m.OptionsPath != "" {
		return fmt.Errorf("inline options and a staged options path are mutually exclusive")
	}
	return nil
}

// Validate checks the event frame is well formed, defaulting the level.
func (m *EventMessage) Validate() error {
	if m.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if m.Level == "" {
		m.Level = "info"
	}
	switch m.Level {
	case "debug", "info", "warn":
		return nil
	default:
		return fmt.Errorf("invalid event level: %s", m.Level)
	}
}
