package rpc

import (
	"encoding/json"
	"time"
)

// Request describes one dispatch: run an agent action with the given
// options against a concrete node set, within a timeout.
type Request struct {
	// RequestID uniquely identifies this dispatch round.
	RequestID string `json:"request_id"`

	// Agent is the RPC-addressable capability name (e.g. "service").
	Agent string `json:"agent"`

	// Action is the operation to invoke on the agent (e.g. "restart").
	Action string `json:"action"`

	// Options are the action parameters.
	Options map[string]any `json:"options,omitempty"`

	// Nodes is the exact set of node identifiers this request targets.
	Nodes []string `json:"nodes"`

	// Timeout bounds how long to wait for each node's reply.
	Timeout time.Duration `json:"timeout"`

	// Caller is the identity the request runs as, used for authorization
	// on the remote side.
	Caller string `json:"caller,omitempty"`
}

// StatusCode classifies a single node's reply.
type StatusCode int

const (
	// StatusOK indicates the action ran and reported success.
	StatusOK StatusCode = 0

	// StatusFailed indicates the action ran and reported failure.
	StatusFailed StatusCode = 1

	// StatusTimeout indicates no reply arrived within the request timeout.
	StatusTimeout StatusCode = 2

	// StatusUnreachable indicates the node could not be contacted at all.
	StatusUnreachable StatusCode = 3
)

// NodeResult is the per-node outcome of one dispatched request.
type NodeResult struct {
	// Node is the node identifier this result belongs to.
	Node string `json:"node"`

	// Status classifies the outcome.
	Status StatusCode `json:"status"`

	// Error carries the failure detail when Status is not StatusOK.
	Error string `json:"error,omitempty"`

	// Payload is the action's response payload.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Duration is how long the node took to reply.
	Duration time.Duration `json:"duration"`
}

// OK reports whether the node completed the action successfully.
func (r *NodeResult) OK() bool {
	return r.Status == StatusOK
}

// TimedOut reports whether the node failed to reply within the timeout.
func (r *NodeResult) TimedOut() bool {
	return r.Status == StatusTimeout
}

// AgentInfo describes an agent available on the controller.
type AgentInfo struct {
	// Name is the agent name.
	Name string `json:"name"`

	// Version is the agent version.
	Version string `json:"version,omitempty"`

	// Actions lists the operations the agent exposes.
	Actions []string `json:"actions"`

	// Timeout is the agent's default per-request timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HasAction reports whether the agent exposes the named action.
func (a *AgentInfo) HasAction(action string) bool {
	for _, known := range a.Actions {
		if known == action {
			return true
		}
	}
	return false
}
