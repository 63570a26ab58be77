package stores

import "time"

// RunRecord is the persisted header of one playbook run.
type RunRecord struct {
	ID          string     `json:"id"`
	Playbook    string     `json:"playbook"`
	Version     string     `json:"version"`
	Success     bool       `json:"success"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskRecord is the persisted outcome of one task or hook within a run.
type TaskRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	Seq        int     `json:"seq"`
	Name       string  `json:"name"`
	Agent      string  `json:"agent"`
	Action     string  `json:"action"`
	NodeGroup  string  `json:"node_group"`
	Hook       string  `json:"hook,omitempty"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	Attempted  int     `json:"attempted"`
	Batches    int     `json:"batches"`
	Error      *string `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// NodeRecord is the persisted per-node result of one task dispatch.
type NodeRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	TaskSeq    int     `json:"task_seq"`
	Node       string  `json:"node"`
	Status     int     `json:"status"`
	Error      *string `json:"error,omitempty"`
	Payload    *string `json:"payload,omitempty"` // JSON blob
	DurationMS int64   `json:"duration_ms"`
}

// EventLevel is the severity of a run event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Event is one append-only entry in the run event log.
type Event struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}
