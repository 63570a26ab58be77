package playbook

import (
	"time"

	"github.com/fleetplay/fleetplay/pkg/rpc"
)

// TaskStatus is the terminal state of one task within a run.
type TaskStatus string

const (
	// TaskStatusSucceeded means every targeted node responded successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusFailed means at least one node failed or timed out.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped means the task never ran because an earlier task
	// aborted the run.
	TaskStatusSkipped TaskStatus = "skipped"
)

// DispatchReport is the orchestrator's aggregate outcome for one task
// dispatch: total nodes attempted, per-node status, and per-node response
// payload or error detail.
type DispatchReport struct {
	// RequestID identifies the dispatch round.
	RequestID string `json:"request_id"`

	// Attempted is the total number of nodes targeted.
	Attempted int `json:"attempted"`

	// Batches is the number of RPC rounds issued.
	Batches int `json:"batches"`

	// Results holds one entry per targeted node, in batch order.
	Results []*rpc.NodeResult `json:"results"`

	// Failed lists the identifiers of nodes that failed or timed out.
	Failed []string `json:"failed,omitempty"`

	// Duration is the wall time spent across all batches.
	Duration time.Duration `json:"duration"`
}

// OK reports whether every targeted node responded successfully.
func (r *DispatchReport) OK() bool {
	return len(r.Failed) == 0
}

// Merge folds a follow-up dispatch (a retry of the failed subset) into
// the report, replacing the superseded per-node results.
func (r *DispatchReport) Merge(retry *DispatchReport) {
	byNode := make(map[string]int, len(r.Results))
	for i, res := range r.Results {
		byNode[res.Node] = i
	}

	for _, res := range retry.Results {
		if i, ok := byNode[res.Node]; ok {
			r.Results[i] = res
		} else {
			r.Results = append(r.Results, res)
		}
	}

	r.Batches += retry.Batches
	r.Duration += retry.Duration

	r.Failed = r.Failed[:0]
	for _, res := range r.Results {
		if !res.OK() {
			r.Failed = append(r.Failed, res.Node)
		}
	}
}

// TaskReport is the outcome of one task or hook.
type TaskReport struct {
	// Name is the task description or generated name.
	Name string `json:"name"`

	// Agent and Action identify the RPC capability invoked.
	Agent  string `json:"agent"`
	Action string `json:"action"`

	// Group is the node group the task targeted.
	Group string `json:"group"`

	// Hook is set when the entry was a lifecycle hook rather than an
	// ordinary task.
	Hook string `json:"hook,omitempty"`

	// Status is the terminal task state.
	Status TaskStatus `json:"status"`

	// Attempts counts dispatch rounds including retries.
	Attempts int `json:"attempts"`

	// StartedAt and Duration time the task.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Dispatch is the aggregate node-level outcome. Nil for skipped tasks.
	Dispatch *DispatchReport `json:"dispatch,omitempty"`

	// Error is the failure detail when Status is failed.
	Error string `json:"error,omitempty"`
}

// RunReport is the externally observable result of one playbook run. It
// always enumerates every attempted node's outcome, even when the run was
// aborted early, so operators can see which nodes succeeded before the
// abort point.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Playbook and Version identify the executed document.
	Playbook string `json:"playbook"`
	Version  string `json:"version"`

	// Success is true when every task succeeded.
	Success bool `json:"success"`

	// Tasks holds per-task outcomes in execution order, hooks included.
	Tasks []*TaskReport `json:"tasks"`

	// StartedAt, CompletedAt and Duration time the run.
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	// Error is the failure that aborted the run, if any.
	Error string `json:"error,omitempty"`
}

// NodeOutcomes flattens the run into a per-node view: the last observed
// result for every node touched by any task.
func (r *RunReport) NodeOutcomes() map[string]*rpc.NodeResult {
	out := make(map[string]*rpc.NodeResult)
	for _, task := range r.Tasks {
		if task.Dispatch == nil {
			continue
		}
		for _, res := range task.Dispatch.Results {
			out[res.Node] = res
		}
	}
	return out
}

// FailedTasks returns the reports of tasks that failed.
func (r *RunReport) FailedTasks() []*TaskReport {
	var failed []*TaskReport
	for _, task := range r.Tasks {
		if task.Status == TaskStatusFailed {
			failed = append(failed, task)
		}
	}
	return failed
}
