package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block the run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be overridden.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Task names the task the violation applies to, when task-scoped.
	Task string `json:"task,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Decision represents the outcome of evaluating a run against all
// active policies.
type Decision struct {
	// Allowed indicates if the run may proceed. Error and critical
	// violations block; warnings and informational findings do not.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems (a policy that failed to
	// evaluate) that did not produce violations.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// RunInput is the document policies evaluate: the prepared run, after
// inputs, agents, and node groups are resolved but before the first
// dispatch.
type RunInput struct {
	// Playbook is the playbook name.
	Playbook string `json:"playbook"`

	// Version is the playbook version.
	Version string `json:"version"`

	// RunAs is the caller identity dispatched requests will carry.
	RunAs string `json:"run_as,omitempty"`

	// OnFail is the playbook failure policy.
	OnFail string `json:"on_fail"`

	// Tasks are the prepared tasks in execution order.
	Tasks []TaskInput `json:"tasks"`

	// Context provides additional evaluation context.
	Context *RunContext `json:"context"`
}

// TaskInput is the policy view of one prepared task.
type TaskInput struct {
	// Name is the task name.
	Name string `json:"name"`

	// Group is the node group the task dispatches against.
	Group string `json:"group"`

	// Agent and Action name the remote operation.
	Agent  string `json:"agent"`
	Action string `json:"action"`

	// Nodes are the resolved nodes of the task's group.
	Nodes []string `json:"nodes"`

	// Options are the task options passed to the agent.
	Options map[string]interface{} `json:"options,omitempty"`
}

// RunContext provides context information for policy evaluation.
type RunContext struct {
	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// DryRun indicates the run will not dispatch anything.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Bundle represents a collection of related policies distributed as one
// JSON document.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
