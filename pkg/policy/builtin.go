package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		callerIdentityPolicy(),
		productionSafetyPolicy(),
		blastRadiusPolicy(),
	}
}

// callerIdentityPolicy requires a well-formed caller identity on every
// run.
func callerIdentityPolicy() Policy {
	return Policy{
		Name:        "caller-identity",
		Description: "Requires a well-formed caller identity (run_as) on every run",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"identity", "audit"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fleetplay.policies.identity

import rego.v1

deny contains violation if {
	not input.run_as
	violation := {
		"message": "run has no caller identity (run_as)",
		"severity": "error",
	}
}

deny contains violation if {
	input.run_as
	not regex.match("^[a-z0-9][a-z0-9._-]*$", input.run_as)
	violation := {
		"message": sprintf("caller identity '%s' is not a valid account name", [input.run_as]),
		"severity": "error",
	}
}`,
	}
}

// productionSafetyPolicy blocks destructive actions against production
// fleets unless the run is a dry run.
func productionSafetyPolicy() Policy {
	return Policy{
		Name:        "production-safety",
		Description: "Blocks destructive actions (reboot, shutdown, wipe, reimage) in production without dry run",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"operations", "safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fleetplay.policies.operations

import rego.v1

destructive_actions := ["reboot", "shutdown", "wipe", "reimage"]

deny contains violation if {
	input.context
	input.context.environment == "production"
	not input.context.dry_run

	some task in input.tasks
	some action in destructive_actions
	task.action == action

	violation := {
		"message": sprintf("destructive action %s#%s is not allowed in production", [task.agent, task.action]),
		"severity": "critical",
		"task": task.name,
	}
}

deny contains violation if {
	input.context
	input.context.environment == "production"
	not input.context.dry_run

	some task in input.tasks
	task.agent == "shell"

	violation := {
		"message": sprintf("task '%s' runs arbitrary shell commands in production", [task.name]),
		"severity": "warning",
		"task": task.name,
	}
}`,
	}
}

// blastRadiusPolicy warns when a single run touches a large slice of the
// fleet.
func blastRadiusPolicy() Policy {
	return Policy{
		Name:        "blast-radius",
		Description: "Warns when a task targets a large number of nodes or a run carries many tasks",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"operations", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fleetplay.policies.blast

import rego.v1

max_nodes_per_task := 100

max_tasks_per_run := 25

deny contains violation if {
	some task in input.tasks
	count(task.nodes) > max_nodes_per_task

	violation := {
		"message": sprintf("task '%s' targets %d nodes - please review carefully", [task.name, count(task.nodes)]),
		"severity": "warning",
		"task": task.name,
	}
}

deny contains violation if {
	count(input.tasks) > max_tasks_per_run

	violation := {
		"message": sprintf("run carries %d tasks which exceeds the review threshold of %d", [count(input.tasks), max_tasks_per_run]),
		"severity": "warning",
	}
}`,
	}
}
