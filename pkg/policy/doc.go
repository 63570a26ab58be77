// Package policy provides Rego-based authorization for playbook runs.
//
// # Overview
//
// Before the first task of a run dispatches, the prepared run (caller
// identity, tasks, resolved node sets) is evaluated against all active
// policies. Error and critical violations block the run; warnings are
// reported and the run proceeds.
//
// # Components
//
// Engine: compiles and evaluates Rego policies. Ships with built-in
// policies for caller identity, production safety, and blast radius,
// and accepts site policies loaded from disk.
//
// Loader: reads policies from .rego and .json files and bundles, and
// watches policy directories for changes so edits take effect without a
// restart.
//
// # Policy Shape
//
// Policies receive the run as input and report violations through a
// deny set:
//
//	package fleetplay.policies.example
//
//	import rego.v1
//
//	deny contains violation if {
//	    some task in input.tasks
//	    task.agent == "shell"
//	    violation := {
//	        "message": sprintf("task '%s' runs shell commands", [task.name]),
//	        "severity": "warning",
//	        "task": task.name,
//	    }
//	}
//
// A violation may be a plain string or an object with message, severity,
// and task fields. The policy's own severity applies when the violation
// does not carry one.
//
// # Usage Example
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.LoadPolicies(ctx, []string{"/etc/fleetplay/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	decision, err := engine.EvaluateRun(ctx, input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !decision.Allowed {
//	    // refuse the run
//	}
//
// # Thread Safety
//
// Engine and Loader are safe for concurrent use.
package policy
