package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

// cleanRunInput returns a run that violates no built-in policy.
func cleanRunInput() *RunInput {
	return &RunInput{
		Playbook: "restart-web",
		Version:  "1.2.0",
		RunAs:    "deployer",
		OnFail:   "retry",
		Tasks: []TaskInput{
			{
				Name:   "restart web services",
				Group:  "web",
				Agent:  "service",
				Action: "restart",
				Nodes:  []string{"web1", "web2", "web3"},
			},
		},
		Context: &RunContext{
			Environment: "staging",
			Timestamp:   time.Now(),
		},
	}
}

func violationsOf(d *Decision, policy string) []Violation {
	var out []Violation
	for _, v := range d.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	engine := testEngine(t)

	if len(engine.ListPolicies()) != 3 {
		t.Errorf("expected 3 built-in policies, got %d", len(engine.ListPolicies()))
	}
	for _, name := range []string{"caller-identity", "production-safety", "blast-radius"} {
		if _, err := engine.GetPolicy(name); err != nil {
			t.Errorf("built-in policy %s missing: %v", name, err)
		}
	}
}

func TestEvaluateRunAllowsCleanRun(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.EvaluateRun(context.Background(), cleanRunInput())
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("clean run blocked: %+v", decision.Violations)
	}
	if len(decision.Violations) != 0 {
		t.Errorf("unexpected violations: %+v", decision.Violations)
	}
	if len(decision.EvaluatedPolicies) != 3 {
		t.Errorf("evaluated policies = %v", decision.EvaluatedPolicies)
	}
}

func TestEvaluateRunRequiresCallerIdentity(t *testing.T) {
	engine := testEngine(t)

	input := cleanRunInput()
	input.RunAs = ""
	decision, err := engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if decision.Allowed {
		t.Error("run without caller identity should be blocked")
	}
	found := violationsOf(decision, "caller-identity")
	if len(found) != 1 || found[0].Severity != SeverityError {
		t.Errorf("caller-identity violations = %+v", found)
	}
}

func TestEvaluateRunRejectsMalformedIdentity(t *testing.T) {
	engine := testEngine(t)

	input := cleanRunInput()
	input.RunAs = "Deploy Bot!"
	decision, err := engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if decision.Allowed {
		t.Error("malformed caller identity should be blocked")
	}
}

func TestEvaluateRunBlocksDestructiveActionsInProduction(t *testing.T) {
	engine := testEngine(t)

	input := cleanRunInput()
	input.Context.Environment = "production"
	input.Tasks = append(input.Tasks, TaskInput{
		Name:   "reboot web fleet",
		Group:  "web",
		Agent:  "power",
		Action: "reboot",
		Nodes:  []string{"web1", "web2"},
	})

	decision, err := engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if decision.Allowed {
		t.Error("destructive production run should be blocked")
	}
	found := violationsOf(decision, "production-safety")
	if len(found) != 1 || found[0].Severity != SeverityCritical || found[0].Task != "reboot web fleet" {
		t.Errorf("production-safety violations = %+v", found)
	}

	// The same run as a dry run passes.
	input.Context.DryRun = true
	decision, err = engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("dry run should pass: %+v", decision.Violations)
	}
}

func TestEvaluateRunWarnsWithoutBlocking(t *testing.T) {
	engine := testEngine(t)

	nodes := make([]string, 150)
	for i := range nodes {
		nodes[i] = "node"
	}
	input := cleanRunInput()
	input.Tasks[0].Nodes = nodes

	decision, err := engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("warning-only violations should not block the run")
	}
	if found := violationsOf(decision, "blast-radius"); len(found) != 1 {
		t.Errorf("blast-radius violations = %+v", found)
	}
}

func TestDisablePolicy(t *testing.T) {
	engine := testEngine(t)

	if err := engine.DisablePolicy("caller-identity"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	input := cleanRunInput()
	input.RunAs = ""
	decision, err := engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("disabled policy should not be evaluated")
	}

	if err := engine.EnablePolicy("caller-identity"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	decision, err = engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if decision.Allowed {
		t.Error("re-enabled policy should block again")
	}
}

func TestEnableDisableUnknownPolicy(t *testing.T) {
	engine := testEngine(t)
	if err := engine.EnablePolicy("absent"); err == nil {
		t.Error("expected an error enabling an unknown policy")
	}
	if err := engine.DisablePolicy("absent"); err == nil {
		t.Error("expected an error disabling an unknown policy")
	}
}

func TestLoadPoliciesFromDisk(t *testing.T) {
	engine := testEngine(t)

	dir := t.TempDir()
	rego := `package fleetplay.policies.site

import rego.v1

deny contains violation if {
	some task in input.tasks
	task.group == "db"
	violation := {
		"message": sprintf("task '%s' touches the database tier", [task.name]),
		"severity": "error",
		"task": task.name,
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "no-db-tier.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	if err := engine.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	input := cleanRunInput()
	input.Tasks[0].Group = "db"
	input.Tasks[0].Name = "restart db"
	decision, err := engine.EvaluateRun(context.Background(), input)
	if err != nil {
		t.Fatalf("EvaluateRun failed: %v", err)
	}
	if decision.Allowed {
		t.Error("site policy violation should block the run")
	}
	found := violationsOf(decision, "no-db-tier")
	if len(found) != 1 || found[0].Task != "restart db" {
		t.Errorf("site policy violations = %+v", found)
	}
}

func TestLoadPoliciesRejectsBrokenRego(t *testing.T) {
	engine := testEngine(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(path, []byte("package broken\n\ndeny[msg] {"), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	if err := engine.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Error("expected an error compiling broken Rego")
	}
}

func TestReplacePoliciesKeepsBuiltins(t *testing.T) {
	engine := testEngine(t)

	custom := Policy{
		Name:     "custom",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego:     "package fleetplay.policies.custom\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n",
	}
	if err := engine.ReplacePolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	if len(engine.ListPolicies()) != 4 {
		t.Errorf("expected builtins plus one custom policy, got %d", len(engine.ListPolicies()))
	}
	if _, err := engine.GetPolicy("caller-identity"); err != nil {
		t.Errorf("builtin lost after replace: %v", err)
	}
	if _, err := engine.GetPolicy("custom"); err != nil {
		t.Errorf("custom policy missing: %v", err)
	}
}
