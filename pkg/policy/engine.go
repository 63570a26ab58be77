package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

// Engine evaluates prepared runs against Rego policies. It ships with
// built-in policies and accepts site policies loaded from disk; a run is
// allowed only when no enabled policy produces an error or critical
// violation.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies
// loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateRun evaluates all enabled policies against a prepared run.
// Policies that fail to evaluate are reported as warnings and do not
// block the run; violations of error or critical severity do.
func (e *Engine) EvaluateRun(ctx context.Context, input *RunInput) (*Decision, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if input.Context == nil {
		input.Context = &RunContext{Timestamp: startTime}
	}

	var allViolations []Violation
	var warnings []string
	evaluated := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluated = append(evaluated, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("playbook", input.Playbook).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		allViolations = append(allViolations, violations...)
	}

	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity == SeverityError || allViolations[i].Severity == SeverityCritical {
			allowed = false
			break
		}
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Str("playbook", input.Playbook).
		Int("violations", len(allViolations)).
		Bool("allowed", allowed).
		Dur("duration", duration).
		Msg("Run policy evaluation completed")

	return &Decision{
		Allowed:           allowed,
		Violations:        allViolations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluated,
		EvaluatedAt:       time.Now(),
		Duration:          duration,
	}, nil
}

// LoadPolicies loads policy files from the given paths and registers
// them alongside the built-ins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplacePolicies swaps all site policies for the given set, keeping the
// built-ins. Used by the hot-reload path.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return err
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	return nil
}

// evaluatePolicy evaluates a single compiled policy against the run.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *RunInput) ([]Violation, error) {
	// Query the deny set of the policy's own package
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	lines := strings.Split(rego, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "fleetplay.policies"
}

// createViolation creates a Violation from a deny set entry.
func (e *Engine) createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if task, ok := v["task"].(string); ok {
			violation.Task = task
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	// Prepare once to surface compile errors at load time
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query("data"),
	)
	if _, err := r.PrepareForEval(ctx); err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
