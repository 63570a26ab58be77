package playbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HookPoint names a lifecycle point a hook task is bound to.
type HookPoint string

const (
	// HookPre runs before the first task.
	HookPre HookPoint = "pre"

	// HookPost runs after all tasks completed successfully.
	HookPost HookPoint = "post"

	// HookOnFail runs when a task fails, before the on_fail policy
	// decides whether the run aborts or continues.
	HookOnFail HookPoint = "on_fail"
)

// DefaultDispatchTimeout bounds a batch when neither the task nor the
// engine configuration sets one.
const DefaultDispatchTimeout = 60 * time.Second

// Task is one executable unit: an agent action dispatched against a node
// group with per-task options and overrides.
type Task struct {
	// Name describes the task; a name is generated when omitted.
	Name string `json:"name"`

	// Group names the node group the task targets.
	Group string `json:"group"`

	// Agent and Action identify the RPC capability to invoke.
	Agent  string `json:"agent"`
	Action string `json:"action"`

	// Options are the action parameters, template-resolved.
	Options map[string]any `json:"options,omitempty"`

	// Timeout overrides the per-batch dispatch timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Tries overrides the engine retry bound under the retry policy:
	// total dispatch attempts including the first.
	Tries int `json:"tries,omitempty"`
}

// Tasks is the ordered task collection of a playbook plus its lifecycle
// hooks. It owns the dispatch loop and applies the on_fail policy.
type Tasks struct {
	list  []*Task
	hooks map[HookPoint][]*Task

	prepared bool
}

// NewTasks creates an empty task collection.
func NewTasks() *Tasks {
	return &Tasks{hooks: make(map[HookPoint][]*Task)}
}

// FromMap parses the raw tasks and hooks sub-documents. Document order is
// preserved as execution order; hooks execute at their declared lifecycle
// point regardless of where they appear in the source.
func (t *Tasks) FromMap(rawTasks []any, rawHooks map[string]any) error {
	for i, raw := range rawTasks {
		task, err := taskFromMap(raw)
		if err != nil {
			return NewValidationError(fmt.Sprintf("task %d is invalid", i+1), []string{err.Error()})
		}
		if task.Name == "" {
			task.Name = fmt.Sprintf("task %d (%s#%s)", i+1, task.Agent, task.Action)
		}
		t.list = append(t.list, task)
	}

	for point, raw := range rawHooks {
		hp := HookPoint(point)
		switch hp {
		case HookPre, HookPost, HookOnFail:
		default:
			return NewValidationError("unknown hook lifecycle point", []string{point})
		}

		entries, ok := raw.([]any)
		if !ok {
			return NewValidationError("hook entries must be a list", []string{point})
		}
		for i, entry := range entries {
			hook, err := taskFromMap(entry)
			if err != nil {
				return NewValidationError(fmt.Sprintf("%s hook %d is invalid", point, i+1), []string{err.Error()})
			}
			if hook.Name == "" {
				hook.Name = fmt.Sprintf("%s hook %d (%s#%s)", point, i+1, hook.Agent, hook.Action)
			}
			t.hooks[hp] = append(t.hooks[hp], hook)
		}
	}

	return nil
}

// taskFromMap parses one task entry.
func taskFromMap(raw any) (*Task, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", raw)
	}

	task := &Task{
		Name:   stringItem(m, "name", ""),
		Group:  stringItem(m, "group", ""),
		Agent:  stringItem(m, "agent", ""),
		Action: stringItem(m, "action", ""),
	}

	if task.Group == "" {
		return nil, fmt.Errorf("task has no node group")
	}
	if task.Agent == "" || task.Action == "" {
		return nil, fmt.Errorf("task has no agent or action")
	}

	if opts, ok := m["options"].(map[string]any); ok {
		task.Options = opts
	}
	if timeout, ok := m["timeout"]; ok {
		seconds, err := intValue(timeout)
		if err != nil {
			return nil, fmt.Errorf("task timeout: %w", err)
		}
		task.Timeout = time.Duration(seconds) * time.Second
	}
	if tries, ok := m["tries"]; ok {
		n, err := intValue(tries)
		if err != nil {
			return nil, fmt.Errorf("task tries: %w", err)
		}
		task.Tries = n
	}

	return task, nil
}

// Prepare validates task references against the already-prepared nodes
// and uses components: every targeted group must be declared and every
// agent/action pair must be a declared dependency.
func (t *Tasks) Prepare(nodes *Nodes, uses *Uses) error {
	check := func(task *Task) error {
		if !nodes.Include(task.Group) {
			return NewUndeclaredGroupError(task.Group).WithContext(task.Name)
		}
		if !uses.Declares(task.Agent, task.Action) {
			return NewValidationError(
				"task invokes an agent action the playbook does not declare in uses",
				[]string{fmt.Sprintf("%s: %s#%s", task.Name, task.Agent, task.Action)})
		}
		return nil
	}

	for _, task := range t.list {
		if err := check(task); err != nil {
			return err
		}
	}
	for _, hooks := range t.hooks {
		for _, hook := range hooks {
			if err := check(hook); err != nil {
				return err
			}
		}
	}

	t.prepared = true
	return nil
}

// List returns the ordered tasks.
func (t *Tasks) List() []*Task {
	out := make([]*Task, len(t.list))
	copy(out, t.list)
	return out
}

// Hooks returns the hooks bound to a lifecycle point.
func (t *Tasks) Hooks(point HookPoint) []*Task {
	out := make([]*Task, len(t.hooks[point]))
	copy(out, t.hooks[point])
	return out
}

// Prepared reports whether Prepare has completed successfully.
func (t *Tasks) Prepared() bool {
	return t.prepared
}

// Run executes every task in declared order against the orchestrator,
// applying the playbook's on_fail policy, and returns the structured run
// report. The report enumerates every attempted node's outcome even when
// the run aborts early.
func (t *Tasks) Run(ctx context.Context, p *Playbook) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Playbook:  p.Metadata().Name,
		Version:   p.Metadata().Version,
		StartedAt: time.Now(),
	}
	logger := p.logger.With().Str("run_id", report.RunID).Logger()

	finish := func(runErr error) (*RunReport, error) {
		report.CompletedAt = time.Now()
		report.Duration = report.CompletedAt.Sub(report.StartedAt)
		report.Success = runErr == nil
		if runErr != nil {
			report.Error = runErr.Error()
		}
		return report, runErr
	}

	// Pre hooks run before the first task. A failing pre hook is fatal
	// and never triggers the on_fail hook: hooks do not invoke hooks.
	for _, hook := range t.hooks[HookPre] {
		tr := t.runOne(ctx, p, hook, string(HookPre))
		report.Tasks = append(report.Tasks, tr)
		if tr.Status == TaskStatusFailed {
			logger.Error().Str("hook", hook.Name).Msg("pre hook failed, aborting run")
			t.skipRemaining(report, 0)
			return finish(NewDispatchError(fmt.Sprintf("pre hook %s failed", hook.Name), tr.failedNodes()))
		}
	}

	for i, task := range t.list {
		tr := t.runOne(ctx, p, task, "")
		report.Tasks = append(report.Tasks, tr)

		if tr.Status == TaskStatusFailed {
			taskErr := NewDispatchError(
				fmt.Sprintf("task %s failed on %d of %d nodes", task.Name, len(tr.failedNodes()), tr.attempted()),
				tr.failedNodes())

			policy := p.Metadata().OnFail
			logger.Warn().
				Str("task", task.Name).
				Str("policy", string(policy)).
				Strs("failed_nodes", tr.failedNodes()).
				Msg("task failed")

			// Retry exhausted its bound inside runOne, so by the time a
			// retry-policy task is still failed only fail semantics remain.
			t.runFailureHooks(ctx, p, report)
			if policy == PolicyContinue {
				continue
			}
			t.skipRemaining(report, i+1)
			return finish(taskErr)
		}
	}

	// Post hooks run only after every task succeeded.
	for _, hook := range t.hooks[HookPost] {
		tr := t.runOne(ctx, p, hook, string(HookPost))
		report.Tasks = append(report.Tasks, tr)
		if tr.Status == TaskStatusFailed {
			return finish(NewDispatchError(fmt.Sprintf("post hook %s failed", hook.Name), tr.failedNodes()))
		}
	}

	logger.Info().Int("tasks", len(report.Tasks)).Msg("run completed")
	return finish(nil)
}

// runOne executes a single task or hook, including retry-policy
// re-dispatch of the failed node subset, and builds its report entry.
func (t *Tasks) runOne(ctx context.Context, p *Playbook, task *Task, hook string) *TaskReport {
	tr := &TaskReport{
		Name:      task.Name,
		Agent:     task.Agent,
		Action:    task.Action,
		Group:     task.Group,
		Hook:      hook,
		StartedAt: time.Now(),
	}

	err := p.InContext(task.Name, func() error {
		nodes, err := p.Nodes().Group(task.Group)
		if err != nil {
			return err
		}

		timeout := task.Timeout
		if timeout == 0 {
			timeout = p.dispatchTimeout
		}

		dispatch, err := p.Orchestrator().Dispatch(ctx, nodes, task.Agent, task.Action, task.Options, timeout)
		tr.Dispatch = dispatch
		tr.Attempts = 1
		if err != nil {
			return err
		}

		// Under the retry policy, re-dispatch only the nodes that
		// failed, up to the task's bound, before giving up.
		if !dispatch.OK() && hook == "" && p.Metadata().OnFail == PolicyRetry {
			tries := task.Tries
			if tries == 0 {
				tries = p.retryLimit + 1
			}

			for attempt := 2; attempt <= tries && !dispatch.OK(); attempt++ {
				select {
				case <-time.After(p.retryDelay):
				case <-ctx.Done():
					return ctx.Err()
				}

				p.logger.Info().
					Str("task", task.Name).
					Int("attempt", attempt).
					Strs("nodes", dispatch.Failed).
					Msg("retrying failed nodes")

				retry, err := p.Orchestrator().Dispatch(ctx, dispatch.Failed, task.Agent, task.Action, task.Options, timeout)
				tr.Attempts = attempt
				if err != nil {
					return err
				}
				dispatch.Merge(retry)
			}
		}

		return nil
	})

	tr.Duration = time.Since(tr.StartedAt)

	switch {
	case err != nil:
		tr.Status = TaskStatusFailed
		tr.Error = err.Error()
	case tr.Dispatch != nil && !tr.Dispatch.OK():
		tr.Status = TaskStatusFailed
		tr.Error = fmt.Sprintf("%d of %d nodes failed", len(tr.Dispatch.Failed), tr.Dispatch.Attempted)
	default:
		tr.Status = TaskStatusSucceeded
	}

	return tr
}

// runFailureHooks executes the on_fail hooks after a task failure. Hook
// outcomes are recorded in the report but never invoke further hooks.
func (t *Tasks) runFailureHooks(ctx context.Context, p *Playbook, report *RunReport) {
	for _, hook := range t.hooks[HookOnFail] {
		tr := t.runOne(ctx, p, hook, string(HookOnFail))
		report.Tasks = append(report.Tasks, tr)
		if tr.Status == TaskStatusFailed {
			p.logger.Error().Str("hook", hook.Name).Msg("on_fail hook failed")
		}
	}
}

// skipRemaining records a skipped entry for every task after the abort
// point so the report covers the whole declared sequence.
func (t *Tasks) skipRemaining(report *RunReport, from int) {
	for _, task := range t.list[from:] {
		report.Tasks = append(report.Tasks, &TaskReport{
			Name:   task.Name,
			Agent:  task.Agent,
			Action: task.Action,
			Group:  task.Group,
			Status: TaskStatusSkipped,
		})
	}
}

// failedNodes lists the nodes that failed in this task's dispatch.
func (tr *TaskReport) failedNodes() []string {
	if tr.Dispatch == nil {
		return nil
	}
	return tr.Dispatch.Failed
}

// attempted is the number of nodes the task targeted.
func (tr *TaskReport) attempted() int {
	if tr.Dispatch == nil {
		return 0
	}
	return tr.Dispatch.Attempted
}

// intValue coerces a raw document number to int.
func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
