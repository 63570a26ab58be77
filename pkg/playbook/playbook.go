package playbook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetplay/fleetplay/pkg/discovery"
	"github.com/fleetplay/fleetplay/pkg/rpc"
)

// Options carries the collaborators and tunables of one engine instance.
// The RPC client and its authenticated connection are owned by the caller
// and reused across all batches and tasks of a run.
type Options struct {
	// Logger is the base logger; the playbook loglevel metadata adjusts
	// its level unless LogLevel overrides it.
	Logger zerolog.Logger

	// LogLevel, when set, overrides the document's loglevel metadata.
	LogLevel string

	// Client dispatches batched RPC requests.
	Client rpc.Client

	// Registry validates declared agent dependencies.
	Registry rpc.AgentRegistry

	// Discoverer resolves node-group filter expressions.
	Discoverer discovery.Discoverer

	// BatchSize bounds the nodes per RPC round.
	BatchSize int

	// RetryLimit is the number of re-dispatches of a failed node subset
	// under the retry policy.
	RetryLimit int

	// RetryDelay is the fixed pause between retry rounds.
	RetryDelay time.Duration

	// DispatchTimeout is the default per-batch timeout when a task sets
	// none.
	DispatchTimeout time.Duration
}

// Playbook is the top-level engine object: metadata, the four component
// collections, the context stack, and the prepare/run lifecycle. One
// instance executes at most one run at a time.
type Playbook struct {
	metadata Metadata
	inputs   *Inputs
	uses     *Uses
	nodes    *Nodes
	tasks    *Tasks
	ctx      *ContextStack

	inputData map[string]any

	// Raw sub-documents kept for template resolution during Prepare.
	rawUses  map[string]any
	rawNodes map[string]any
	rawTasks []any
	rawHooks map[string]any

	logger       zerolog.Logger
	levelLocked  bool
	client       rpc.Client
	registry     rpc.AgentRegistry
	disco        discovery.Discoverer
	orchestrator *Orchestrator

	retryLimit      int
	retryDelay      time.Duration
	dispatchTimeout time.Duration

	loaded   bool
	prepared bool
}

// New creates an engine instance with the given collaborators.
func New(opts Options) *Playbook {
	p := &Playbook{
		inputs:          NewInputs(),
		uses:            NewUses(),
		nodes:           NewNodes(),
		tasks:           NewTasks(),
		ctx:             NewContextStack(),
		inputData:       make(map[string]any),
		logger:          opts.Logger,
		client:          opts.Client,
		registry:        opts.Registry,
		disco:           opts.Discoverer,
		retryLimit:      opts.RetryLimit,
		retryDelay:      opts.RetryDelay,
		dispatchTimeout: opts.DispatchTimeout,
	}

	if p.retryLimit <= 0 {
		p.retryLimit = 2
	}
	if p.retryDelay <= 0 {
		p.retryDelay = 5 * time.Second
	}
	if p.dispatchTimeout <= 0 {
		p.dispatchTimeout = DefaultDispatchTimeout
	}

	if opts.LogLevel != "" {
		p.applyLogLevel(opts.LogLevel)
		p.levelLocked = true
	}

	p.orchestrator = NewOrchestrator(p, opts.Client, opts.BatchSize)

	return p
}

// FromMap populates metadata and delegates parsing of each sub-document
// to its component. All delegate calls are pure parsing; validation is
// deferred to Prepare. Setting the active log level from the loglevel
// metadata is the one side effect.
func (p *Playbook) FromMap(doc map[string]any) error {
	md, err := metadataFromMap(doc)
	if err != nil {
		return err
	}
	p.metadata = md

	if !p.levelLocked {
		p.applyLogLevel(md.LogLevel)
	}

	if raw, ok := doc["inputs"].(map[string]any); ok {
		if err := p.inputs.FromMap(raw); err != nil {
			return err
		}
	}

	if raw, ok := doc["uses"].(map[string]any); ok {
		p.rawUses = raw
		if err := p.uses.FromMap(raw); err != nil {
			return err
		}
	}

	if raw, ok := doc["nodes"].(map[string]any); ok {
		p.rawNodes = raw
		if err := p.nodes.FromMap(raw); err != nil {
			return err
		}
	}

	rawTasks, _ := doc["tasks"].([]any)
	rawHooks, _ := doc["hooks"].(map[string]any)
	p.rawTasks = rawTasks
	p.rawHooks = rawHooks
	if err := p.tasks.FromMap(rawTasks, rawHooks); err != nil {
		return err
	}

	p.loaded = true
	return nil
}

// Prepare runs the preparation pipeline in strict order: inputs, uses,
// nodes, tasks. Each step must complete before the next starts; a failure
// aborts the pipeline and no remaining step runs. Later steps see the
// context prepared by earlier ones through template resolution.
func (p *Playbook) Prepare(ctx context.Context) error {
	if !p.loaded {
		return NewUserError("playbook document was not loaded", nil)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"inputs", p.prepareInputs},
		{"uses", p.prepareUses},
		{"nodes", p.prepareNodes},
		{"tasks", p.prepareTasks},
	}

	for _, step := range steps {
		p.logger.Debug().Str("step", step.name).Msg("preparing")
		if err := p.ctx.In("prepare/"+step.name, func() error { return step.fn(ctx) }); err != nil {
			return err
		}
	}

	p.prepared = true
	return nil
}

// prepareInputs validates and materializes the caller-supplied input
// data.
func (p *Playbook) prepareInputs(context.Context) error {
	return p.inputs.Prepare(p.inputData)
}

// prepareUses template-resolves the uses sub-document and validates every
// declared agent against the controller registry.
func (p *Playbook) prepareUses(ctx context.Context) error {
	uses := NewUses()
	if p.rawUses != nil {
		resolved, err := p.resolveTemplates(p.rawUses)
		if err != nil {
			return err
		}
		if err := uses.FromMap(resolved.(map[string]any)); err != nil {
			return err
		}
	}

	if p.registry == nil {
		if len(uses.Agents()) > 0 {
			return NewUserError("playbook declares agent dependencies but no registry is configured", nil)
		}
	} else if err := uses.Prepare(ctx, p.registry); err != nil {
		return err
	}

	p.uses = uses
	return nil
}

// prepareNodes template-resolves the nodes sub-document against the
// prepared inputs, then resolves and deduplicates every group.
func (p *Playbook) prepareNodes(ctx context.Context) error {
	nodes := NewNodes()
	if p.rawNodes != nil {
		resolved, err := p.resolveTemplates(p.rawNodes)
		if err != nil {
			return err
		}
		if err := nodes.FromMap(resolved.(map[string]any)); err != nil {
			return err
		}
	}

	if err := nodes.Prepare(ctx, p.disco); err != nil {
		return err
	}

	p.nodes = nodes
	return nil
}

// prepareTasks template-resolves the tasks and hooks sub-documents
// against everything prepared so far, then materializes and validates
// the task collection.
func (p *Playbook) prepareTasks(context.Context) error {
	tasks := NewTasks()

	var resolvedTasks []any
	if p.rawTasks != nil {
		resolved, err := p.resolveTemplates(p.rawTasks)
		if err != nil {
			return err
		}
		resolvedTasks = resolved.([]any)
	}

	var resolvedHooks map[string]any
	if p.rawHooks != nil {
		resolved, err := p.resolveTemplates(p.rawHooks)
		if err != nil {
			return err
		}
		resolvedHooks = resolved.(map[string]any)
	}

	if err := tasks.FromMap(resolvedTasks, resolvedHooks); err != nil {
		return err
	}
	if err := tasks.Prepare(p.nodes, p.uses); err != nil {
		return err
	}

	p.tasks = tasks
	return nil
}

// Run executes the playbook: it records the caller-supplied input data,
// prepares every component, and hands off to the task loop. The task
// loop's report is returned unchanged as the externally observable run
// result. A playbook already prepared (a caller that gated the run on
// an authorization decision in between) is not prepared again.
func (p *Playbook) Run(ctx context.Context, inputData map[string]any) (*RunReport, error) {
	if inputData != nil {
		p.inputData = inputData
	}

	if !p.prepared {
		if err := p.Prepare(ctx); err != nil {
			return nil, err
		}
	}

	p.logger.Info().
		Str("playbook", p.metadata.Name).
		Str("version", p.metadata.Version).
		Str("on_fail", string(p.metadata.OnFail)).
		Msg("starting run")

	return p.tasks.Run(ctx, p)
}

// SetInputData records caller-supplied input values ahead of an explicit
// Prepare call.
func (p *Playbook) SetInputData(data map[string]any) {
	if data != nil {
		p.inputData = data
	}
}

// MetadataItem returns the named metadata field, failing with a
// not-found error carrying the literal key when absent.
func (p *Playbook) MetadataItem(name string) (any, error) {
	return p.metadata.Item(name)
}

// InContext pushes a naming context for the duration of fn and restores
// the previous context on all exit paths.
func (p *Playbook) InContext(name string, fn func() error) error {
	return p.ctx.In(name, fn)
}

// Metadata returns the playbook's descriptive record.
func (p *Playbook) Metadata() Metadata {
	return p.metadata
}

// Inputs returns the input component.
func (p *Playbook) Inputs() *Inputs {
	return p.inputs
}

// Uses returns the agent dependency component.
func (p *Playbook) Uses() *Uses {
	return p.uses
}

// Nodes returns the node group component.
func (p *Playbook) Nodes() *Nodes {
	return p.nodes
}

// Tasks returns the task component.
func (p *Playbook) Tasks() *Tasks {
	return p.tasks
}

// Context returns the context stack.
func (p *Playbook) Context() *ContextStack {
	return p.ctx
}

// Orchestrator returns the batched dispatcher of this run.
func (p *Playbook) Orchestrator() *Orchestrator {
	return p.orchestrator
}

// Prepared reports whether Prepare completed successfully.
func (p *Playbook) Prepared() bool {
	return p.prepared
}

// applyLogLevel adjusts the engine logger to a playbook log level.
func (p *Playbook) applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		p.logger.Warn().Str("loglevel", level).Msg("unknown log level, keeping current")
		return
	}
	p.logger = p.logger.Level(parsed)
}

// Describe renders a one-line summary for operator output.
func (p *Playbook) Describe() string {
	return fmt.Sprintf("%s %s by %s (%d tasks, on_fail=%s)",
		p.metadata.Name, p.metadata.Version, p.metadata.Author,
		len(p.tasks.List()), p.metadata.OnFail)
}
