package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for document validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("playbook", builtinPlaybookSchema)
	sr.RegisterSchema("task", builtinTaskSchema)
	sr.RegisterSchema("input", builtinInputSchema)
}

// RegisterSchema compiles and registers a CUE schema under the given
// name. When the schema source contains a definition matching the name
// (schema "playbook" and definition #Playbook), that definition is the
// one documents validate against; otherwise the whole compiled value is
// used.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if def := val.LookupPath(cue.MakePath(cue.Def(definitionName(name)))); def.Exists() {
		val = def
	}

	sr.schemas[name] = val
	return nil
}

// definitionName maps a schema name to its CUE definition label.
func definitionName(name string) string {
	if name == "" {
		return name
	}
	return "#" + strings.ToUpper(name[:1]) + name[1:]
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidatePlaybook validates a raw playbook document against the
// playbook schema.
func (sr *SchemaRegistry) ValidatePlaybook(ctx context.Context, doc map[string]interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "playbook", doc)
}

// Built-in schema definitions

const builtinPlaybookSchema = `
// Playbook schema for fleetplay playbook documents
#Playbook: {
	// Name identifies the playbook in logs and reports
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// Version is the playbook revision
	version?: string

	// Author identifies who maintains the playbook
	author?: string

	// Description is a human-readable summary
	description?: string

	// Tags classify the playbook
	tags?: [...string]

	// RunAs is the caller identity dispatched requests carry
	run_as?: string

	// OnFail is the default failure policy for tasks
	on_fail?: "fail" | "continue" | "retry"

	// Loglevel is the minimum log level for this run
	loglevel?: "debug" | "info" | "warn" | "error"

	// Inputs declares the values a run can be parameterized with
	inputs?: {[string]: #Input}

	// Uses declares the agents and actions tasks may invoke
	uses?: {[string]: [...string]}

	// Nodes declares the node groups tasks dispatch against
	nodes: {[string]: #NodeGroup}

	// Tasks run in declaration order
	tasks: [...#Task]

	// Hooks run around the task sequence
	hooks?: {
		pre?: [...#Task]
		post?: [...#Task]
		on_fail?: [...#Task]
	}
}

#Input: {
	// Type is the declared input type
	type: "string" | "integer" | "boolean" | "list"

	// Required inputs must be supplied at run time
	required?: bool

	// Default is used when the input is not supplied
	default?: _

	// Validation is a regular expression string inputs must match
	validation?: string

	// Description documents the input
	description?: string
}

#NodeGroup: string | [...string] | {
	// Filter is an inventory selector expression
	filter?: string

	// List enumerates nodes explicitly
	list?: [...string]
}

#Task: {
	// Name identifies the task in logs and reports
	name?: string

	// Group is the node group the task dispatches against
	group: string

	// Agent and action name the remote operation
	agent:  string
	action: string

	// Options are passed to the agent verbatim
	options?: {...}

	// Timeout bounds each dispatch round, in seconds
	timeout?: int & >0

	// Tries caps total attempts under the retry policy
	tries?: int & >0
}
`

const builtinTaskSchema = `
// Task schema for standalone task validation
#Task: {
	name?:   string
	group:   string
	agent:   string
	action:  string
	options?: {...}
	timeout?: int & >0
	tries?:   int & >0
}
`

const builtinInputSchema = `
// Input schema for standalone input declaration validation
#Input: {
	type:        "string" | "integer" | "boolean" | "list"
	required?:   bool
	default?:    _
	validation?: string
	description?: string
}
`
