package playbook

import (
	"context"
	"fmt"
	"sort"

	"github.com/fleetplay/fleetplay/pkg/rpc"
)

// Uses declares the RPC agents a playbook depends on: a mapping from
// agent name to the ordered set of actions the playbook will invoke.
type Uses struct {
	agents map[string][]string
	order  []string

	prepared bool
}

// NewUses creates an empty agent dependency collection.
func NewUses() *Uses {
	return &Uses{agents: make(map[string][]string)}
}

// FromMap parses the raw uses sub-document. Each entry maps an agent name
// to a list of required action names. Parsing is pure; availability
// checking is deferred to Prepare.
func (u *Uses) FromMap(raw map[string]any) error {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		actions, err := stringList(raw[name])
		if err != nil {
			return NewValidationError("agent actions must be a list of strings", []string{fmt.Sprintf("%s: %v", name, err)})
		}
		u.agents[name] = actions
		u.order = append(u.order, name)
	}

	return nil
}

// Prepare validates every declared agent against the controller's
// registry. It fails fast with an error naming the first missing agent or
// action; no partial recovery is attempted.
func (u *Uses) Prepare(ctx context.Context, registry rpc.AgentRegistry) error {
	for _, name := range u.order {
		info, err := registry.Agent(ctx, name)
		if err != nil {
			return NewAgentUnavailableError(name, err)
		}

		for _, action := range u.agents[name] {
			if !info.HasAction(action) {
				return NewAgentUnavailableError(fmt.Sprintf("%s#%s", name, action), nil)
			}
		}
	}

	u.prepared = true
	return nil
}

// Agents returns the declared agent names in declaration order.
func (u *Uses) Agents() []string {
	out := make([]string, len(u.order))
	copy(out, u.order)
	return out
}

// Actions returns the required actions declared for an agent.
func (u *Uses) Actions(agent string) ([]string, bool) {
	actions, ok := u.agents[agent]
	return actions, ok
}

// Declares reports whether the playbook declared a dependency on the
// agent and action pair.
func (u *Uses) Declares(agent, action string) bool {
	actions, ok := u.agents[agent]
	if !ok {
		return false
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// Prepared reports whether Prepare has completed successfully.
func (u *Uses) Prepared() bool {
	return u.prepared
}
