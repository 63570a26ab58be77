package playbook

import (
	"context"
	"fmt"
	"sort"

	"github.com/fleetplay/fleetplay/pkg/discovery"
)

// NodeGroup is one declared set of target nodes. Exactly one selection
// source is used per group: a discovery filter, a literal node list, or a
// templated expression that resolved to a list during preparation.
type NodeGroup struct {
	// Name is the group name tasks refer to.
	Name string `json:"name"`

	// Filter is a discovery filter expression resolved against the
	// discovery collaborator.
	Filter string `json:"filter,omitempty"`

	// List is a literal set of node identifiers.
	List []string `json:"list,omitempty"`

	// resolved is the concrete, deduplicated node set after Prepare.
	resolved []string
}

// Nodes maps group names to resolved node identifier sets.
type Nodes struct {
	groups map[string]*NodeGroup
	order  []string

	prepared bool
}

// NewNodes creates an empty node group collection.
func NewNodes() *Nodes {
	return &Nodes{groups: make(map[string]*NodeGroup)}
}

// FromMap parses the raw nodes sub-document. Each entry declares either a
// "filter" expression or a literal "list". Parsing is pure; filter
// resolution is deferred to Prepare.
func (n *Nodes) FromMap(raw map[string]any) error {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		group := &NodeGroup{Name: name}

		switch decl := raw[name].(type) {
		case map[string]any:
			group.Filter = stringItem(decl, "filter", "")
			if rawList, ok := decl["list"]; ok {
				list, err := stringList(rawList)
				if err != nil {
					return NewValidationError("node list must contain strings", []string{fmt.Sprintf("%s: %v", name, err)})
				}
				group.List = list
			}
			if group.Filter != "" && group.List != nil {
				return NewValidationError("node group declares both a filter and a list", []string{name})
			}
			if group.Filter == "" && group.List == nil {
				return NewValidationError("node group declares neither a filter nor a list", []string{name})
			}
		case []any:
			list, err := stringList(decl)
			if err != nil {
				return NewValidationError("node list must contain strings", []string{fmt.Sprintf("%s: %v", name, err)})
			}
			group.List = list
		case string:
			group.Filter = decl
		default:
			return NewValidationError("node group must be a mapping, list or filter string", []string{name})
		}

		n.groups[name] = group
		n.order = append(n.order, name)
	}

	return nil
}

// Prepare resolves every group against the discovery collaborator and
// deduplicates the results. An empty resolved group is valid.
func (n *Nodes) Prepare(ctx context.Context, disco discovery.Discoverer) error {
	for _, name := range n.order {
		group := n.groups[name]

		var members []string
		if group.Filter != "" {
			if disco == nil {
				return NewUserError(fmt.Sprintf("node group %s needs discovery but none is configured", name), nil)
			}
			found, err := disco.Resolve(ctx, group.Filter)
			if err != nil {
				return NewUserError(fmt.Sprintf("discovery failed for node group %s", name), err)
			}
			members = found
		} else {
			members = group.List
		}

		group.resolved = dedupeNodes(members)
	}

	n.prepared = true
	return nil
}

// Group returns the resolved node set for a declared group. A declared
// but empty group returns an empty set; an undeclared name returns an
// undeclared-group error.
func (n *Nodes) Group(name string) ([]string, error) {
	group, ok := n.groups[name]
	if !ok {
		return nil, NewUndeclaredGroupError(name)
	}

	out := make([]string, len(group.resolved))
	copy(out, group.resolved)
	return out, nil
}

// Include reports whether a group was declared.
func (n *Nodes) Include(name string) bool {
	_, ok := n.groups[name]
	return ok
}

// Keys returns the declared group names in declaration order.
func (n *Nodes) Keys() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Prepared reports whether Prepare has completed successfully.
func (n *Nodes) Prepared() bool {
	return n.prepared
}

// asMap exposes the resolved groups to template expressions.
func (n *Nodes) asMap() map[string]any {
	out := make(map[string]any, len(n.groups))
	for name, group := range n.groups {
		members := make([]any, len(group.resolved))
		for i, m := range group.resolved {
			members[i] = m
		}
		out[name] = members
	}
	return out
}

// dedupeNodes removes duplicate identifiers while preserving first-seen
// order.
func dedupeNodes(nodes []string) []string {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if _, dup := seen[node]; dup {
			continue
		}
		seen[node] = struct{}{}
		out = append(out, node)
	}
	return out
}
