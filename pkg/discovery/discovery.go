// Package discovery resolves node-selection filter expressions into
// concrete node identifier sets. The engine consumes the Discoverer
// interface; Inventory is the file-backed reference implementation.
package discovery

import "context"

// Discoverer resolves a filter expression to a set of node identifiers.
type Discoverer interface {
	// Resolve returns the node identifiers matching the filter. An empty
	// result is valid; it means the filter matched no nodes.
	Resolve(ctx context.Context, filter string) ([]string, error)
}
