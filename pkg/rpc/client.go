package rpc

import "context"

// Client dispatches one agent action against a node set and returns a
// result for every targeted node. Within one call the transport contacts
// nodes concurrently; a node that times out is reported as failed without
// blocking collection of the remaining nodes' replies.
//
// Implementations must return one NodeResult per node in req.Nodes, even
// for nodes that were unreachable.
type Client interface {
	Dispatch(ctx context.Context, req *Request) ([]*NodeResult, error)
}

// AgentRegistry reports which agents and actions are available on the
// controller. The engine validates a playbook's declared dependencies
// against it before any node is contacted.
type AgentRegistry interface {
	// Agent returns the agent's capability description, or an error when
	// the agent is not available.
	Agent(ctx context.Context, name string) (*AgentInfo, error)
}
