// Package rpc defines the transport boundary of the fleetplay engine: the
// Client interface used by the orchestrator to dispatch one agent action
// against a set of nodes, and the AgentRegistry interface used to verify
// that the agents a playbook depends on are available on the controller.
//
// The engine never depends on a concrete transport. The sshrpc subpackage
// provides the reference implementation.
package rpc
