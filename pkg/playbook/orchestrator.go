package playbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetplay/fleetplay/pkg/rpc"
)

// DefaultBatchSize bounds concurrent load when the caller configures none.
const DefaultBatchSize = 50

// Orchestrator partitions a node set into consecutive batches of at most
// batchSize and issues one RPC request per batch. Batches are strictly
// sequential: a batch's responses are fully collected before the next
// batch is dispatched, bounding peak load to batchSize nodes and keeping
// per-batch result ordering deterministic.
//
// The orchestrator only classifies and aggregates; abort-vs-continue
// decisions belong to the task loop, which applies the playbook's
// on_fail policy.
type Orchestrator struct {
	pb        *Playbook
	client    rpc.Client
	batchSize int
	logger    zerolog.Logger
}

// NewOrchestrator creates an orchestrator for one playbook run. The RPC
// client is owned by the caller and reused across all batches and tasks
// of the run.
func NewOrchestrator(pb *Playbook, client rpc.Client, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		pb:        pb,
		client:    client,
		batchSize: batchSize,
		logger:    pb.logger.With().Str("component", "orchestrator").Logger(),
	}
}

// BatchSize returns the configured batch bound.
func (o *Orchestrator) BatchSize() int {
	return o.batchSize
}

// Dispatch runs one agent action against the node set, batch by batch,
// and returns the aggregate report. The returned report carries one
// result per targeted node; the error is non-nil only when the transport
// itself broke down, not when individual nodes failed.
func (o *Orchestrator) Dispatch(ctx context.Context, nodes []string, agent, action string, options map[string]any, timeout time.Duration) (*DispatchReport, error) {
	report := &DispatchReport{
		RequestID: uuid.New().String(),
		Attempted: len(nodes),
	}

	if len(nodes) == 0 {
		return report, nil
	}

	started := time.Now()

	for offset := 0; offset < len(nodes); offset += o.batchSize {
		end := offset + o.batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		batch := nodes[offset:end]

		o.logger.Debug().
			Str("request_id", report.RequestID).
			Str("agent", agent).
			Str("action", action).
			Int("batch", report.Batches+1).
			Int("batch_size", len(batch)).
			Msg("dispatching batch")

		results, err := o.client.Dispatch(ctx, &rpc.Request{
			RequestID: report.RequestID,
			Agent:     agent,
			Action:    action,
			Options:   options,
			Nodes:     batch,
			Timeout:   timeout,
			Caller:    o.pb.Metadata().RunAs,
		})
		if err != nil {
			report.Duration = time.Since(started)
			return report, NewDispatchError(
				fmt.Sprintf("dispatch of %s#%s failed", agent, action), batch).
				WithContext(o.pb.Context().Path())
		}

		report.Batches++
		report.Results = append(report.Results, o.accountBatch(batch, results)...)
	}

	for _, res := range report.Results {
		if !res.OK() {
			report.Failed = append(report.Failed, res.Node)
		}
	}

	report.Duration = time.Since(started)

	o.logger.Info().
		Str("request_id", report.RequestID).
		Str("agent", agent).
		Str("action", action).
		Int("attempted", report.Attempted).
		Int("batches", report.Batches).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("dispatch complete")

	return report, nil
}

// accountBatch pairs the transport's replies with the batch's node set,
// synthesizing an unreachable result for any node the transport did not
// report on. Every targeted node ends up with exactly one result.
func (o *Orchestrator) accountBatch(batch []string, results []*rpc.NodeResult) []*rpc.NodeResult {
	byNode := make(map[string]*rpc.NodeResult, len(results))
	for _, res := range results {
		byNode[res.Node] = res
	}

	out := make([]*rpc.NodeResult, 0, len(batch))
	for _, node := range batch {
		if res, ok := byNode[node]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, &rpc.NodeResult{
			Node:   node,
			Status: rpc.StatusUnreachable,
			Error:  "no reply received",
		})
	}

	return out
}
