package playbook

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetplay/fleetplay/pkg/rpc"
)

// Mock collaborators shared by the engine tests.

type mockClient struct {
	mu       sync.Mutex
	requests []*rpc.Request

	// failNodes and timeoutNodes script per-node outcomes.
	failNodes    map[string]bool
	timeoutNodes map[string]bool

	// healAfter clears a node's scripted failure after N dispatches that
	// targeted it, to exercise retry behaviour.
	healAfter map[string]int
	seen      map[string]int

	// err makes the transport itself break down.
	err error
}

func newMockClient() *mockClient {
	return &mockClient{
		failNodes:    make(map[string]bool),
		timeoutNodes: make(map[string]bool),
		healAfter:    make(map[string]int),
		seen:         make(map[string]int),
	}
}

func (c *mockClient) Dispatch(_ context.Context, req *rpc.Request) ([]*rpc.NodeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	copied := *req
	c.requests = append(c.requests, &copied)

	results := make([]*rpc.NodeResult, 0, len(req.Nodes))
	for _, node := range req.Nodes {
		c.seen[node]++
		res := &rpc.NodeResult{Node: node, Status: rpc.StatusOK, Duration: time.Millisecond}

		healed := c.healAfter[node] > 0 && c.seen[node] > c.healAfter[node]
		switch {
		case c.timeoutNodes[node] && !healed:
			res.Status = rpc.StatusTimeout
			res.Error = "no reply within timeout"
		case c.failNodes[node] && !healed:
			res.Status = rpc.StatusFailed
			res.Error = "action reported failure"
		}
		results = append(results, res)
	}

	return results, nil
}

func (c *mockClient) dispatchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type mockRegistry struct {
	agents map[string][]string
}

func (r *mockRegistry) Agent(_ context.Context, name string) (*rpc.AgentInfo, error) {
	actions, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("no agent %s", name)
	}
	return &rpc.AgentInfo{Name: name, Actions: actions}, nil
}

type mockDiscoverer struct {
	filters map[string][]string
}

func (d *mockDiscoverer) Resolve(_ context.Context, filter string) ([]string, error) {
	nodes, ok := d.filters[filter]
	if !ok {
		return nil, fmt.Errorf("no nodes match %q", filter)
	}
	return nodes, nil
}

// testDocument is a small but complete playbook document.
func testDocument() map[string]any {
	return map[string]any{
		"name":        "restart-web",
		"version":     "1.2.0",
		"author":      "ops",
		"description": "rolling restart of the web tier",
		"tags":        []any{"web", "maintenance"},
		"run_as":      "deployer",
		"inputs": map[string]any{
			"cluster": map[string]any{
				"type":        "string",
				"required":    true,
				"description": "target cluster",
			},
		},
		"uses": map[string]any{
			"service": []any{"restart", "status"},
		},
		"nodes": map[string]any{
			"web": map[string]any{
				"filter": "group={{{ inputs.cluster }}}",
			},
		},
		"tasks": []any{
			map[string]any{
				"name":   "restart web services",
				"group":  "web",
				"agent":  "service",
				"action": "restart",
				"options": map[string]any{
					"service": "nginx",
				},
			},
		},
	}
}

func testEngine(client *mockClient, batchSize int) *Playbook {
	return New(Options{
		Logger:   zerolog.Nop(),
		Client:   client,
		Registry: &mockRegistry{agents: map[string][]string{"service": {"restart", "status"}, "shell": {"run"}}},
		Discoverer: &mockDiscoverer{filters: map[string][]string{
			"group=prod": {"web1", "web2", "web3", "web4", "web5"},
		}},
		BatchSize:  batchSize,
		RetryDelay: time.Millisecond,
	})
}

func TestFromMapMetadataRoundTrip(t *testing.T) {
	p := testEngine(newMockClient(), 2)
	if err := p.FromMap(testDocument()); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	md := p.Metadata()
	if md.Name != "restart-web" || md.Version != "1.2.0" || md.Author != "ops" {
		t.Errorf("metadata fields not carried: %+v", md)
	}
	if len(md.Tags) != 2 || md.Tags[0] != "web" {
		t.Errorf("tags not preserved: %v", md.Tags)
	}

	// Omitted on_fail and loglevel take their declared defaults.
	if md.OnFail != PolicyFail {
		t.Errorf("expected default on_fail=fail, got %s", md.OnFail)
	}
	if md.LogLevel != "info" {
		t.Errorf("expected default loglevel=info, got %s", md.LogLevel)
	}
}

func TestMetadataItem(t *testing.T) {
	p := testEngine(newMockClient(), 2)
	if err := p.FromMap(testDocument()); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	name, err := p.MetadataItem("name")
	if err != nil {
		t.Fatalf("MetadataItem(name) failed: %v", err)
	}
	if name != "restart-web" {
		t.Errorf("expected declared name, got %v", name)
	}

	_, err = p.MetadataItem("unknown")
	if err == nil {
		t.Fatal("expected error for unknown metadata item")
	}
	var pbErr *Error
	if !asPlaybookError(err, &pbErr) || pbErr.Kind != KindNotFound || pbErr.Subject != "unknown" {
		t.Errorf("expected not-found error naming \"unknown\", got %v", err)
	}
}

func TestPrepareStepOrder(t *testing.T) {
	cases := []struct {
		name      string
		breakStep string
		wantSteps []string
	}{
		{
			name:      "all steps in order",
			wantSteps: []string{"inputs", "uses", "nodes", "tasks"},
		},
		{
			name:      "uses failure stops nodes and tasks",
			breakStep: "uses",
			wantSteps: []string{"inputs", "uses"},
		},
		{
			name:      "inputs failure stops everything else",
			breakStep: "inputs",
			wantSteps: []string{"inputs"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := testDocument()
			inputData := map[string]any{"cluster": "prod"}

			registry := &mockRegistry{agents: map[string][]string{"service": {"restart", "status"}}}
			if tc.breakStep == "uses" {
				registry.agents = map[string][]string{}
			}
			if tc.breakStep == "inputs" {
				inputData = map[string]any{}
			}

			tracker := &stepTracker{registry: registry}
			p := New(Options{
				Logger:   zerolog.Nop(),
				Client:   newMockClient(),
				Registry: tracker,
				Discoverer: &trackingDiscoverer{tracker: tracker, filters: map[string][]string{
					"group=prod": {"web1"},
				}},
			})
			if err := p.FromMap(doc); err != nil {
				t.Fatalf("FromMap failed: %v", err)
			}
			p.inputData = inputData

			err := p.Prepare(context.Background())
			if tc.breakStep == "" && err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}
			if tc.breakStep != "" && err == nil {
				t.Fatal("expected Prepare to fail")
			}

			steps := tracker.observed(p)
			if len(steps) != len(tc.wantSteps) {
				t.Fatalf("expected steps %v, observed %v", tc.wantSteps, steps)
			}
			for i, want := range tc.wantSteps {
				if steps[i] != want {
					t.Errorf("step %d: expected %s, observed %s", i, want, steps[i])
				}
			}
		})
	}
}

// stepTracker observes which preparation steps actually ran by acting as
// the registry (uses step) and recording component state transitions.
type stepTracker struct {
	mu       sync.Mutex
	registry *mockRegistry
	usesHit  bool
	nodesHit bool
}

func (s *stepTracker) Agent(ctx context.Context, name string) (*rpc.AgentInfo, error) {
	s.mu.Lock()
	s.usesHit = true
	s.mu.Unlock()
	return s.registry.Agent(ctx, name)
}

type trackingDiscoverer struct {
	tracker *stepTracker
	filters map[string][]string
}

func (d *trackingDiscoverer) Resolve(_ context.Context, filter string) ([]string, error) {
	d.tracker.mu.Lock()
	d.tracker.nodesHit = true
	d.tracker.mu.Unlock()
	nodes, ok := d.filters[filter]
	if !ok {
		return nil, fmt.Errorf("no nodes match %q", filter)
	}
	return nodes, nil
}

func (s *stepTracker) observed(p *Playbook) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var steps []string
	// Inputs prepare always runs first; it either succeeded or was the
	// failing step.
	steps = append(steps, "inputs")
	if s.usesHit {
		steps = append(steps, "uses")
	}
	if s.nodesHit {
		steps = append(steps, "nodes")
	}
	if p.Tasks().Prepared() {
		steps = append(steps, "tasks")
	}
	return steps
}

func TestRunPassesThroughReport(t *testing.T) {
	client := newMockClient()
	p := testEngine(client, 2)
	if err := p.FromMap(testDocument()); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	report, err := p.Run(context.Background(), map[string]any{"cluster": "prod"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Success {
		t.Error("expected successful run")
	}
	if len(report.Tasks) != 1 {
		t.Fatalf("expected 1 task report, got %d", len(report.Tasks))
	}
	if report.Tasks[0].Dispatch.Attempted != 5 {
		t.Errorf("expected 5 attempted nodes, got %d", report.Tasks[0].Dispatch.Attempted)
	}
	if report.RunID == "" {
		t.Error("expected a run ID")
	}
}

func TestRunTemplatesNodesFromInputs(t *testing.T) {
	client := newMockClient()
	p := testEngine(client, 10)
	if err := p.FromMap(testDocument()); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	if _, err := p.Run(context.Background(), map[string]any{"cluster": "prod"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The templated filter group={{{ inputs.cluster }}} must have
	// resolved against the prepared input.
	nodes, err := p.Nodes().Group("web")
	if err != nil {
		t.Fatalf("Group(web) failed: %v", err)
	}
	if len(nodes) != 5 {
		t.Errorf("expected 5 resolved nodes, got %v", nodes)
	}
}

func TestRunRequiresDeclaredInputs(t *testing.T) {
	p := testEngine(newMockClient(), 2)
	if err := p.FromMap(testDocument()); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	_, err := p.Run(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected run to fail without required input")
	}
	if !IsValidation(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func asPlaybookError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
