package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the fleetplay controller.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Task is the associated task name, if applicable.
	Task string `json:"task,omitempty"`

	// Node is the associated node, if applicable.
	Node string `json:"node,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted     = "run.started"
	EventTypeRunCompleted   = "run.completed"
	EventTypeRunFailed      = "run.failed"
	EventTypeTaskStarted    = "task.started"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskFailed     = "task.failed"
	EventTypeNodeFailed     = "node.failed"
	EventTypeRetryScheduled = "retry.scheduled"
	EventTypePolicyDenied   = "policy.denied"
	EventTypeError          = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, playbook, runAs string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s of playbook %s started by %s", runID, playbook, runAs),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"playbook": playbook,
			"run_as":   runAs,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishTaskStarted publishes a task started event.
func (ep *EventPublisher) PublishTaskStarted(runID, task, agent, action, group string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskStarted,
		Source:  "engine",
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s started: %s#%s on group %s", task, agent, action, group),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"agent":  agent,
			"action": action,
			"group":  group,
		},
	})
}

// PublishTaskCompleted publishes a task completed event.
func (ep *EventPublisher) PublishTaskCompleted(runID, task string, nodes int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskCompleted,
		Source:  "engine",
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s completed on %d nodes", task, nodes),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"nodes":    nodes,
			"duration": duration.Seconds(),
		},
	})
}

// PublishTaskFailed publishes a task failed event.
func (ep *EventPublisher) PublishTaskFailed(runID, task, reason string, failedNodes []string) error {
	return ep.Publish(Event{
		Type:    EventTypeTaskFailed,
		Source:  "engine",
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s failed: %s", task, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason":       reason,
			"failed_nodes": failedNodes,
		},
	})
}

// PublishNodeFailed publishes a per-node failure event.
func (ep *EventPublisher) PublishNodeFailed(runID, task, node, status, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeNodeFailed,
		Source:  "dispatcher",
		RunID:   runID,
		Task:    task,
		Node:    node,
		Message: fmt.Sprintf("Node %s failed during task %s: %s", node, task, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"status": status,
			"reason": reason,
		},
	})
}

// PublishRetryScheduled publishes a retry round event.
func (ep *EventPublisher) PublishRetryScheduled(runID, task string, attempt int, nodes []string) error {
	return ep.Publish(Event{
		Type:    EventTypeRetryScheduled,
		Source:  "engine",
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Retry %d scheduled for task %s on %d nodes", attempt, task, len(nodes)),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"attempt": attempt,
			"nodes":   nodes,
		},
	})
}

// PublishPolicyDenied publishes a policy denial event.
func (ep *EventPublisher) PublishPolicyDenied(runID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy_engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s denied by policy %s: %s", runID, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Draining is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByNode creates a filter that only allows events for a specific node.
func FilterByNode(node string) EventFilter {
	return func(event Event) bool {
		return event.Node == node
	}
}
