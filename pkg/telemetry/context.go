package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// The metrics server keeps serving until the process exits so the
	// final scrape still sees the run outcome.

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext bundles a context, a trace span, a field-enriched
// logger, and a timer for one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithRunContext creates a context enriched with run-specific telemetry:
// a run span, a run-scoped logger, the started metric, and the started
// event.
func WithRunContext(ctx context.Context, runID, playbook, runAs string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, playbook)

	logger := tel.Logger.WithRunID(runID).WithField("run_as", runAs)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(playbook, runAs)
	_ = tel.Events.PublishRunStarted(runID, playbook, runAs)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())

	return spanCtx
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// runTimerKey is the context key for run timers.
type runTimerKey struct{}

// EndRunContext completes the run context, recording metrics and events.
func EndRunContext(ctx context.Context, runID, playbook, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordRunCompleted(playbook, status, duration)

	if err != nil {
		_ = tel.Events.PublishRunFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, status, duration)
	}
}

// WithTaskContext creates a context enriched with task-specific
// telemetry.
func WithTaskContext(ctx context.Context, runID, task, agent, action, group string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartTaskSpan(ctx, task, agent, action, group)

	logger := tel.Logger.
		WithRunID(runID).
		WithTask(task).
		WithAgent(agent, action)
	spanCtx = logger.WithContext(spanCtx)

	_ = tel.Events.PublishTaskStarted(runID, task, agent, action, group)

	spanCtx = context.WithValue(spanCtx, taskSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, taskTimerKey{}, NewTimer())

	return spanCtx
}

// taskSpanKey is the context key for task spans.
type taskSpanKey struct{}

// taskTimerKey is the context key for task timers.
type taskTimerKey struct{}

// EndTaskContext completes the task context, recording metrics and events.
func EndTaskContext(ctx context.Context, runID, task, agent, action, status string, nodes int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(taskSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(taskTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordTaskExecution(agent, action, status, duration)

	if err != nil {
		_ = tel.Events.PublishTaskFailed(runID, task, err.Error(), nil)
	} else {
		_ = tel.Events.PublishTaskCompleted(runID, task, nodes, duration)
	}
}

// RecordDispatchOperation records one batch dispatch with tracing and
// metrics around fn.
func RecordDispatchOperation(ctx context.Context, requestID, agent, action string, nodes int, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartDispatchSpan(ctx, requestID, nodes)
		defer span.End()
	}

	timer := NewTimer()
	err := fn(ctx)

	if tel != nil {
		tel.Metrics.RecordDispatch(agent, action, nodes, timer.Duration())
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
