// Package telemetry provides observability for the fleetplay
// controller: structured logging, distributed tracing, Prometheus
// metrics, and an internal event bus.
//
// # Overview
//
// The Telemetry aggregate bundles the four concerns behind one
// configuration object. Components take what they need: the playbook
// engine takes a zerolog logger, the CLI records run and task metrics,
// and subscribers on the event bus feed the run store's event log.
//
// # Components
//
// Logger: a zerolog wrapper with field helpers for the domain
// (WithRunID, WithTask, WithNode, WithAgent) and component child
// loggers.
//
// Tracer: OpenTelemetry spans for runs, tasks, and batch dispatches,
// exported over OTLP gRPC or to stdout.
//
// Metrics: Prometheus counters, gauges, and histograms for runs,
// tasks, dispatches, per-node failures, and policy denials, served on
// an HTTP endpoint.
//
// EventPublisher: an in-process pub/sub bus for run lifecycle events
// with filtering, buffering, and async delivery.
//
// # Usage Example
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//	ctx = telemetry.WithRunContext(ctx, runID, "restart-web", "deployer")
//	defer telemetry.EndRunContext(ctx, runID, "restart-web", "succeeded", nil)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package telemetry
