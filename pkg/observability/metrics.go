// Package observability wires OpenTelemetry metrics and tracing helpers
// across the commit/dispatch/projection path. Grounded in the teacher's
// pkg/observability/metrics.go, trimmed to commit/dispatch/projection
// instruments. There are no NATS-specific counters here, and pkg/bus/nats
// records no metrics of its own.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument this module's components record against.
type Metrics struct {
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	EventsAppended    metric.Int64Counter
	EventsPublished   metric.Int64Counter
	EventStoreLatency metric.Float64Histogram

	AggregateLoads metric.Int64Counter
	SnapshotHits   metric.Int64Counter
	SnapshotMisses metric.Int64Counter

	ProjectionLag    metric.Float64Gauge
	ProjectionErrors metric.Int64Counter

	SagaStarts       metric.Int64Counter
	SagaCompensation metric.Int64Counter
}

// New creates every metric instrument against meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.CommandDuration, err = meter.Float64Histogram(
		"eventcore.command.duration",
		metric.WithDescription("Command dispatch duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	if m.CommandTotal, err = meter.Int64Counter(
		"eventcore.command.total",
		metric.WithDescription("Total commands dispatched"),
	); err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	if m.CommandErrors, err = meter.Int64Counter(
		"eventcore.command.errors",
		metric.WithDescription("Total command dispatch errors"),
	); err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	if m.EventsAppended, err = meter.Int64Counter(
		"eventcore.events.appended",
		metric.WithDescription("Total events appended to storage"),
	); err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	if m.EventsPublished, err = meter.Int64Counter(
		"eventcore.events.published",
		metric.WithDescription("Total events published to the bus"),
	); err != nil {
		return nil, fmt.Errorf("creating events.published: %w", err)
	}

	if m.EventStoreLatency, err = meter.Float64Histogram(
		"eventcore.eventstore.latency",
		metric.WithDescription("Event store commit latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating eventstore.latency: %w", err)
	}

	if m.AggregateLoads, err = meter.Int64Counter(
		"eventcore.aggregate.loads",
		metric.WithDescription("Total aggregate loads"),
	); err != nil {
		return nil, fmt.Errorf("creating aggregate.loads: %w", err)
	}

	if m.SnapshotHits, err = meter.Int64Counter(
		"eventcore.snapshot.hits",
		metric.WithDescription("Aggregate loads that started from a snapshot"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshot.hits: %w", err)
	}

	if m.SnapshotMisses, err = meter.Int64Counter(
		"eventcore.snapshot.misses",
		metric.WithDescription("Aggregate loads that replayed from the beginning"),
	); err != nil {
		return nil, fmt.Errorf("creating snapshot.misses: %w", err)
	}

	if m.ProjectionLag, err = meter.Float64Gauge(
		"eventcore.projection.lag",
		metric.WithDescription("Seconds a projection is behind the event stream"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	if m.ProjectionErrors, err = meter.Int64Counter(
		"eventcore.projection.errors",
		metric.WithDescription("Projection apply errors"),
	); err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	if m.SagaStarts, err = meter.Int64Counter(
		"eventcore.saga.starts",
		metric.WithDescription("New sagas started by a saga-starter event"),
	); err != nil {
		return nil, fmt.Errorf("creating saga.starts: %w", err)
	}

	if m.SagaCompensation, err = meter.Int64Counter(
		"eventcore.saga.compensations",
		metric.WithDescription("Saga compensating commands dispatched after a send failure"),
	); err != nil {
		return nil, fmt.Errorf("creating saga.compensations: %w", err)
	}

	return m, nil
}

// RecordCommand records one command dispatch outcome.
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("command_type", commandType))
	m.CommandDuration.Record(ctx, duration.Seconds(), attrs)
	m.CommandTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command_type", commandType),
			attribute.String("error_type", fmt.Sprintf("%T", err)),
		))
	}
}

// RecordCommit records one EventStore.Commit call.
func (m *Metrics) RecordCommit(ctx context.Context, duration time.Duration, eventCount int) {
	m.EventStoreLatency.Record(ctx, duration.Seconds())
	m.EventsAppended.Add(ctx, int64(eventCount))
}

// RecordPublish records events successfully handed to the bus.
func (m *Metrics) RecordPublish(ctx context.Context, count int) {
	m.EventsPublished.Add(ctx, int64(count))
}

// RecordAggregateLoad records one aggregate reconstruction, noting whether
// it started from a snapshot.
func (m *Metrics) RecordAggregateLoad(ctx context.Context, aggregateType string, snapshotUsed bool) {
	attrs := metric.WithAttributes(attribute.String("aggregate_type", aggregateType))
	m.AggregateLoads.Add(ctx, 1, attrs)
	if snapshotUsed {
		m.SnapshotHits.Add(ctx, 1, attrs)
	} else {
		m.SnapshotMisses.Add(ctx, 1, attrs)
	}
}

// RecordProjectionLag records how far behind a named projection currently
// is.
func (m *Metrics) RecordProjectionLag(ctx context.Context, projectionName string, lagSeconds float64) {
	m.ProjectionLag.Record(ctx, lagSeconds, metric.WithAttributes(attribute.String("projection", projectionName)))
}

// RecordProjectionError records a projection apply failure.
func (m *Metrics) RecordProjectionError(ctx context.Context, projectionName string, errorType string) {
	m.ProjectionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projectionName),
		attribute.String("error_type", errorType),
	))
}

// RecordSagaStart records a new saga minted by a starter event.
func (m *Metrics) RecordSagaStart(ctx context.Context, sagaType string) {
	m.SagaStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("saga_type", sagaType)))
}

// RecordSagaCompensation records a compensating command dispatched after a
// send failure.
func (m *Metrics) RecordSagaCompensation(ctx context.Context, sagaType string) {
	m.SagaCompensation.Add(ctx, 1, metric.WithAttributes(attribute.String("saga_type", sagaType)))
}
