package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOption configures a span at creation.
type SpanOption func(trace.Span)

// WithAttributes attaches attrs to the span.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(span trace.Span) { span.SetAttributes(attrs...) }
}

// WithError marks the span as failed with err.
func WithError(err error) SpanOption {
	return func(span trace.Span) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// StartSpan starts a span named name under tracer, applying opts, and
// returns the derived context alongside the span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...SpanOption) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	for _, opt := range opts {
		opt(span)
	}
	return ctx, span
}

// EndSpan ends span, marking it errored if err is non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the active trace id in ctx, or "" if none.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// SpanID returns the active span id in ctx, or "" if none.
func SpanID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.SpanID().String()
	}
	return ""
}

// Common attribute keys used across EventStore, handler and projection
// spans.
var (
	AttrAggregateID   = attribute.Key("aggregate.id")
	AttrAggregateType = attribute.Key("aggregate.type")
	AttrVersion       = attribute.Key("aggregate.version")

	AttrCommandType = attribute.Key("command.type")

	AttrEventType  = attribute.Key("event.type")
	AttrEventCount = attribute.Key("event.count")

	AttrSagaID   = attribute.Key("saga.id")
	AttrSagaType = attribute.Key("saga.type")

	AttrErrorType = attribute.Key("error.type")
)

// AggregateAttrs returns common aggregate span attributes.
func AggregateAttrs(id, aggregateType string, version uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAggregateID.String(id),
		AttrAggregateType.String(aggregateType),
		AttrVersion.Int64(int64(version)),
	}
}

// EventAttrs returns common event span attributes.
func EventAttrs(eventType string, count int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventType.String(eventType),
		AttrEventCount.Int(count),
	}
}

// ErrorAttrs returns the error-type attribute derived from err's concrete
// Go type.
func ErrorAttrs(err error) []attribute.KeyValue {
	return []attribute.KeyValue{AttrErrorType.String(fmt.Sprintf("%T", err))}
}
