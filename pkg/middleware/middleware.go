// Package middleware implements the commandbus.Middleware chain: logging,
// panic recovery, validation, and OpenTelemetry tracing. Grounded directly
// on the teacher's pkg/middleware/{logging,recovery,tracing,validation}.go,
// generalized off *eventsourcing.CommandEnvelope onto message.Command.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coreflux/eventcore/pkg/commandbus"
	"github.com/coreflux/eventcore/pkg/message"
)

func commandType(cmd message.Command) string {
	if cmd.Type != "" {
		return cmd.Type
	}
	return "unknown"
}

// metaOrEmpty returns cmd's *Metadata, or a zero Metadata if cmd carries
// none — every caller below only reads fields, so a zero value is safe and
// avoids a nil check at each call site.
func metaOrEmpty(cmd message.Command) message.Metadata {
	if m := message.Meta(cmd); m != nil {
		return *m
	}
	return message.Metadata{}
}

// Logging logs command dispatch with timing information via slog.
func Logging(logger *slog.Logger) commandbus.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commandbus.Handler) commandbus.Handler {
		return func(ctx context.Context, cmd message.Command) error {
			start := time.Now()
			meta := metaOrEmpty(cmd)

			logger.InfoContext(ctx, "executing command",
				slog.String("command_type", commandType(cmd)),
				slog.Any("aggregate_id", cmd.AggregateID),
				slog.String("correlation_id", meta.CorrelationID),
			)

			err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "command failed",
					slog.String("command_type", commandType(cmd)),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.Any("error", err),
				)
				return err
			}

			logger.InfoContext(ctx, "command executed",
				slog.String("command_type", commandType(cmd)),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)
			return nil
		}
	}
}

// Recovery converts a panicking handler into a returned error, logging the
// stack trace.
func Recovery(logger *slog.Logger) commandbus.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commandbus.Handler) commandbus.Handler {
		return func(ctx context.Context, cmd message.Command) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "command handler panicked",
						slog.String("command_type", commandType(cmd)),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
					err = fmt.Errorf("command handler panicked: %v", r)
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// Validator checks a command payload before dispatch.
type Validator interface {
	Validate(cmd message.Command) error
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(cmd message.Command) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(cmd message.Command) error { return f(cmd) }

// Validation rejects commands validator flags before they reach the next
// handler.
func Validation(validator Validator) commandbus.Middleware {
	return func(next commandbus.Handler) commandbus.Handler {
		return func(ctx context.Context, cmd message.Command) error {
			if err := validator.Validate(cmd); err != nil {
				return fmt.Errorf("command validation failed: %w", err)
			}
			return next(ctx, cmd)
		}
	}
}

// PayloadValidator delegates to a Validate() error method on cmd.Payload,
// when the payload implements one, matching the teacher's
// ProtobufValidator fallback-to-passthrough behavior for payloads that
// don't.
type PayloadValidator struct{}

type selfValidating interface {
	Validate() error
}

// Validate implements Validator.
func (PayloadValidator) Validate(cmd message.Command) error {
	if v, ok := cmd.Payload.(selfValidating); ok {
		return v.Validate()
	}
	return nil
}

// MetadataValidation rejects a command whose type is empty. It does not
// inspect the command's context or look for a correlation id.
func MetadataValidation() commandbus.Middleware {
	return func(next commandbus.Handler) commandbus.Handler {
		return func(ctx context.Context, cmd message.Command) error {
			if cmd.Type == "" {
				return fmt.Errorf("command validation failed: type is required")
			}
			return next(ctx, cmd)
		}
	}
}

// Tracing starts an OpenTelemetry span around command dispatch using the
// tracer named tracerName, or the global tracer provider's default tracer
// if tracerName is empty.
func Tracing(tracerName string) commandbus.Middleware {
	if tracerName == "" {
		tracerName = "github.com/coreflux/eventcore"
	}
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer starts spans using a caller-supplied tracer.
func TracingWithTracer(tracer trace.Tracer) commandbus.Middleware {
	return func(next commandbus.Handler) commandbus.Handler {
		return func(ctx context.Context, cmd message.Command) error {
			meta := metaOrEmpty(cmd)
			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", commandType(cmd)),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("command.type", commandType(cmd)),
					attribute.String("command.correlation_id", meta.CorrelationID),
					attribute.String("command.principal_id", meta.PrincipalID),
				),
			)
			defer span.End()

			err := next(spanCtx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			span.SetStatus(codes.Ok, "command executed successfully")
			return nil
		}
	}
}
