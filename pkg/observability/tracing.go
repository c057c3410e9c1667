package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by executor, processor and transport spans.
const (
	AttrEntityService   = attribute.Key("entity.service")
	AttrEntityID        = attribute.Key("entity.id")
	AttrCommandName     = attribute.Key("command.name")
	AttrCommandID       = attribute.Key("command.id")
	AttrCommandAttempts = attribute.Key("command.attempts")
	AttrReminderName    = attribute.Key("reminder.name")
)

// SpanOption decorates a span right after it starts.
type SpanOption func(trace.Span)

// WithAttributes sets attrs on the new span.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(span trace.Span) {
		span.SetAttributes(attrs...)
	}
}

// StartSpan starts a child span of ctx.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...SpanOption) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	for _, opt := range opts {
		opt(span)
	}
	return ctx, span
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SetSpanAttributes adds attrs to the span in ctx.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// EntityAttrs identifies an actor.
func EntityAttrs(service, id string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrEntityService.String(service), AttrEntityID.String(id)}
}

// CommandAttrs identifies a command. An empty id is left out.
func CommandAttrs(name, id string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrCommandName.String(name)}
	if id != "" {
		attrs = append(attrs, AttrCommandID.String(id))
	}
	return attrs
}
