package middleware

import (
	"context"
	"fmt"

	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/processor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "github.com/plaenen/cartflow/pkg/middleware"

// Tracing records one span per execution. A nil tracer uses the global
// tracer provider.
func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(defaultTracerName)
	}

	return func(next processor.Executor) processor.Executor {
		return processor.ExecutorFunc(func(ctx context.Context, cmd *command.Command) (bool, error) {
			attrs := append(observability.CommandAttrs(cmd.Name, cmd.ID),
				observability.AttrCommandAttempts.Int(cmd.Attempts()))

			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", cmd.Name),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			ok, err := next.Execute(spanCtx, cmd)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return false, err
			}

			span.SetAttributes(attribute.Bool("command.completed", ok))
			span.SetStatus(codes.Ok, "command executed")
			return ok, nil
		})
	}
}
