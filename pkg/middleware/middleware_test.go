package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/middleware"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func result(ok bool, err error) processor.Executor {
	return processor.ExecutorFunc(func(context.Context, *command.Command) (bool, error) {
		return ok, err
	})
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestChain_FirstMiddlewareIsOutermost(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next processor.Executor) processor.Executor {
			return processor.ExecutorFunc(func(ctx context.Context, cmd *command.Command) (bool, error) {
				order = append(order, name)
				return next.Execute(ctx, cmd)
			})
		}
	}

	exec := middleware.Chain(result(true, nil), tag("outer"), tag("inner"))
	ok, err := exec.Execute(context.Background(), command.New("noop", nil))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRecovery_TurnsPanicIntoError(t *testing.T) {
	var buf bytes.Buffer
	panicking := processor.ExecutorFunc(func(context.Context, *command.Command) (bool, error) {
		panic("deadlock victim")
	})

	exec := middleware.Chain(panicking, middleware.Recovery(bufferLogger(&buf)))
	ok, err := exec.Execute(context.Background(), command.New("Customer_Update", nil))

	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "deadlock victim")
	assert.Contains(t, buf.String(), "Executor panicked")
	assert.Contains(t, buf.String(), "stack_trace")
}

func TestRecovery_PassesResultsThrough(t *testing.T) {
	boom := errors.New("timeout")
	exec := middleware.Chain(result(false, boom), middleware.Recovery(nil))

	ok, err := exec.Execute(context.Background(), command.New("noop", nil))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestLogging(t *testing.T) {
	cmd := command.New("Customer_Update", map[string]any{"userName": "ann"})

	tests := []struct {
		name    string
		exec    processor.Executor
		wantLog string
	}{
		{"completed", result(true, nil), "Command executed successfully"},
		{"deferred", result(false, nil), "Command deferred"},
		{"failed", result(false, errors.New("login failed")), "Command execution failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, _ = middleware.Chain(tt.exec, middleware.Logging(bufferLogger(&buf))).Execute(context.Background(), cmd)

			out := buf.String()
			assert.Contains(t, out, "Executing command")
			assert.Contains(t, out, tt.wantLog)
			assert.Contains(t, out, "Customer_Update")
		})
	}
}

func TestTracing_RecordsSpanPerExecution(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("test")

	cmd := command.New("Customer_Update", nil)
	cmd.IncrementAttempts()

	_, err := middleware.Chain(result(true, nil), middleware.Tracing(tracer)).Execute(context.Background(), cmd)
	require.NoError(t, err)
	_, err = middleware.Chain(result(false, errors.New("login failed")), middleware.Tracing(tracer)).Execute(context.Background(), cmd)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "command.Customer_Update", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), observability.AttrCommandName.String("Customer_Update"))
	assert.Contains(t, spans[0].Attributes(), observability.AttrCommandAttempts.Int(1))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1, "error is recorded")
}
