package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/processor"
)

// Recovery turns a panicking executor into a failed execution.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next processor.Executor) processor.Executor {
		return processor.ExecutorFunc(func(ctx context.Context, cmd *command.Command) (ok bool, err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := string(debug.Stack())

					logger.ErrorContext(ctx, "Executor panicked",
						slog.String("command", cmd.String()),
						slog.Any("panic", r),
						slog.String("stack_trace", stack),
					)

					ok = false
					err = fmt.Errorf("executor panicked: %v", r)
				}
			}()

			return next.Execute(ctx, cmd)
		})
	}
}
