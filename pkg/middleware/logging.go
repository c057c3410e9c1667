package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/processor"
)

// Logging logs every execution with its statement, timing and outcome.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next processor.Executor) processor.Executor {
		return processor.ExecutorFunc(func(ctx context.Context, cmd *command.Command) (bool, error) {
			start := time.Now()

			logger.DebugContext(ctx, "Executing command",
				slog.String("command", cmd.String()),
				slog.String("statement", cmd.SQLStatement()),
				slog.Int("attempts", cmd.Attempts()),
			)

			ok, err := next.Execute(ctx, cmd)

			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "Command execution failed",
					slog.String("command", cmd.String()),
					slog.String("statement", cmd.SQLStatement()),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return false, err
			}

			if !ok {
				logger.InfoContext(ctx, "Command deferred",
					slog.String("command", cmd.String()),
					slog.Int64("duration_ms", duration.Milliseconds()),
				)
				return false, nil
			}

			logger.InfoContext(ctx, "Command executed successfully",
				slog.String("command", cmd.String()),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)
			return true, nil
		})
	}
}
