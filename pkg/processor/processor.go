// Package processor executes one command at a time on behalf of a sequential
// executor. A processor keeps the command it was handed in durable state,
// runs it through an Executor on every wake-up until it succeeds or runs out
// of retries, and then notifies the executor that submitted it.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/statestore"
)

// State keys and reminder name used by a processor.
const (
	CurrentCommandKey = "CurrentCommand"
	CallbackKey       = "CallbackServiceUri"
	WorkReminder      = "WorkCommand"
)

const (
	// DefaultRetryLimit is the number of failed executions tolerated
	// before a command is dropped.
	DefaultRetryLimit = 5

	// DefaultRetryDelay is the pause after an execution that did not
	// complete the command.
	DefaultRetryDelay = time.Second

	// DefaultWorkInterval is the due time and period of the work reminder.
	DefaultWorkInterval = 10 * time.Millisecond
)

// Executor performs the side effects of a command. Returning false means
// "not done yet, try again" and is not counted as a failure. Returning an
// error counts towards the retry limit. Execute may change cmd.Properties;
// the processor persists them between attempts. Executors are usually
// wrapped with the middleware package for panics, logs and spans.
type Executor interface {
	Execute(ctx context.Context, cmd *command.Command) (bool, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd *command.Command) (bool, error)

func (f ExecutorFunc) Execute(ctx context.Context, cmd *command.Command) (bool, error) {
	return f(ctx, cmd)
}

// Client hands a command to the processor at addr. callback is notified
// through ProcessingComplete once the command leaves the processor.
type Client interface {
	Process(ctx context.Context, addr actor.Address, cmd *command.Command, callback actor.Address) error
}

// Callback notifies the executor at addr that its in-flight command is done.
type Callback interface {
	ProcessingComplete(ctx context.Context, addr actor.Address) error
}

// Option configures a Processor.
type Option func(*config)

type config struct {
	retryLimit   int
	retryDelay   time.Duration
	workInterval time.Duration
	metrics      *observability.Metrics
}

func defaultConfig() config {
	return config{
		retryLimit:   DefaultRetryLimit,
		retryDelay:   DefaultRetryDelay,
		workInterval: DefaultWorkInterval,
	}
}

// WithRetryLimit sets how many failed executions are tolerated.
func WithRetryLimit(n int) Option {
	return func(c *config) {
		c.retryLimit = n
	}
}

// WithRetryDelay sets the pause after an execution that did not complete.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) {
		c.retryDelay = d
	}
}

// WithWorkInterval sets the due time and period of the work reminder.
func WithWorkInterval(d time.Duration) Option {
	return func(c *config) {
		c.workInterval = d
	}
}

// WithMetrics records execution attempts.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// Processor is the actor that executes commands. Create it through Factory.
type Processor struct {
	actx     *actor.Context
	executor Executor
	callback Callback
	cfg      config
}

// Factory returns an actor.Factory producing processors that run commands
// through executor and report completion through callback.
func Factory(executor Executor, callback Callback, opts ...Option) actor.Factory {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(actx *actor.Context) (any, error) {
		if executor == nil {
			return nil, fmt.Errorf("processor %s: executor is required", actx.Address)
		}
		return &Processor{actx: actx, executor: executor, callback: callback, cfg: cfg}, nil
	}
}

// Process stores cmd as the current command and makes sure the work
// reminder is running. A redelivery of the command already held keeps the
// stored properties, so its recorded attempts survive. Any other command
// replaces the held one.
func (p *Processor) Process(ctx context.Context, cmd *command.Command, callback actor.Address) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	if err := p.actx.ActivateReminderSafe(ctx, WorkReminder, p.cfg.workInterval, p.cfg.workInterval); err != nil {
		return err
	}
	var replaced *command.Command
	_, err := statestore.AddOrUpdate(ctx, p.actx.State, CurrentCommandKey, cmd, func(held *command.Command) (*command.Command, error) {
		if held != nil && held.ID == cmd.ID {
			return held, nil
		}
		replaced = held
		return cmd, nil
	})
	if err != nil {
		return fmt.Errorf("failed to store current command: %w", err)
	}
	if replaced != nil {
		p.actx.Logger.WarnContext(ctx, "unfinished command replaced",
			slog.String("replaced", replaced.String()),
			slog.String("command", cmd.String()))
	}
	if err := statestore.Put(ctx, p.actx.State, CallbackKey, callback); err != nil {
		return fmt.Errorf("failed to store callback: %w", err)
	}

	p.actx.Logger.DebugContext(ctx, "command accepted",
		slog.String("command", cmd.String()),
		slog.String("callback", callback.String()))
	return nil
}

// CurrentCommand returns the command waiting for execution, if any.
func (p *Processor) CurrentCommand(ctx context.Context) (statestore.ConditionalValue[*command.Command], error) {
	return statestore.TryGet[*command.Command](ctx, p.actx.State, CurrentCommandKey)
}

// ReceiveReminder implements actor.Remindable.
func (p *Processor) ReceiveReminder(ctx context.Context, name string) error {
	if name != WorkReminder {
		return nil
	}
	return p.work(ctx)
}

// OnDeactivate implements actor.Deactivator.
func (p *Processor) OnDeactivate(ctx context.Context) error {
	return p.actx.DeactivateReminderSafe(ctx, WorkReminder)
}

func (p *Processor) work(ctx context.Context) error {
	current, err := p.CurrentCommand(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current command: %w", err)
	}
	if !current.HasValue {
		p.actx.Logger.DebugContext(ctx, "no command to process, stopping work reminder")
		return p.actx.DeactivateReminderSafe(ctx, WorkReminder)
	}
	callback, err := statestore.TryGet[actor.Address](ctx, p.actx.State, CallbackKey)
	if err != nil {
		return fmt.Errorf("failed to load callback: %w", err)
	}

	// The executor works on a copy; only its properties are written back.
	cmd := current.Value.Clone()
	done := p.attempt(ctx, cmd)

	if !done {
		return p.postpone(ctx, current.Value, cmd)
	}
	return p.complete(ctx, callback)
}

// attempt runs the executor once and reports whether the command leaves
// the processor.
func (p *Processor) attempt(ctx context.Context, cmd *command.Command) bool {
	start := time.Now()

	ok, err := p.executor.Execute(ctx, cmd)

	outcome := observability.OutcomeCompleted
	switch {
	case err != nil:
		outcome = p.recordFailure(ctx, cmd, err)
	case !ok:
		outcome = observability.OutcomeDeferred
		p.actx.Logger.DebugContext(ctx, "command not completed, retrying later", slog.String("command", cmd.String()))
	}

	p.cfg.metrics.RecordAttempt(ctx, cmd.Name, time.Since(start), outcome)

	return outcome == observability.OutcomeCompleted || outcome == observability.OutcomeDropped
}

// recordFailure counts a failed execution on cmd and decides whether the
// command is dropped.
func (p *Processor) recordFailure(ctx context.Context, cmd *command.Command, execErr error) observability.Outcome {
	attempts := cmd.IncrementAttempts()

	if attempts > p.cfg.retryLimit {
		p.actx.Logger.ErrorContext(ctx, "command dropped, attempts exceeded",
			slog.String("command", cmd.String()),
			slog.String("statement", cmd.SQLStatement()),
			slog.Int("attempt", attempts),
			slog.Int("retry_limit", p.cfg.retryLimit),
			slog.Any("error", execErr))
		return observability.OutcomeDropped
	}

	p.actx.Logger.WarnContext(ctx, "command will be retried",
		slog.String("command", cmd.String()),
		slog.Int("attempt", attempts),
		slog.Int("retry_limit", p.cfg.retryLimit),
		slog.Any("error", execErr))
	return observability.OutcomeFailed
}

// postpone writes the properties of the attempted copy back into the stored
// command and pauses before the next wake-up.
func (p *Processor) postpone(ctx context.Context, stored, attempted *command.Command) error {
	stored.Properties = attempted.Properties
	if err := statestore.Put(ctx, p.actx.State, CurrentCommandKey, stored); err != nil {
		return fmt.Errorf("failed to update current command: %w", err)
	}

	if p.cfg.retryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.cfg.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete clears the processor state and notifies the callback.
func (p *Processor) complete(ctx context.Context, callback statestore.ConditionalValue[actor.Address]) error {
	if _, err := p.actx.State.Remove(ctx, CurrentCommandKey); err != nil {
		return fmt.Errorf("failed to clear current command: %w", err)
	}
	if _, err := p.actx.State.Remove(ctx, CallbackKey); err != nil {
		return fmt.Errorf("failed to clear callback: %w", err)
	}

	if !callback.HasValue || callback.Value.IsZero() || p.callback == nil {
		return nil
	}
	if err := p.callback.ProcessingComplete(ctx, callback.Value); err != nil {
		p.actx.Logger.ErrorContext(ctx, "processing complete callback failed",
			slog.String("callback", callback.Value.String()),
			slog.Any("error", err))
		return fmt.Errorf("failed to notify %s: %w", callback.Value, err)
	}
	return nil
}
