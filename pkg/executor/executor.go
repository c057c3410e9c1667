// Package executor queues the commands of one entity and hands them to a
// processor one at a time, in submission order.
//
// A SequentialExecutor owns a durable queue. On every wake-up it dispatches
// the head of the queue unless a command is still in flight; the processor
// reports back through ProcessingComplete, which clears the in-flight marker
// and schedules the next wake-up.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/processor"
	"github.com/plaenen/cartflow/pkg/statestore"
)

// Names of the executor's durable state.
const (
	QueueName                  = "CommandQueue"
	CurrentExecutingCommandKey = "CurrentExecutingCommand"
	WorkReminder               = "WorkCommand"
	NextReminder               = "WorkCommandNext"
)

// DefaultWakeInterval is the due time and period of the work reminder and
// the delay of the wake-up that follows a completion.
const DefaultWakeInterval = 10 * time.Millisecond

// Validator inspects a command before it is queued. Returning an error
// rejects the command.
type Validator func(ctx context.Context, cmd *command.Command) error

// Status is a read-only snapshot of an executor.
type Status struct {
	QueueLen int              `json:"queue_len"`
	Current  *command.Command `json:"current,omitempty"`
}

// Option configures a SequentialExecutor.
type Option func(*config)

type config struct {
	validator    Validator
	dispatch     bool
	wakeInterval time.Duration
	metrics      *observability.Metrics
	queueOpts    []collections.Option
}

func defaultConfig() config {
	return config{
		dispatch:     true,
		wakeInterval: DefaultWakeInterval,
	}
}

// WithValidator installs a check run on every submitted command.
func WithValidator(v Validator) Option {
	return func(c *config) {
		c.validator = v
	}
}

// WithDispatch turns dispatching on or off. A disabled executor only
// accumulates commands. Enabled by default.
func WithDispatch(enabled bool) Option {
	return func(c *config) {
		c.dispatch = enabled
	}
}

// WithWakeInterval sets the work reminder interval.
func WithWakeInterval(d time.Duration) Option {
	return func(c *config) {
		c.wakeInterval = d
	}
}

// WithMetrics records enqueue and dispatch counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithQueueOptions passes options to the command queue, e.g. a shared
// critical section.
func WithQueueOptions(opts ...collections.Option) Option {
	return func(c *config) {
		c.queueOpts = append(c.queueOpts, opts...)
	}
}

// SequentialExecutor is the actor that serializes an entity's commands.
// Create it through Factory.
type SequentialExecutor struct {
	actx      *actor.Context
	queue     *collections.Queue[*command.Command]
	client    processor.Client
	processor actor.Address
	cfg       config
}

// Factory returns an actor.Factory producing executors that dispatch to the
// processor with the same id in processorService.
func Factory(processorService string, client processor.Client, opts ...Option) actor.Factory {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(actx *actor.Context) (any, error) {
		if client == nil {
			return nil, fmt.Errorf("executor %s: processor client is required", actx.Address)
		}
		return &SequentialExecutor{
			actx:      actx,
			queue:     collections.NewQueue[*command.Command](actx.State, QueueName, cfg.queueOpts...),
			client:    client,
			processor: actor.NewAddress(processorService, actx.Address.ID),
			cfg:       cfg,
		}, nil
	}
}

// Execute validates cmd and appends it to the queue. When dispatching is
// enabled it also makes sure the work reminder is running.
func (e *SequentialExecutor) Execute(ctx context.Context, cmd *command.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if e.cfg.validator != nil {
		if err := e.cfg.validator(ctx, cmd); err != nil {
			return fmt.Errorf("command %s rejected: %w", cmd, err)
		}
	}

	if e.cfg.dispatch {
		if err := e.actx.ActivateReminderSafe(ctx, WorkReminder, e.cfg.wakeInterval, e.cfg.wakeInterval); err != nil {
			return err
		}
	}
	if err := e.queue.Enqueue(ctx, cmd); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", cmd, err)
	}

	e.cfg.metrics.RecordEnqueued(ctx, e.actx.Address.Service, cmd.Name)
	e.actx.Logger.DebugContext(ctx, "command enqueued", slog.String("command", cmd.String()))
	return nil
}

// ReceiveReminder implements actor.Remindable.
func (e *SequentialExecutor) ReceiveReminder(ctx context.Context, name string) error {
	switch name {
	case WorkReminder, NextReminder:
		return e.wake(ctx)
	default:
		return nil
	}
}

// wake dispatches the head of the queue unless a command is in flight. It
// is safe to call any number of times.
func (e *SequentialExecutor) wake(ctx context.Context) error {
	if !e.cfg.dispatch {
		return nil
	}

	current, err := e.CurrentCommand(ctx)
	if err != nil {
		return err
	}
	if current.HasValue {
		return nil
	}

	next, err := e.queue.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("failed to dequeue: %w", err)
	}
	if !next.HasValue {
		e.actx.Logger.DebugContext(ctx, "queue drained, stopping work reminder")
		return e.actx.DeactivateReminderSafe(ctx, WorkReminder)
	}
	cmd := next.Value

	// The command has left the queue; a failing hand-off loses it.
	err = e.client.Process(ctx, e.processor, cmd, e.actx.Address)
	e.cfg.metrics.RecordDispatched(ctx, e.actx.Address.Service, cmd.Name, err)
	if err != nil {
		e.actx.Logger.ErrorContext(ctx, "failed to hand command to processor",
			slog.String("command", cmd.String()),
			slog.String("processor", e.processor.String()),
			slog.Any("error", err))
		return fmt.Errorf("failed to dispatch %s to %s: %w", cmd, e.processor, err)
	}

	if err := statestore.Put(ctx, e.actx.State, CurrentExecutingCommandKey, cmd); err != nil {
		return fmt.Errorf("failed to record in-flight command: %w", err)
	}
	e.actx.Logger.DebugContext(ctx, "command dispatched",
		slog.String("command", cmd.String()),
		slog.String("processor", e.processor.String()))
	return nil
}

// ProcessingComplete clears the in-flight command and schedules a prompt
// wake-up for the next one.
func (e *SequentialExecutor) ProcessingComplete(ctx context.Context) error {
	if _, err := e.actx.State.Remove(ctx, CurrentExecutingCommandKey); err != nil {
		return fmt.Errorf("failed to clear in-flight command: %w", err)
	}
	return e.actx.RegisterReminder(ctx, NextReminder, e.cfg.wakeInterval, 0)
}

// QueueLen returns the number of queued commands, excluding the one in
// flight.
func (e *SequentialExecutor) QueueLen(ctx context.Context) (int, error) {
	return e.queue.Len(ctx)
}

// CurrentCommand returns the command in flight, if any.
func (e *SequentialExecutor) CurrentCommand(ctx context.Context) (statestore.ConditionalValue[*command.Command], error) {
	cur, err := statestore.TryGet[*command.Command](ctx, e.actx.State, CurrentExecutingCommandKey)
	if err != nil {
		return cur, fmt.Errorf("failed to load in-flight command: %w", err)
	}
	return cur, nil
}

// Status returns the queue length and the command in flight.
func (e *SequentialExecutor) Status(ctx context.Context) (Status, error) {
	n, err := e.QueueLen(ctx)
	if err != nil {
		return Status{}, err
	}
	cur, err := e.CurrentCommand(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{QueueLen: n, Current: cur.OrElse(nil)}, nil
}
