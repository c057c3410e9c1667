package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments of the command dispatcher.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Executor metrics
	CommandsEnqueued   metric.Int64Counter
	CommandsDispatched metric.Int64Counter

	// Processor metrics
	CommandsCompleted metric.Int64Counter
	CommandsRetried   metric.Int64Counter
	CommandsDropped   metric.Int64Counter
	CommandDuration   metric.Float64Histogram

	// Reminder metrics
	RemindersFired metric.Int64Counter

	// Transport metrics
	TransportLatency metric.Float64Histogram
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandsEnqueued, err = meter.Int64Counter(
		"cartflow.commands.enqueued",
		metric.WithDescription("Commands accepted into an executor queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands.enqueued: %w", err)
	}

	m.CommandsDispatched, err = meter.Int64Counter(
		"cartflow.commands.dispatched",
		metric.WithDescription("Commands handed from an executor to its processor"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands.dispatched: %w", err)
	}

	m.CommandsCompleted, err = meter.Int64Counter(
		"cartflow.commands.completed",
		metric.WithDescription("Commands executed successfully"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands.completed: %w", err)
	}

	m.CommandsRetried, err = meter.Int64Counter(
		"cartflow.commands.retried",
		metric.WithDescription("Execution attempts that left the command in place"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands.retried: %w", err)
	}

	m.CommandsDropped, err = meter.Int64Counter(
		"cartflow.commands.dropped",
		metric.WithDescription("Commands dropped after exhausting their retries"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands.dropped: %w", err)
	}

	m.CommandDuration, err = meter.Float64Histogram(
		"cartflow.command.duration",
		metric.WithDescription("Duration of a single execution attempt in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.RemindersFired, err = meter.Int64Counter(
		"cartflow.reminder.fired",
		metric.WithDescription("Reminders delivered to entities"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating reminder.fired: %w", err)
	}

	m.TransportLatency, err = meter.Float64Histogram(
		"cartflow.transport.latency",
		metric.WithDescription("Round trip of a remote entity call in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transport.latency: %w", err)
	}

	return m, nil
}

// RecordEnqueued records a command accepted by an executor.
func (m *Metrics) RecordEnqueued(ctx context.Context, service, commandName string) {
	if m == nil {
		return
	}
	m.CommandsEnqueued.Add(ctx, 1, metric.WithAttributes(
		AttrEntityService.String(service),
		AttrCommandName.String(commandName),
	))
}

// RecordDispatched records a command handed to a processor.
func (m *Metrics) RecordDispatched(ctx context.Context, service, commandName string, err error) {
	if m == nil {
		return
	}
	m.CommandsDispatched.Add(ctx, 1, metric.WithAttributes(
		AttrEntityService.String(service),
		AttrCommandName.String(commandName),
		attribute.Bool("success", err == nil),
	))
}

// Outcome classifies one execution attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
)

// RecordAttempt records one execution attempt and its outcome.
func (m *Metrics) RecordAttempt(ctx context.Context, commandName string, duration time.Duration, outcome Outcome) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrCommandName.String(commandName),
		attribute.String("outcome", string(outcome)),
	)

	m.CommandDuration.Record(ctx, duration.Seconds(), attrs)
	switch outcome {
	case OutcomeCompleted:
		m.CommandsCompleted.Add(ctx, 1, attrs)
	case OutcomeDeferred, OutcomeFailed:
		m.CommandsRetried.Add(ctx, 1, attrs)
	case OutcomeDropped:
		m.CommandsDropped.Add(ctx, 1, attrs)
	}
}

// RecordReminder records a reminder delivery.
func (m *Metrics) RecordReminder(ctx context.Context, service, name string, err error) {
	if m == nil {
		return
	}
	m.RemindersFired.Add(ctx, 1, metric.WithAttributes(
		AttrEntityService.String(service),
		AttrReminderName.String(name),
		attribute.Bool("success", err == nil),
	))
}

// RecordTransport records the latency of a remote call.
func (m *Metrics) RecordTransport(ctx context.Context, subject string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.TransportLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.Bool("success", err == nil),
	))
}
