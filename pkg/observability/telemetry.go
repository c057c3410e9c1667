// Package observability wires OpenTelemetry tracing and metrics for a node,
// records dispatch metrics and keeps finished spans in SQLite.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects what a node exports. A nil exporter or reader disables
// that signal; the matching providers are then no-ops.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	TraceExporter   sdktrace.SpanExporter
	// TraceSampleRate is the sampled fraction of new traces, 0 to 1.
	TraceSampleRate float64

	MetricReader sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry holds the providers created by Init. Metrics is nil when
// metrics are disabled; its methods accept a nil receiver.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger

	flush    []func(context.Context) error
	shutdown []func(context.Context) error
}

// Init builds the providers and installs them, with W3C trace context
// propagation, as the otel globals. A signal that fails to set up is logged
// and disabled rather than failing the node.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &Telemetry{
		TracerProvider: noop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
		Logger:         cfg.Logger,
	}

	if cfg.TraceExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.TraceSampleRate))),
		)
		t.TracerProvider = tp
		t.flush = append(t.flush, tp.ForceFlush)
		t.shutdown = append(t.shutdown, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricReader != nil {
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(cfg.MetricReader))
		metrics, err := NewMetrics(mp.Meter("cartflow"))
		if err != nil {
			cfg.Logger.Warn("metrics disabled", slog.String("error", err.Error()))
			_ = mp.Shutdown(ctx)
		} else {
			t.MeterProvider = mp
			t.Metrics = metrics
			t.flush = append(t.flush, mp.ForceFlush)
			t.shutdown = append(t.shutdown, mp.Shutdown)
			otel.SetMeterProvider(mp)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cfg.Logger.Info("telemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.Bool("tracing", cfg.TraceExporter != nil),
		slog.Bool("metrics", t.Metrics != nil))
	return t, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// ForceFlush exports everything recorded so far without stopping.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, fn := range t.flush {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. Later calls do nothing.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	t.flush, t.shutdown = nil, nil
	return errors.Join(errs...)
}

// Tracer returns a named tracer.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Meter returns a named meter.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.MeterProvider.Meter(name)
}
