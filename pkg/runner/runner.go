// Package runner starts a fixed list of services in order and stops them in
// reverse order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultStartTimeout = time.Minute
	DefaultStopTimeout  = 30 * time.Second
)

// Runner owns the lifecycle of a list of services. Service i may rely on
// services 0..i-1 while it starts and while it stops.
type Runner struct {
	services     []Service
	logger       Logger
	startTimeout time.Duration
	stopTimeout  time.Duration
	signals      bool
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(logger Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithStartupTimeout bounds each Start call.
func WithStartupTimeout(d time.Duration) Option {
	return func(r *Runner) { r.startTimeout = d }
}

// WithShutdownTimeout bounds stopping all services together.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stopTimeout = d }
}

// WithSignals controls whether SIGINT and SIGTERM end Run. On by default.
func WithSignals(enabled bool) Option {
	return func(r *Runner) { r.signals = enabled }
}

func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:     services,
		logger:       noopLogger{},
		startTimeout: DefaultStartTimeout,
		stopTimeout:  DefaultStopTimeout,
		signals:      true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the services one after another, waits for ctx to end (or a
// signal), then stops what was started. A failed start stops the services
// already running and returns the start error joined with any stop errors.
func (r *Runner) Run(ctx context.Context) error {
	if r.signals {
		var cancel context.CancelFunc
		ctx, cancel = ShutdownContext(ctx)
		defer cancel()
	}

	running, err := r.startAll(ctx)
	if err != nil {
		return errors.Join(err, r.stopAll(running))
	}

	r.logger.Info("services running", "count", len(running))
	<-ctx.Done()
	r.logger.Info("stopping services", "timeout", r.stopTimeout)
	return r.stopAll(running)
}

func (r *Runner) startAll(ctx context.Context) ([]Service, error) {
	running := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		if err := r.start(ctx, svc); err != nil {
			r.logger.Error("service failed to start", "service", svc.Name(), "error", err)
			return running, fmt.Errorf("start service %s: %w", svc.Name(), err)
		}
		running = append(running, svc)
	}
	return running, nil
}

func (r *Runner) start(ctx context.Context, svc Service) error {
	ctx, cancel := context.WithTimeout(ctx, r.startTimeout)
	defer cancel()
	r.logger.Debug("starting service", "service", svc.Name())
	return svc.Start(ctx)
}

// stopAll stops running in reverse order. The stop deadline is independent
// of the Run context, which is already done at this point.
func (r *Runner) stopAll(running []Service) error {
	if len(running) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
	defer cancel()

	var errs []error
	for i := len(running) - 1; i >= 0; i-- {
		svc := running[i]
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("service failed to stop", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		r.logger.Debug("service stopped", "service", svc.Name())
	}
	return errors.Join(errs...)
}

// HealthCheck asks every HealthChecker and returns the first failure.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, svc := range r.services {
		hc, ok := svc.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("service %s unhealthy: %w", svc.Name(), err)
		}
	}
	return nil
}
