package runner

import "context"

// Service is a component with a start and a stop.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start returns once the service is ready. It must respect ctx.
	Start(ctx context.Context) error

	// Stop shuts the service down within ctx.
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report their health.
type HealthChecker interface {
	Service
	HealthCheck(ctx context.Context) error
}

// Func adapts a pair of functions to a Service.
type Func struct {
	ServiceName string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
}

func (f Func) Name() string {
	return f.ServiceName
}

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
