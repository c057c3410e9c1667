// Package embeddednats runs the in-process NATS server as a runner.Service.
package embeddednats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/cartflow/pkg/nats"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/runner"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrNotRunning is returned by HealthCheck before Start or after Stop.
var ErrNotRunning = errors.New("embedded nats is not running")

const readyTimeout = 2 * time.Second

// Service owns at most one embedded server at a time. The node starts it
// early to connect its clients, so a second Start is a no-op.
type Service struct {
	logger  runner.Logger
	tracer  trace.Tracer
	options []nats.Option

	mu     sync.Mutex
	server *nats.EmbeddedServer
}

// Option configures the service.
type Option func(*Service)

func WithLogger(logger runner.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTracer records a span for every Start.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithNATSOptions configures the server started by Start.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(s *Service) { s.options = append(s.options, opts...) }
}

func New(opts ...Option) *Service {
	s := &Service{
		logger: runner.NewNoopLogger(),
		tracer: noop.NewTracerProvider().Tracer("embeddednats"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Name() string { return "embedded-nats" }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	_, span := observability.StartSpan(ctx, s.tracer, "embeddednats.start")
	srv, err := nats.StartEmbeddedServer(s.options...)
	if err != nil {
		err = fmt.Errorf("failed to start embedded NATS: %w", err)
		observability.EndSpan(span, err)
		return err
	}
	span.SetAttributes(attribute.String("nats.url", srv.URL()))
	observability.EndSpan(span, nil)

	s.server = srv
	s.logger.Info("embedded NATS listening", "url", srv.URL())
	return nil
}

func (s *Service) Stop(context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv != nil {
		srv.Shutdown()
		s.logger.Info("embedded NATS shut down", "url", srv.URL())
	}
	return nil
}

// HealthCheck fails unless the server accepts connections.
func (s *Service) HealthCheck(context.Context) error {
	srv := s.Server()
	if srv == nil {
		return ErrNotRunning
	}
	if !srv.Ready(readyTimeout) {
		return fmt.Errorf("embedded nats at %s not accepting connections", srv.URL())
	}
	return nil
}

// URL is empty while the server is not running.
func (s *Service) URL() string {
	if srv := s.Server(); srv != nil {
		return srv.URL()
	}
	return ""
}

func (s *Service) Server() *nats.EmbeddedServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

var _ runner.HealthChecker = (*Service)(nil)
