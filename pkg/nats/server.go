package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/executor"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/processor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoEndpoints is returned by Start when nothing was exposed.
	ErrNoEndpoints = errors.New("no endpoints exposed")

	// ErrInvalidVersion is returned for service versions micro rejects.
	ErrInvalidVersion = errors.New("service version must be SemVer")
)

// DefaultVersion is reported by servers built without WithVersion.
const DefaultVersion = "0.0.0-dev"

// Same pattern micro.AddService validates against.
var semVer = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// ValidateVersion reports whether v can be used as a service version.
func ValidateVersion(v string) error {
	if !semVer.MatchString(v) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return nil
}

type handlerFunc func(ctx context.Context, req request) (reply, error)

// Server exposes processors and executors of a host as NATS micro service
// endpoints.
type Server struct {
	nc       *nats.Conn
	host     *actor.Host
	logger   *slog.Logger
	tracer   trace.Tracer
	version  string
	timeout  time.Duration
	handlers map[string]handlerFunc

	mu      sync.Mutex
	svc     micro.Service
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerTracer sets the tracer used for request spans.
func WithServerTracer(t trace.Tracer) ServerOption {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithVersion sets the version reported by the micro service.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithHandlerTimeout bounds each request. Default 30s.
func WithHandlerTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.timeout = d
	}
}

// NewServer returns a Server dispatching to host. The connection stays owned
// by the caller.
func NewServer(nc *nats.Conn, host *actor.Host, opts ...ServerOption) *Server {
	s := &Server{
		nc:       nc,
		host:     host,
		logger:   slog.Default(),
		tracer:   otel.Tracer("cartflow/nats"),
		version:  DefaultVersion,
		timeout:  30 * time.Second,
		handlers: make(map[string]handlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExposeProcessor serves the process endpoint of service.
func (s *Server) ExposeProcessor(service string) {
	local := processor.NewLocalClient(s.host)
	s.handle(Subject(service, OpProcess), func(ctx context.Context, req request) (reply, error) {
		if req.Command == nil {
			return reply{}, fmt.Errorf("%w: command is required", ErrInvalidRequest)
		}
		return reply{OK: true}, local.Process(ctx, req.Address, req.Command, req.Callback)
	})
}

// ExposeExecutor serves the execute, complete and status endpoints of
// service.
func (s *Server) ExposeExecutor(service string) {
	local := executor.NewLocal(s.host)
	s.handle(Subject(service, OpExecute), func(ctx context.Context, req request) (reply, error) {
		if req.Command == nil {
			return reply{}, fmt.Errorf("%w: command is required", ErrInvalidRequest)
		}
		return reply{OK: true}, local.Execute(ctx, req.Address, req.Command)
	})
	s.handle(Subject(service, OpComplete), func(ctx context.Context, req request) (reply, error) {
		return reply{OK: true}, local.ProcessingComplete(ctx, req.Address)
	})
	s.handle(Subject(service, OpStatus), func(ctx context.Context, req request) (reply, error) {
		st, err := local.Status(ctx, req.Address)
		return reply{OK: true, Status: &st}, err
	})
}

func (s *Server) handle(subject string, h handlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[subject] = h
}

// Subjects returns the exposed subjects.
func (s *Server) Subjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.handlers))
	for subject := range s.handlers {
		out = append(out, subject)
	}
	return out
}

// Name implements runner.Service.
func (s *Server) Name() string {
	return "nats-server"
}

// Start registers one micro service with an endpoint per exposed subject.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.handlers) == 0 {
		return ErrNoEndpoints
	}
	if s.svc != nil {
		return nil
	}

	svc, err := micro.AddService(s.nc, micro.Config{
		Name:        "cartflow",
		Version:     s.version,
		Description: fmt.Sprintf("cartflow dispatch with %d endpoints", len(s.handlers)),
		QueueGroup:  QueueGroup,
	})
	if err != nil {
		return fmt.Errorf("failed to add service: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	for subject, h := range s.handlers {
		name := strings.ReplaceAll(subject, ".", "-")
		err := svc.AddEndpoint(name, micro.HandlerFunc(func(req micro.Request) {
			s.pending.Add(1)
			go func() {
				defer s.pending.Done()
				s.serve(req, subject, h)
			}()
		}), micro.WithEndpointSubject(subject))
		if err != nil {
			_ = svc.Stop()
			s.cancel()
			return fmt.Errorf("failed to add endpoint %s: %w", subject, err)
		}
	}

	s.svc = svc
	s.logger.Info("NATS service started", slog.Int("endpoints", len(s.handlers)))
	return nil
}

func (s *Server) serve(req micro.Request, subject string, h handlerFunc) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	ctx = otel.GetTextMapPropagator().Extract(ctx, microCarrier(req.Headers()))
	ctx, span := observability.StartSpan(ctx, s.tracer, subject)

	var in request
	var out reply
	err := json.Unmarshal(req.Data(), &in)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	} else {
		observability.SetSpanAttributes(ctx, observability.EntityAttrs(in.Address.Service, in.Address.ID)...)
		out, err = h(ctx, in)
	}
	observability.EndSpan(span, err)

	if err != nil {
		s.logger.WarnContext(ctx, "request failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		code := codeOf(err)
		if errors.Is(err, ErrInvalidRequest) {
			code = CodeInvalidArgument
		}
		out = reply{Code: code, Error: err.Error()}
	}

	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("failed to marshal reply", slog.String("error", err.Error()))
		return
	}
	if err := req.Respond(data); err != nil {
		s.logger.Error("failed to send reply", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// Stop stops the micro service and waits for requests in flight.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	svc := s.svc
	s.svc = nil
	s.mu.Unlock()
	if svc == nil {
		return nil
	}

	err := svc.Stop()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	return err
}

// HealthCheck implements runner.HealthChecker.
func (s *Server) HealthCheck(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("NATS connection %s", s.nc.Status())
	}
	return nil
}
