package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/executor"
	"github.com/plaenen/cartflow/pkg/observability"
	"go.opentelemetry.io/otel"
)

// DefaultRequestTimeout applies to requests whose context has no deadline.
const DefaultRequestTimeout = 10 * time.Second

// ConnectConfig describes how to reach a NATS server.
type ConnectConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name is the client name for connection identification
	Name string

	// Credentials for authentication (optional)
	Token    string
	User     string
	Password string

	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect opens a connection described by cfg. Disconnects and reconnects
// are logged.
func Connect(cfg ConnectConfig, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.User != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Client reaches processors and executors served by other nodes. It
// implements processor.Client, processor.Callback and executor.Client.
type Client struct {
	nc      *nats.Conn
	timeout time.Duration
	metrics *observability.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClientMetrics records request latency.
func WithClientMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient returns a Client over nc. The connection stays owned by the
// caller.
func NewClient(nc *nats.Conn, opts ...ClientOption) *Client {
	c := &Client{nc: nc, timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process implements processor.Client.
func (c *Client) Process(ctx context.Context, addr actor.Address, cmd *command.Command, callback actor.Address) error {
	_, err := c.request(ctx, Subject(addr.Service, OpProcess), request{Address: addr, Command: cmd, Callback: callback})
	return err
}

// ProcessingComplete implements processor.Callback.
func (c *Client) ProcessingComplete(ctx context.Context, addr actor.Address) error {
	_, err := c.request(ctx, Subject(addr.Service, OpComplete), request{Address: addr})
	return err
}

// Execute implements executor.Client.
func (c *Client) Execute(ctx context.Context, addr actor.Address, cmd *command.Command) error {
	_, err := c.request(ctx, Subject(addr.Service, OpExecute), request{Address: addr, Command: cmd})
	return err
}

// Status implements executor.Client.
func (c *Client) Status(ctx context.Context, addr actor.Address) (executor.Status, error) {
	rep, err := c.request(ctx, Subject(addr.Service, OpStatus), request{Address: addr})
	if err != nil {
		return executor.Status{}, err
	}
	if rep.Status == nil {
		return executor.Status{}, nil
	}
	return *rep.Status, nil
}

func (c *Client) request(ctx context.Context, subject string, req request) (rep reply, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordTransport(ctx, subject, time.Since(start), err)
	}()

	if err := req.Address.Validate(); err != nil {
		return reply{}, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return reply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return reply{}, fmt.Errorf("%s: %w", subject, actor.ErrUnknownService)
		}
		return reply{}, fmt.Errorf("request %s failed: %w", subject, err)
	}

	if err := json.Unmarshal(resp.Data, &rep); err != nil {
		return reply{}, fmt.Errorf("failed to unmarshal reply from %s: %w", subject, err)
	}
	if !rep.OK {
		return reply{}, &RemoteError{Subject: subject, Code: rep.Code, Message: rep.Error}
	}
	return rep, nil
}
