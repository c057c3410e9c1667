// Package app assembles a cartflow node from a config.Config: the state
// store, the actor host with executors, processors and commerce entities,
// the procedure database, the NATS transport and the reminder scheduler.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/commerce"
	"github.com/plaenen/cartflow/pkg/config"
	"github.com/plaenen/cartflow/pkg/executor"
	"github.com/plaenen/cartflow/pkg/middleware"
	transport "github.com/plaenen/cartflow/pkg/nats"
	"github.com/plaenen/cartflow/pkg/observability"
	"github.com/plaenen/cartflow/pkg/processor"
	"github.com/plaenen/cartflow/pkg/runner"
	"github.com/plaenen/cartflow/pkg/runtime/embeddednats"
	"github.com/plaenen/cartflow/pkg/sqlexec"
	"github.com/plaenen/cartflow/pkg/statestore"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	_ "modernc.org/sqlite"
)

// Option configures a Node.
type Option func(*options)

type options struct {
	version  string
	commerce []commerce.Option
}

// WithVersion sets the version reported by telemetry and the NATS service.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithCommerceOptions passes options to commerce.Register.
func WithCommerceOptions(opts ...commerce.Option) Option {
	return func(o *options) {
		o.commerce = opts
	}
}

// Node is a fully wired cartflow process. Run it with the runner through
// Services.
type Node struct {
	cfg       config.Config
	logger    *slog.Logger
	telemetry *observability.Telemetry
	store     statestore.Store
	host      *actor.Host
	db        *sql.DB
	traceDB   *sql.DB
	embedded  *embeddednats.Service
	nc        *nats.Conn
	server    *transport.Server
	scheduler *actor.Scheduler
	client    executor.Client
	closers   []func() error
}

// New builds a node. Nothing runs until the services are started, except an
// embedded NATS server which has to be up before the node can connect.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (_ *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{version: transport.DefaultVersion}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.UsesNATS() {
		if err := transport.ValidateVersion(o.version); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = n.Close(context.Background())
			if n.embedded != nil {
				_ = n.embedded.Stop(context.Background())
			}
		}
	}()

	if err := n.initTelemetry(ctx, o.version); err != nil {
		return nil, err
	}
	if err := n.initNATS(ctx); err != nil {
		return nil, err
	}
	if err := n.initStore(ctx); err != nil {
		return nil, err
	}

	n.db, err = sqlexec.Open(ctx, cfg.ProcedureDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open procedure database: %w", err)
	}
	n.closers = append(n.closers, n.db.Close)

	n.host = actor.NewHost(n.store, actor.WithLogger(logger))
	n.register(o)

	n.scheduler = actor.NewScheduler(n.host,
		actor.WithPollInterval(cfg.PollInterval),
		actor.WithSchedulerLogger(logger),
		actor.WithSchedulerMetrics(n.telemetry.Metrics))

	logger.Info("node assembled",
		slog.String("store", cfg.Store),
		slog.Bool("nats", n.nc != nil),
		slog.String("executor_service", cfg.ExecutorService),
		slog.String("processor_service", cfg.ProcessorService))
	return n, nil
}

func (n *Node) initTelemetry(ctx context.Context, version string) error {
	tcfg := observability.Config{
		ServiceName:    "cartflow",
		ServiceVersion: version,
		Environment:    "node",
		MetricReader:   sdkmetric.NewManualReader(),
		Logger:         n.logger,
	}
	if n.cfg.TraceDSN != "" {
		db, err := sql.Open("sqlite", n.cfg.TraceDSN)
		if err != nil {
			return fmt.Errorf("failed to open trace database: %w", err)
		}
		db.SetMaxOpenConns(1)
		n.traceDB = db

		spans, err := observability.NewSpanStore(ctx, db)
		if err != nil {
			return err
		}
		tcfg.TraceExporter = spans
		tcfg.TraceSampleRate = 1
	}

	tel, err := observability.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	n.telemetry = tel
	return nil
}

func (n *Node) initNATS(ctx context.Context) error {
	if !n.cfg.UsesNATS() {
		return nil
	}

	url := n.cfg.NATSURL
	if url == "" {
		n.embedded = embeddednats.New(
			embeddednats.WithLogger(n.logger),
			embeddednats.WithTracer(n.telemetry.Tracer("cartflow/embeddednats")),
			embeddednats.WithNATSOptions(
				transport.WithPort(n.cfg.NATSPort),
				transport.WithStoreDir(n.cfg.NATSStoreDir),
				transport.WithAuthToken(n.cfg.NATSToken),
				transport.WithUser(n.cfg.NATSUser, n.cfg.NATSPassword),
			))
		if err := n.embedded.Start(ctx); err != nil {
			return err
		}
		url = n.embedded.URL()
	}

	cc, err := connectConfig(ctx, n.cfg, url)
	if err != nil {
		return err
	}
	n.nc, err = transport.Connect(cc, n.logger)
	if err != nil {
		return err
	}
	n.closers = append(n.closers, func() error {
		return n.nc.Drain()
	})
	return nil
}

func (n *Node) register(o options) {
	var (
		procClient processor.Client   = processor.NewLocalClient(n.host)
		callback   processor.Callback = executor.NewLocal(n.host)
	)
	n.client = executor.NewLocal(n.host)
	if n.nc != nil {
		remote := transport.NewClient(n.nc, transport.WithClientMetrics(n.telemetry.Metrics))
		procClient, callback, n.client = remote, remote, remote
	}

	procedures := middleware.Chain(
		sqlexec.NewExecutor(n.db, sqlexec.CommerceProcedures(), sqlexec.WithLogger(n.logger)),
		middleware.Recovery(n.logger),
		middleware.Tracing(n.telemetry.Tracer("cartflow/processor")),
		middleware.Logging(n.logger),
	)

	n.host.Register(n.cfg.ExecutorService, executor.Factory(n.cfg.ProcessorService, procClient,
		executor.WithWakeInterval(n.cfg.WakeInterval),
		executor.WithMetrics(n.telemetry.Metrics),
		executor.WithQueueOptions(collections.WithCriticalSection(collections.ByName(n.cfg.CriticalSection)))))
	n.host.Register(n.cfg.ProcessorService, processor.Factory(procedures, callback,
		processor.WithRetryLimit(n.cfg.RetryLimit),
		processor.WithRetryDelay(n.cfg.RetryDelay),
		processor.WithWorkInterval(n.cfg.WakeInterval),
		processor.WithMetrics(n.telemetry.Metrics)))
	commerce.Register(n.host, n.client, n.cfg.ExecutorService, o.commerce...)

	if n.nc != nil {
		n.server = transport.NewServer(n.nc, n.host,
			transport.WithServerLogger(n.logger),
			transport.WithServerTracer(n.telemetry.Tracer("cartflow/nats")),
			transport.WithVersion(o.version))
		n.server.ExposeExecutor(n.cfg.ExecutorService)
		n.server.ExposeProcessor(n.cfg.ProcessorService)
	}
}

// Services returns the node's services in start order. The runner stops
// them in reverse, so the scheduler halts before the host and the
// connections close before the embedded server goes away.
func (n *Node) Services() []runner.Service {
	var services []runner.Service
	if n.embedded != nil {
		services = append(services, n.embedded)
	}
	services = append(services, runner.Func{
		ServiceName: "resources",
		OnStop:      n.Close,
	})
	services = append(services, n.host)
	if n.server != nil {
		services = append(services, n.server)
	}
	return append(services, n.scheduler)
}

// Host returns the actor host.
func (n *Node) Host() *actor.Host {
	return n.host
}

// Client submits commands to executors, through NATS when it is enabled.
func (n *Node) Client() executor.Client {
	return n.client
}

// DB returns the procedure database.
func (n *Node) DB() *sql.DB {
	return n.db
}

// NATSURL returns the server the node is connected to, empty without NATS.
func (n *Node) NATSURL() string {
	if n.nc == nil {
		return ""
	}
	return n.nc.ConnectedUrl()
}

// Close releases connections, databases and telemetry in reverse order of
// acquisition. It does not stop the embedded server.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil

	if n.telemetry != nil {
		if err := n.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		n.telemetry = nil
	}
	if n.traceDB != nil {
		if err := n.traceDB.Close(); err != nil {
			errs = append(errs, err)
		}
		n.traceDB = nil
	}
	return errors.Join(errs...)
}
