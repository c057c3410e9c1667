package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/puzpuzpuz/xsync/v3"
)

// Factory creates the entity behind an address. It runs inside the first
// turn on that address.
type Factory func(*Context) (any, error)

// Activator is implemented by entities that load state on activation.
type Activator interface {
	OnActivate(ctx context.Context) error
}

// Deactivator is implemented by entities that clean up when the host
// deactivates them.
type Deactivator interface {
	OnDeactivate(ctx context.Context) error
}

// Remindable is implemented by entities that register reminders.
type Remindable interface {
	ReceiveReminder(ctx context.Context, name string) error
}

// HostOption configures a Host.
type HostOption func(*hostConfig)

type hostConfig struct {
	logger      *slog.Logger
	callTimeout time.Duration
	idleTimeout time.Duration
}

func defaultHostConfig() hostConfig {
	return hostConfig{
		logger:      slog.Default(),
		callTimeout: 30 * time.Second,
	}
}

// WithLogger sets the host logger.
func WithLogger(logger *slog.Logger) HostOption {
	return func(c *hostConfig) {
		c.logger = logger
	}
}

// WithCallTimeout bounds how long a call waits for its turn and runs when
// the caller's context carries no deadline. Zero disables the bound.
func WithCallTimeout(d time.Duration) HostOption {
	return func(c *hostConfig) {
		c.callTimeout = d
	}
}

// WithIdleTimeout deactivates entities that received no call for d. Zero
// keeps entities active until Close.
func WithIdleTimeout(d time.Duration) HostOption {
	return func(c *hostConfig) {
		c.idleTimeout = d
	}
}

// Host activates entities on demand and serializes calls per address.
type Host struct {
	store     statestore.Store
	reminders *Reminders
	cfg       hostConfig

	mu        sync.RWMutex
	factories map[string]Factory

	instances *xsync.MapOf[Address, *instance]

	closed   atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	janitor  sync.WaitGroup
}

// NewHost creates a host whose entities keep their state in store. The
// host's reminders live in the same store under a system scope.
func NewHost(store statestore.Store, opts ...HostOption) *Host {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Host{
		store:     store,
		reminders: NewReminders(store),
		cfg:       cfg,
		factories: make(map[string]Factory),
		instances: xsync.NewMapOf[Address, *instance](),
		stop:      make(chan struct{}),
	}
}

// Register binds a factory to a service name. Registering a service twice
// replaces its factory for future activations.
func (h *Host) Register(service string, factory Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[service] = factory
}

// Reminders returns the host's reminder registry.
func (h *Host) Reminders() *Reminders {
	return h.reminders
}

// Has reports whether a factory is registered for service.
func (h *Host) Has(service string) bool {
	_, ok := h.factory(service)
	return ok
}

func (h *Host) factory(service string) (Factory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.factories[service]
	return f, ok
}

// Invoke runs fn as a turn on the entity at addr, activating it first if
// needed. Turns on the same address never overlap.
func (h *Host) Invoke(ctx context.Context, addr Address, fn func(ctx context.Context, entity any) error) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	factory, ok := h.factory(addr.Service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, addr.Service)
	}

	if _, ok := ctx.Deadline(); !ok && h.cfg.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.callTimeout)
		defer cancel()
	}

	for {
		inst, _ := h.instances.LoadOrCompute(addr, func() *instance {
			return newInstance(addr)
		})
		if err := inst.acquire(ctx); err != nil {
			return fmt.Errorf("failed to acquire turn on %s: %w", addr, err)
		}
		if inst.gone {
			// Deactivated while we waited; a fresh instance replaces it.
			inst.release()
			continue
		}

		err := h.run(ctx, inst, factory, fn)
		inst.release()
		return err
	}
}

func (h *Host) run(ctx context.Context, inst *instance, factory Factory, fn func(context.Context, any) error) error {
	if inst.entity == nil {
		if err := h.activate(ctx, inst, factory); err != nil {
			return err
		}
	}
	inst.touch()
	return fn(ctx, inst.entity)
}

func (h *Host) activate(ctx context.Context, inst *instance, factory Factory) error {
	actx := &Context{
		Address: inst.addr,
		State:   statestore.Scoped(h.store, inst.addr.String()),
		Logger: h.cfg.logger.With(
			slog.String("service", inst.addr.Service),
			slog.String("entity", inst.addr.ID),
		),
		host: h,
	}

	entity, err := factory(actx)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", inst.addr, err)
	}
	if a, ok := entity.(Activator); ok {
		if err := a.OnActivate(ctx); err != nil {
			return fmt.Errorf("failed to activate %s: %w", inst.addr, err)
		}
	}

	inst.entity = entity
	h.cfg.logger.DebugContext(ctx, "actor activated", slog.String("address", inst.addr.String()))
	return nil
}

// Call runs fn as a turn on the entity at addr, which must be a T.
func Call[T any](ctx context.Context, h *Host, addr Address, fn func(ctx context.Context, entity T) error) error {
	return h.Invoke(ctx, addr, func(ctx context.Context, entity any) error {
		typed, ok := entity.(T)
		if !ok {
			return fmt.Errorf("%w: %s is %T", ErrWrongType, addr, entity)
		}
		return fn(ctx, typed)
	})
}

// Deactivate waits for the entity's turn, calls OnDeactivate and drops the
// instance. The next call activates a fresh instance from state.
func (h *Host) Deactivate(ctx context.Context, addr Address) error {
	inst, ok := h.instances.Load(addr)
	if !ok {
		return nil
	}
	if err := inst.acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire turn on %s: %w", addr, err)
	}
	defer inst.release()
	return h.deactivateLocked(ctx, inst)
}

func (h *Host) deactivateLocked(ctx context.Context, inst *instance) error {
	if inst.gone {
		return nil
	}
	inst.gone = true
	h.instances.Compute(inst.addr, func(current *instance, loaded bool) (*instance, bool) {
		return current, !loaded || current == inst
	})

	if d, ok := inst.entity.(Deactivator); ok {
		if err := d.OnDeactivate(ctx); err != nil {
			return fmt.Errorf("failed to deactivate %s: %w", inst.addr, err)
		}
	}
	h.cfg.logger.DebugContext(ctx, "actor deactivated", slog.String("address", inst.addr.String()))
	return nil
}

// Active returns the number of activated entities.
func (h *Host) Active() int {
	return h.instances.Size()
}

// Name implements runner.Service.
func (h *Host) Name() string {
	return "actor-host"
}

// Start launches the idle janitor when an idle timeout is configured.
func (h *Host) Start(ctx context.Context) error {
	if h.cfg.idleTimeout <= 0 {
		return nil
	}

	h.janitor.Add(1)
	go func() {
		defer h.janitor.Done()
		ticker := time.NewTicker(h.cfg.idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.collectIdle(context.Background())
			}
		}
	}()
	return nil
}

// Stop closes the host.
func (h *Host) Stop(ctx context.Context) error {
	return h.Close()
}

// Close rejects further calls and drops every instance without calling
// OnDeactivate, so registered reminders survive a restart.
func (h *Host) Close() error {
	h.closed.Store(true)
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.janitor.Wait()
	h.instances.Clear()
	return nil
}

func (h *Host) collectIdle(ctx context.Context) {
	cutoff := time.Now().Add(-h.cfg.idleTimeout).UnixNano()
	h.instances.Range(func(addr Address, inst *instance) bool {
		if inst.lastUsed.Load() > cutoff || !inst.tryAcquire() {
			return true
		}
		defer inst.release()
		if inst.lastUsed.Load() > cutoff {
			return true
		}
		if err := h.deactivateLocked(ctx, inst); err != nil {
			h.cfg.logger.WarnContext(ctx, "idle deactivation failed",
				slog.String("address", addr.String()),
				slog.Any("error", err))
		}
		return true
	})
}

// instance is one activation. Holding turn grants exclusive access to
// entity and gone.
type instance struct {
	addr     Address
	turn     chan struct{}
	entity   any
	gone     bool
	lastUsed atomic.Int64
}

func newInstance(addr Address) *instance {
	inst := &instance{
		addr: addr,
		turn: make(chan struct{}, 1),
	}
	inst.touch()
	return inst
}

func (i *instance) acquire(ctx context.Context) error {
	select {
	case i.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *instance) tryAcquire() bool {
	select {
	case i.turn <- struct{}{}:
		return true
	default:
		return false
	}
}

func (i *instance) release() {
	<-i.turn
}

func (i *instance) touch() {
	i.lastUsed.Store(time.Now().UnixNano())
}
