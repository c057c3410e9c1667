package commerce

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/executor"
)

// Option configures the commerce entities.
type Option func(*config)

type config struct {
	cartIDs func() string
}

// WithCartIDs overrides how new cart ids are generated.
func WithCartIDs(gen func() string) Option {
	return func(c *config) {
		c.cartIDs = gen
	}
}

// Register adds the Customer and ShoppingCart services to host. Their
// database writes go to executors of executorService through client.
func Register(host *actor.Host, client executor.Client, executorService string, opts ...Option) {
	cfg := config{cartIDs: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &writer{client: client, service: executorService}

	host.Register(CustomerService, func(actx *actor.Context) (any, error) {
		return &Customer{
			actx:     actx,
			writer:   w,
			carts:    collections.NewStatusMap[string, CartRef, CartStatus](actx.State, cartsName),
			newCarts: cfg.cartIDs,
		}, nil
	})
	host.Register(ShoppingCartService, func(actx *actor.Context) (any, error) {
		return &ShoppingCart{
			actx:     actx,
			writer:   w,
			products: collections.NewDictionary[string, ProductInfo](actx.State, productsName),
		}, nil
	})
}

// writer submits commands to the executor with the given id.
type writer struct {
	client  executor.Client
	service string
}

func (w *writer) submit(ctx context.Context, executorID string, cmd *command.Command) error {
	addr := actor.NewAddress(w.service, executorID)
	if err := w.client.Execute(ctx, addr, cmd); err != nil {
		return fmt.Errorf("failed to submit %s to %s: %w", cmd.Name, addr, err)
	}
	slog.DebugContext(ctx, "command submitted",
		slog.String("executor", addr.String()),
		slog.String("command", cmd.Name),
		slog.String("command_id", cmd.ID))
	return nil
}
