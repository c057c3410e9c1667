package commerce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/validators"
)

const (
	customerInfoKey = "CustomerInfo"
	cartsName       = "Carts"
)

// ErrCustomerNotFound is returned for operations that need an existing
// customer.
var ErrCustomerNotFound = errors.New("customer not found")

// CustomerInfo is the customer's local projection.
type CustomerInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsEnabled bool   `json:"is_enabled"`
}

// CartStatus tracks a cart in its owner's cart list.
type CartStatus string

const (
	CartOpen       CartStatus = "open"
	CartCheckedOut CartStatus = "checked_out"
)

// CartRef is the entry a customer keeps per cart.
type CartRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the customer entity. Its id is the user name.
type Customer struct {
	actx     *actor.Context
	writer   *writer
	carts    *collections.StatusMap[string, CartRef, CartStatus]
	newCarts func() string
}

func (c *Customer) userName() string {
	return c.actx.Address.ID
}

// Update validates and stores the customer's details, then submits the
// matching database write.
func (c *Customer) Update(ctx context.Context, info CustomerInfo) error {
	err := validators.NewValidationBuilder().
		Add(validators.ValidateIdentifier(c.userName(), "userName")).
		Add(validators.ValidateStringEmpty(info.FirstName, "firstName")).
		Add(validators.ValidateStringLength(info.FirstName, "firstName", 0, 50)).
		Add(validators.ValidateStringEmpty(info.LastName, "lastName")).
		Add(validators.ValidateStringLength(info.LastName, "lastName", 0, 50)).
		Err()
	if err != nil {
		return err
	}
	return c.save(ctx, info)
}

// SetEnabled flips the enabled flag of an existing customer.
func (c *Customer) SetEnabled(ctx context.Context, enabled bool) error {
	current, err := c.Info(ctx)
	if err != nil {
		return err
	}
	info, ok := current.Get()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCustomerNotFound, c.userName())
	}
	if info.IsEnabled == enabled {
		return nil
	}
	info.IsEnabled = enabled
	return c.save(ctx, info)
}

func (c *Customer) save(ctx context.Context, info CustomerInfo) error {
	if err := c.writer.submit(ctx, CustomersExecutorID, UpdateCustomerCommand(c.actx.Address, info)); err != nil {
		return err
	}
	return statestore.Put(ctx, c.actx.State, customerInfoKey, info)
}

// Info returns the stored details, if any.
func (c *Customer) Info(ctx context.Context) (statestore.ConditionalValue[CustomerInfo], error) {
	return statestore.TryGet[CustomerInfo](ctx, c.actx.State, customerInfoKey)
}

// OpenCart returns the customer's open cart, creating one when there is
// none.
func (c *Customer) OpenCart(ctx context.Context) (string, error) {
	current, err := c.CurrentCart(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := current.Get(); ok {
		return id, nil
	}

	info, err := c.Info(ctx)
	if err != nil {
		return "", err
	}
	if !info.HasValue {
		return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, c.userName())
	}

	id := c.newCarts()
	addr := actor.NewAddress(ShoppingCartService, id)
	err = actor.Call(ctx, c.actx.Host(), addr, func(ctx context.Context, cart *ShoppingCart) error {
		return cart.Create(ctx, c.userName())
	})
	if err != nil {
		return "", fmt.Errorf("failed to create cart %s: %w", id, err)
	}

	if _, err := c.carts.TryAdd(ctx, id, CartRef{ID: id, CreatedAt: time.Now().UTC()}, CartOpen); err != nil {
		return "", err
	}
	c.actx.Logger.InfoContext(ctx, "cart opened", slog.String("cart_id", id))
	return id, nil
}

// CurrentCart returns the most recently opened cart that is still open.
func (c *Customer) CurrentCart(ctx context.Context) (statestore.ConditionalValue[string], error) {
	open, err := c.carts.KeysWithStatus(ctx, CartOpen)
	if err != nil {
		return statestore.None[string](), err
	}
	if len(open) == 0 {
		return statestore.None[string](), nil
	}
	return statestore.Some(open[len(open)-1]), nil
}

// Checkout marks an open cart as checked out. It reports false when the
// cart does not belong to the customer.
func (c *Customer) Checkout(ctx context.Context, cartID string) (bool, error) {
	return c.carts.TryUpdateStatus(ctx, cartID, CartCheckedOut)
}

// Carts returns the ids of the customer's carts with the given status.
func (c *Customer) Carts(ctx context.Context, status CartStatus) ([]string, error) {
	return c.carts.KeysWithStatus(ctx, status)
}
