package commerce

import (
	"context"
	"errors"
	"fmt"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/validators"
	"github.com/shopspring/decimal"
)

const (
	cartOwnerKey  = "Customer"
	productsName  = "Products"
	maxQuantity   = 1000
	pricePlaces   = 2
	maxDescLength = 200

	productIDPattern = `^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`
)

// ErrCartNotCreated is returned when products are added to a cart that was
// never created.
var ErrCartNotCreated = errors.New("cart not created")

// CartState is the cart's local projection.
type CartState struct {
	ID       string          `json:"id"`
	UserName string          `json:"user_name"`
	Products []ProductInfo   `json:"products"`
	Total    decimal.Decimal `json:"total"`
}

// ShoppingCart is the cart entity.
type ShoppingCart struct {
	actx     *actor.Context
	writer   *writer
	products *collections.Dictionary[string, ProductInfo]
}

// Create assigns the cart to userName and submits the database write. A
// second call is a no-op.
func (s *ShoppingCart) Create(ctx context.Context, userName string) error {
	if err := validators.ValidateIdentifier(userName, "userName").Err(); err != nil {
		return err
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if owner.HasValue {
		return nil
	}
	if err := s.writer.submit(ctx, ShoppingCartsExecutorID, CreateCartCommand(s.actx.Address, userName)); err != nil {
		return err
	}
	return statestore.Put(ctx, s.actx.State, cartOwnerKey, userName)
}

func (s *ShoppingCart) owner(ctx context.Context) (statestore.ConditionalValue[string], error) {
	return statestore.TryGet[string](ctx, s.actx.State, cartOwnerKey)
}

// AddProduct adds quantity units of a product. Quantities accumulate and
// the latest unit price and description win. It returns the updated line.
func (s *ShoppingCart) AddProduct(ctx context.Context, productID, description string, unitPrice decimal.Decimal, quantity int) (ProductInfo, error) {
	err := validators.NewValidationBuilder().
		Add(validators.ValidateStringPattern(productID, "productId", productIDPattern, "product code")).
		Add(validators.ValidateStringLength(description, "description", 0, maxDescLength)).
		Add(validators.ValidateAmount(unitPrice, "unitPrice", pricePlaces)).
		Add(validators.ValidateIntRange(quantity, "quantity", 1, maxQuantity)).
		Err()
	if err != nil {
		return ProductInfo{}, err
	}

	owner, err := s.owner(ctx)
	if err != nil {
		return ProductInfo{}, err
	}
	if !owner.HasValue {
		return ProductInfo{}, fmt.Errorf("%w: %s", ErrCartNotCreated, s.actx.Address.ID)
	}

	current, err := s.products.TryGet(ctx, productID)
	if err != nil {
		return ProductInfo{}, err
	}
	line := current.OrElse(ProductInfo{ID: productID})
	line.Description = description
	line.UnitPrice = unitPrice
	line.Quantity += quantity
	if line.Quantity > maxQuantity {
		return ProductInfo{}, validators.ValidateIntRange(line.Quantity, "quantity", 1, maxQuantity).Err()
	}

	if err := s.writer.submit(ctx, ShoppingCartsExecutorID, UpdateProductInCartCommand(s.actx.Address, line)); err != nil {
		return ProductInfo{}, err
	}
	if _, err := s.products.TryAddOrUpdate(ctx, productID, line); err != nil {
		return ProductInfo{}, err
	}
	return line, nil
}

// State returns the cart with its lines and total.
func (s *ShoppingCart) State(ctx context.Context) (CartState, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return CartState{}, err
	}
	st := CartState{ID: s.actx.Address.ID, UserName: owner.Value, Total: decimal.Zero}
	err = s.products.Range(ctx, func(_ string, p ProductInfo) bool {
		st.Products = append(st.Products, p)
		st.Total = st.Total.Add(p.LineTotal())
		return true
	})
	return st, err
}

// Total returns the sum of all line totals.
func (s *ShoppingCart) Total(ctx context.Context) (decimal.Decimal, error) {
	st, err := s.State(ctx)
	return st.Total, err
}
