// Package commerce holds the customer and shopping cart actors. Both keep
// their own state locally and persist every change to the commerce
// database by submitting procedure commands to a sequential executor.
package commerce

import (
	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/shopspring/decimal"
)

// Procedures understood by the commerce database.
const (
	ProcCustomerUpdate              = "[dbo].[Customer_Update]"
	ProcShoppingCartCreate          = "[dbo].[ShoppingCart_Create]"
	ProcProductInShoppingCartUpdate = "[dbo].[ProductInShoppingCart_Update]"
)

// Service names and executor ids.
const (
	ApplicationName     = "cartflow"
	CustomerService     = "Customer"
	ShoppingCartService = "ShoppingCart"

	// CustomersExecutorID serializes customer writes.
	CustomersExecutorID = "Customers"

	// ShoppingCartsExecutorID serializes cart writes, so a cart is always
	// created before its products are written.
	ShoppingCartsExecutorID = "ShoppingCarts"
)

// CallerOf describes the entity at addr as a command caller.
func CallerOf(addr actor.Address) command.Caller {
	return command.Caller{
		ID:              addr.ID,
		ApplicationName: ApplicationName,
		ServiceName:     addr.Service,
		ServiceURI:      ApplicationName + "://" + addr.Service,
	}
}

// UpdateCustomerCommand writes a customer row. The user name is the
// customer's entity id.
func UpdateCustomerCommand(customer actor.Address, info CustomerInfo) *command.Command {
	return command.New(ProcCustomerUpdate, map[string]any{
		"@userName":  customer.ID,
		"@firstName": info.FirstName,
		"@lastName":  info.LastName,
		"@isEnabled": info.IsEnabled,
	}, command.WithCaller(CallerOf(customer)))
}

// CreateCartCommand writes a cart row owned by userName.
func CreateCartCommand(cart actor.Address, userName string) *command.Command {
	return command.New(ProcShoppingCartCreate, map[string]any{
		"@idShoppingCart": cart.ID,
		"@userName":       userName,
	}, command.WithCaller(CallerOf(cart)))
}

// UpdateProductInCartCommand writes the current line of a product in a
// cart.
func UpdateProductInCartCommand(cart actor.Address, p ProductInfo) *command.Command {
	return command.New(ProcProductInShoppingCartUpdate, map[string]any{
		"@idShoppingCart":   cart.ID,
		"@idProduct":        p.ID,
		"@shortDescription": p.Description,
		"@unitPrice":        p.UnitPrice,
		"@quantity":         p.Quantity,
	}, command.WithCaller(CallerOf(cart)))
}

// ProductInfo is one line of a shopping cart.
type ProductInfo struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// LineTotal is UnitPrice times Quantity.
func (p ProductInfo) LineTotal() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}
