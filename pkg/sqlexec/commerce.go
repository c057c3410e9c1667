package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plaenen/cartflow/pkg/commerce"
)

// ErrCartNotFound is returned when a product is written to a cart row that
// does not exist yet.
var ErrCartNotFound = errors.New("shopping cart not found")

// CommerceProcedures returns a registry with the procedures the commerce
// entities submit.
func CommerceProcedures() *Registry {
	return NewRegistry(
		&Procedure{
			Name:   commerce.ProcCustomerUpdate,
			Params: []string{"@userName", "@firstName", "@lastName", "@isEnabled"},
			Run:    customerUpdate,
		},
		&Procedure{
			Name:   commerce.ProcShoppingCartCreate,
			Params: []string{"@idShoppingCart", "@userName"},
			Run:    shoppingCartCreate,
		},
		&Procedure{
			Name:   commerce.ProcProductInShoppingCartUpdate,
			Params: []string{"@idShoppingCart", "@idProduct", "@shortDescription", "@unitPrice", "@quantity"},
			Run:    productInShoppingCartUpdate,
		},
	)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func customerUpdate(ctx context.Context, tx *sql.Tx, args Args) error {
	userName, err := args.String("userName")
	if err != nil {
		return err
	}
	first, err := args.String("firstName")
	if err != nil {
		return err
	}
	last, err := args.String("lastName")
	if err != nil {
		return err
	}
	enabled, err := args.Bool("isEnabled")
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customers (user_name, first_name, last_name, is_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_name) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at
	`, userName, first, last, enabled, now())
	return err
}

func shoppingCartCreate(ctx context.Context, tx *sql.Tx, args Args) error {
	id, err := args.String("idShoppingCart")
	if err != nil {
		return err
	}
	userName, err := args.String("userName")
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shopping_carts (id, user_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, userName, now())
	return err
}

func productInShoppingCartUpdate(ctx context.Context, tx *sql.Tx, args Args) error {
	cartID, err := args.String("idShoppingCart")
	if err != nil {
		return err
	}
	productID, err := args.String("idProduct")
	if err != nil {
		return err
	}
	desc, err := args.String("shortDescription")
	if err != nil {
		return err
	}
	price, err := args.Decimal("unitPrice")
	if err != nil {
		return err
	}
	quantity, err := args.Int("quantity")
	if err != nil {
		return err
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM shopping_carts WHERE id = ?`, cartID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrCartNotFound, cartID)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shopping_cart_products (cart_id, product_id, short_description, unit_price, quantity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cart_id, product_id) DO UPDATE SET
			short_description = excluded.short_description,
			unit_price = excluded.unit_price,
			quantity = excluded.quantity,
			updated_at = excluded.updated_at
	`, cartID, productID, desc, price.String(), quantity, now())
	return err
}
