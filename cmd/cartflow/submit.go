package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/app"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/commerce"
	transport "github.com/plaenen/cartflow/pkg/nats"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newSubmitCmd(c *cli) *cobra.Command {
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Queue a database command on a running node",
		Long: `Queue a commerce command directly on an executor of a running node.

The command bypasses the customer and cart entities and only writes the
database.`,
	}

	customer := &cobra.Command{
		Use:   "customer <user-name>",
		Short: "Upsert a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			first, _ := f.GetString("first-name")
			last, _ := f.GetString("last-name")
			enabled, _ := f.GetBool("enabled")
			return c.submit(cmd, commerce.CustomersExecutorID, commerce.UpdateCustomerCommand(
				actor.NewAddress(commerce.CustomerService, args[0]),
				commerce.CustomerInfo{FirstName: first, LastName: last, IsEnabled: enabled}))
		},
	}
	customer.Flags().String("first-name", "", "first name")
	customer.Flags().String("last-name", "", "last name")
	customer.Flags().Bool("enabled", true, "whether the customer may shop")

	cart := &cobra.Command{
		Use:   "cart <cart-id> <user-name>",
		Short: "Create a shopping cart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd, commerce.ShoppingCartsExecutorID, commerce.CreateCartCommand(
				actor.NewAddress(commerce.ShoppingCartService, args[0]), args[1]))
		},
	}

	product := &cobra.Command{
		Use:   "product <cart-id> <product-id>",
		Short: "Set a product line of a shopping cart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			description, _ := f.GetString("description")
			price, _ := f.GetString("price")
			quantity, _ := f.GetInt("quantity")

			unitPrice, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}
			return c.submit(cmd, commerce.ShoppingCartsExecutorID, commerce.UpdateProductInCartCommand(
				actor.NewAddress(commerce.ShoppingCartService, args[0]),
				commerce.ProductInfo{ID: args[1], Description: description, UnitPrice: unitPrice, Quantity: quantity}))
		},
	}
	product.Flags().String("description", "", "short description")
	product.Flags().String("price", "0", "unit price")
	product.Flags().Int("quantity", 1, "quantity")

	submit.AddCommand(customer, cart, product)
	return submit
}

func (c *cli) submit(cmd *cobra.Command, executorID string, queued *command.Command) error {
	return c.withClient(cmd.Context(), func(ctx context.Context, client *transport.Client) error {
		addr := actor.NewAddress(c.cfg.ExecutorService, executorID)
		if err := client.Execute(ctx, addr, queued); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s on %s\n", queued.ID, addr)
		return nil
	})
}

func (c *cli) withClient(ctx context.Context, fn func(ctx context.Context, client *transport.Client) error) error {
	nc, err := app.Connect(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	return fn(ctx, transport.NewClient(nc))
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <executor-id>",
		Short: "Show the queue of an executor on a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd.Context(), func(ctx context.Context, client *transport.Client) error {
				st, err := client.Status(ctx, actor.NewAddress(c.cfg.ExecutorService, args[0]))
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
}
