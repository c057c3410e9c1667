package main

import (
	"github.com/plaenen/cartflow/pkg/app"
	"github.com/plaenen/cartflow/pkg/runner"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start a cartflow node",
		Long: `Start a node hosting the executors, processors and commerce entities.

With NATS enabled the executor and processor endpoints are exposed so other
nodes and the submit command can reach them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			node, err := app.New(cmd.Context(), c.cfg, c.logger, app.WithVersion(Version))
			if err != nil {
				return err
			}
			return runner.New(node.Services(), runner.WithLogger(c.logger)).Run(cmd.Context())
		},
	}
}
