package main

import (
	"fmt"
	"log/slog"

	"github.com/plaenen/cartflow/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version of the cartflow binary.
const Version = "0.3.0"

// cli carries the loaded configuration into the subcommands.
type cli struct {
	viper  *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "cartflow",
		Short: "durable sequential command dispatch",
		Long: fmt.Sprintf(`cartflow (v%s)

Customers and shopping carts whose database writes are queued per executor,
applied one at a time by processors with bounded retry, and survive restarts.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.viper = config.NewViper()
			cfg, err := config.Load(c.viper, cmd)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = cfg.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(c.logger)
			return nil
		},
	}
	config.RegisterFlags(root)

	root.AddCommand(
		newServeCmd(c),
		newSubmitCmd(c),
		newStatusCmd(c),
		newCredsCmd(c),
		newTracesCmd(c),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cartflow",
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cartflow v%s\n", Version)
		},
	}
}
