package main

import (
	"fmt"

	"github.com/plaenen/cartflow/pkg/security/credentials"
	"github.com/spf13/cobra"
)

func newCredsCmd(c *cli) *cobra.Command {
	creds := &cobra.Command{
		Use:   "creds",
		Short: "Manage the encrypted NATS credentials file",
	}

	store := &cobra.Command{
		Use:   "store",
		Short: "Encrypt NATS credentials into --nats-creds-file with the --nats-creds-url keeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.NATSCredsURL == "" {
				return fmt.Errorf("--nats-creds-url and --nats-creds-file are required")
			}
			f := cmd.Flags()
			token, _ := f.GetString("token")
			user, _ := f.GetString("user")
			password, _ := f.GetString("password")

			cr := &credentials.Credentials{Type: credentials.CredentialTypeToken, Token: token}
			if token == "" {
				cr = &credentials.Credentials{Type: credentials.CredentialTypeUserPassword, User: user, Password: password}
			}
			if err := credentials.StoreCredentials(cmd.Context(), c.cfg.NATSCredsURL, c.cfg.NATSCredsFile, cr); err != nil {
				return err
			}
			c.logger.Info("credentials stored", "file", c.cfg.NATSCredsFile, "credentials", cr)
			return nil
		},
	}
	store.Flags().String("token", "", "auth token")
	store.Flags().String("user", "", "user name")
	store.Flags().String("password", "", "password")

	creds.AddCommand(store)
	return creds
}
