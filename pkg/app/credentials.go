package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/cartflow/pkg/config"
	transport "github.com/plaenen/cartflow/pkg/nats"
	"github.com/plaenen/cartflow/pkg/security/credentials"
)

// Environment variables consulted when neither a token nor an encrypted
// credentials file is configured.
const (
	envNATSUser     = "CARTFLOW_NATS_USER"
	envNATSPassword = "CARTFLOW_NATS_PASSWORD"
)

// Connect dials the NATS server of a running node: NATSURL when set, the
// embedded server's port on localhost otherwise.
func Connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*nats.Conn, error) {
	url := cfg.NATSURL
	if url == "" {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATSPort)
	}
	cc, err := connectConfig(ctx, cfg, url)
	if err != nil {
		return nil, err
	}
	return transport.Connect(cc, logger)
}

// connectConfig resolves NATS credentials: the encrypted file first, then
// the configured token or user, then user and password from the environment. No
// credentials at all means an anonymous connection.
func connectConfig(ctx context.Context, cfg config.Config, url string) (transport.ConnectConfig, error) {
	cc := transport.ConnectConfig{URL: url, Name: "cartflow", MaxReconnects: -1}

	var providers []credentials.Provider
	if cfg.NATSCredsFile != "" {
		secret, err := credentials.NewSecretProvider(ctx, cfg.NATSCredsURL, cfg.NATSCredsFile)
		if err != nil {
			return cc, fmt.Errorf("failed to load NATS credentials: %w", err)
		}
		providers = append(providers, secret)
	}
	switch {
	case cfg.NATSToken != "":
		providers = append(providers, credentials.NewStaticTokenProvider(cfg.NATSToken))
	case cfg.NATSUser != "":
		providers = append(providers, credentials.NewStaticUserPasswordProvider(cfg.NATSUser, cfg.NATSPassword))
	}
	providers = append(providers, &credentials.EnvProvider{UserVar: envNATSUser, PasswordVar: envNATSPassword})

	chain := credentials.NewChainProvider(providers...)
	defer chain.Close()

	creds, err := chain.GetCredentials(ctx)
	if err != nil {
		// Anonymous.
		return cc, nil
	}
	switch creds.Type {
	case credentials.CredentialTypeToken:
		cc.Token = creds.Token
	case credentials.CredentialTypeUserPassword:
		cc.User, cc.Password = creds.User, creds.Password
	}
	return cc, nil
}
