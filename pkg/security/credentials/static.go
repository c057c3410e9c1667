package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// StaticProvider returns fixed credentials. Meant for development and tests.
type StaticProvider struct {
	creds *Credentials
}

// NewStaticTokenProvider returns a provider for token.
func NewStaticTokenProvider(token string) *StaticProvider {
	return &StaticProvider{creds: &Credentials{Type: CredentialTypeToken, Token: token}}
}

// NewStaticUserPasswordProvider returns a provider for user and password.
func NewStaticUserPasswordProvider(user, password string) *StaticProvider {
	return &StaticProvider{creds: &Credentials{Type: CredentialTypeUserPassword, User: user, Password: password}}
}

// GetCredentials returns the static credentials
func (p *StaticProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	if err := p.creds.Validate(); err != nil {
		return nil, err
	}
	return p.creds, nil
}

// Close is a no-op.
func (p *StaticProvider) Close() error {
	return nil
}

// EnvProvider reads credentials from environment variables on every call.
// A token takes precedence over user and password.
type EnvProvider struct {
	TokenVar    string
	UserVar     string
	PasswordVar string
}

// GetCredentials reads the configured variables.
func (p *EnvProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	if token := os.Getenv(p.TokenVar); p.TokenVar != "" && token != "" {
		return &Credentials{Type: CredentialTypeToken, Token: token}, nil
	}
	user, password := os.Getenv(p.UserVar), os.Getenv(p.PasswordVar)
	if p.UserVar != "" && user != "" && password != "" {
		return &Credentials{Type: CredentialTypeUserPassword, User: user, Password: password}, nil
	}
	return nil, fmt.Errorf("%w: none of %s, %s/%s set", ErrInvalidCredentials, p.TokenVar, p.UserVar, p.PasswordVar)
}

// Close is a no-op.
func (p *EnvProvider) Close() error {
	return nil
}

// ChainProvider tries providers in order until one succeeds.
type ChainProvider struct {
	providers []Provider
}

// NewChainProvider creates a provider that chains multiple providers
func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

// GetCredentials returns the first credentials found.
func (p *ChainProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	if len(p.providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	var errs []error
	for i, provider := range p.providers {
		creds, err := provider.GetCredentials(ctx)
		if err == nil {
			return creds, nil
		}
		errs = append(errs, fmt.Errorf("provider %d: %w", i, err))
	}
	return nil, errors.Join(errs...)
}

// Close closes all providers
func (p *ChainProvider) Close() error {
	var errs []error
	for _, provider := range p.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
