// Package credentials supplies the credentials used to connect to NATS.
// They can be static, read from the environment or decrypted from a file
// with a gocloud.dev secrets keeper.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrCredentialsExpired is returned when credentials have expired
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrInvalidCredentials is returned when credentials are malformed
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderClosed is returned when attempting to use a closed provider
	ErrProviderClosed = errors.New("provider is closed")
)

// CredentialType defines the type of credential
type CredentialType string

const (
	CredentialTypeToken        CredentialType = "token"
	CredentialTypeUserPassword CredentialType = "user_password"
)

// Credentials authenticate a NATS connection.
type Credentials struct {
	Type      CredentialType `json:"type"`
	Token     string         `json:"token,omitempty"`
	User      string         `json:"user,omitempty"`
	Password  string         `json:"password,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// IsExpired checks if the credentials have expired
func (c *Credentials) IsExpired() bool {
	return c.ExpiresAt != nil && time.Now().After(*c.ExpiresAt)
}

// Validate ensures credentials are well-formed for their type
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: missing", ErrInvalidCredentials)
	}
	switch c.Type {
	case CredentialTypeToken:
		if c.Token == "" {
			return fmt.Errorf("%w: token is required", ErrInvalidCredentials)
		}
	case CredentialTypeUserPassword:
		if c.User == "" || c.Password == "" {
			return fmt.Errorf("%w: user and password are required", ErrInvalidCredentials)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidCredentials)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidCredentials, c.Type)
	}
	return nil
}

// LogValue keeps secrets out of logs.
func (c *Credentials) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", string(c.Type))}
	if c.User != "" {
		attrs = append(attrs, slog.String("user", c.User))
	}
	if c.Token != "" || c.Password != "" {
		attrs = append(attrs, slog.String("secret", "***"))
	}
	return slog.GroupValue(attrs...)
}

// Provider supplies credentials.
type Provider interface {
	GetCredentials(ctx context.Context) (*Credentials, error)
	Close() error
}

// SecretData is the plaintext stored in an encrypted credentials file.
type SecretData struct {
	Credentials *Credentials `json:"credentials"`
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
}
