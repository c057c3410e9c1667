package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gocloud.dev/secrets"
	_ "gocloud.dev/secrets/localsecrets" // base64key:// and stringkey:// keepers
)

// DefaultCacheTTL is how long decrypted credentials are reused.
const DefaultCacheTTL = 5 * time.Minute

// SecretProvider decrypts credentials from a file with a secrets keeper.
// The keeper URL selects the backend, e.g. base64key://<key> for local
// development or awskms://... in production when that driver is linked in.
type SecretProvider struct {
	keeper   *secrets.Keeper
	path     string
	cacheTTL time.Duration

	mu          sync.Mutex
	cached      *Credentials
	cacheExpiry time.Time
	closed      bool
}

// SecretOption configures a SecretProvider.
type SecretOption func(*SecretProvider)

// WithCacheTTL overrides DefaultCacheTTL. Zero disables caching.
func WithCacheTTL(d time.Duration) SecretOption {
	return func(p *SecretProvider) {
		p.cacheTTL = d
	}
}

// NewSecretProvider opens the keeper at keeperURL and loads the credentials
// encrypted in path.
func NewSecretProvider(ctx context.Context, keeperURL, path string, opts ...SecretOption) (*SecretProvider, error) {
	if keeperURL == "" {
		return nil, fmt.Errorf("secret keeper URL is required")
	}
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret keeper: %w", err)
	}

	p := &SecretProvider{keeper: keeper, path: path, cacheTTL: DefaultCacheTTL}
	for _, opt := range opts {
		opt(p)
	}

	p.mu.Lock()
	_, err = p.load(ctx)
	p.mu.Unlock()
	if err != nil {
		keeper.Close()
		return nil, fmt.Errorf("failed to load initial credentials: %w", err)
	}
	return p, nil
}

// GetCredentials returns the cached credentials, decrypting the file again
// once the cache has expired.
func (p *SecretProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	creds := p.cached
	if creds == nil || !time.Now().Before(p.cacheExpiry) {
		var err error
		if creds, err = p.load(ctx); err != nil {
			return nil, err
		}
	}
	if creds.IsExpired() {
		return nil, ErrCredentialsExpired
	}
	return creds, nil
}

// Refresh drops the cache and decrypts the file again.
func (p *SecretProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}
	_, err := p.load(ctx)
	return err
}

func (p *SecretProvider) load(ctx context.Context) (*Credentials, error) {
	ciphertext, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	plaintext, err := p.keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	var data SecretData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secret data: %w", err)
	}
	if err := data.Credentials.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials in secret: %w", err)
	}

	p.cached = data.Credentials
	p.cacheExpiry = time.Now().Add(p.cacheTTL)
	return p.cached, nil
}

// Close releases the keeper.
func (p *SecretProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cached = nil
	return p.keeper.Close()
}

// StoreCredentials encrypts creds with the keeper at keeperURL and writes
// the ciphertext to path.
func StoreCredentials(ctx context.Context, keeperURL, path string, creds *Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return fmt.Errorf("failed to open keeper: %w", err)
	}
	defer keeper.Close()

	plaintext, err := json.Marshal(SecretData{Credentials: creds, Version: 1, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	ciphertext, err := keeper.Encrypt(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}
