// Package natskv provides a statestore.Store backed by a NATS JetStream
// key-value bucket, so entity state survives the loss of a node.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/plaenen/cartflow/pkg/statestore"
)

// ErrConflict is returned when AddOrUpdate keeps losing the revision race.
var ErrConflict = errors.New("state update conflict")

// Store maps state keys onto bucket keys. Keys are base64url encoded since
// bucket keys only allow a restricted alphabet.
type Store struct {
	kv         nats.KeyValue
	maxRetries int
}

// Config describes the bucket to use.
type Config struct {
	// Bucket is the key-value bucket name.
	Bucket string

	// Storage selects file or memory storage for a newly created bucket.
	Storage nats.StorageType

	// Replicas for a newly created bucket.
	Replicas int

	// MaxRetries bounds compare-and-set retries in AddOrUpdate.
	MaxRetries int
}

// DefaultConfig returns a file-backed, single-replica bucket config.
func DefaultConfig() Config {
	return Config{
		Bucket:     "CARTFLOW_STATE",
		Storage:    nats.FileStorage,
		Replicas:   1,
		MaxRetries: 16,
	}
}

// New binds to the configured bucket, creating it when missing.
func New(js nats.JetStreamContext, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "cartflow entity state",
			History:     1,
			Storage:     cfg.Storage,
			Replicas:    cfg.Replicas,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind key-value bucket %s: %w", cfg.Bucket, err)
	}

	return &Store{kv: kv, maxRetries: cfg.MaxRetries}, nil
}

func encodeKey(key string) (string, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(key)), nil
}

func (s *Store) entry(key string) (nats.KeyValueEntry, error) {
	e, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	k, err := encodeKey(key)
	if err != nil {
		return nil, false, err
	}
	e, err := s.entry(k)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state %q: %w", key, err)
	}
	if e == nil {
		return nil, false, nil
	}
	return statestore.Clone(e.Value()), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	k, err := encodeKey(key)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(k, value); err != nil {
		return fmt.Errorf("failed to save state %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	k, err := encodeKey(key)
	if err != nil {
		return false, err
	}
	e, err := s.entry(k)
	if err != nil {
		return false, fmt.Errorf("failed to load state %q: %w", key, err)
	}
	if e == nil {
		return false, nil
	}
	if err := s.kv.Delete(k); err != nil {
		return false, fmt.Errorf("failed to remove state %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// AddOrUpdate uses the entry revision as a compare-and-set token and
// retries when another writer got there first.
func (s *Store) AddOrUpdate(ctx context.Context, key string, add []byte, update statestore.UpdateFunc) ([]byte, error) {
	k, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, err := s.entry(k)
		if err != nil {
			return nil, fmt.Errorf("failed to load state %q: %w", key, err)
		}

		if e == nil {
			_, err = s.kv.Create(k, add)
			if err == nil {
				return statestore.Clone(add), nil
			}
		} else {
			next, uerr := update(statestore.Clone(e.Value()))
			if uerr != nil {
				return nil, uerr
			}
			_, err = s.kv.Update(k, next, e.Revision())
			if err == nil {
				return next, nil
			}
		}

		if !isConflict(err) {
			return nil, fmt.Errorf("failed to save state %q: %w", key, err)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrConflict, key)
}

func isConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

var _ statestore.Store = (*Store)(nil)
