// Package statestore defines the per-key state store that entities persist
// into, plus typed helpers and a scoping wrapper.
//
// A Store guarantees atomicity for a single key only. Anything that spans
// several keys (see pkg/collections) has to coordinate on its own.
package statestore

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by backends after Close has been called.
	ErrClosed = errors.New("state store is closed")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid state key")
)

// UpdateFunc computes the new value of a key from its current value.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a persistent map from string keys to opaque values.
type Store interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)

	// Contains reports whether key is present.
	Contains(ctx context.Context, key string) (bool, error)

	// AddOrUpdate atomically stores add when key is absent, or the result of
	// update applied to the current value when it is present. It returns the
	// value that ended up stored.
	AddOrUpdate(ctx context.Context, key string, add []byte, update UpdateFunc) ([]byte, error)
}

// ValidateKey rejects keys no backend can store.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}

// Clone returns a copy of b so callers never share backing arrays with a
// backend.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
