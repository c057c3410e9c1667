package statestore

import (
	"context"
	"strings"
)

// ScopedStore prefixes every key with a fixed scope, giving each entity a
// private view of a shared backend.
type ScopedStore struct {
	inner  Store
	prefix string
}

// Scoped returns a Store whose keys live under scope in s. Nested scopes
// compose: Scoped(Scoped(s, "a"), "b") writes "a/b/<key>".
func Scoped(s Store, scope string) *ScopedStore {
	scope = strings.Trim(scope, "/")
	if inner, ok := s.(*ScopedStore); ok {
		return &ScopedStore{inner: inner.inner, prefix: inner.prefix + scope + "/"}
	}
	return &ScopedStore{inner: s, prefix: scope + "/"}
}

// Scope returns the key prefix without its trailing separator.
func (s *ScopedStore) Scope() string {
	return strings.TrimSuffix(s.prefix, "/")
}

func (s *ScopedStore) key(k string) (string, error) {
	if err := ValidateKey(k); err != nil {
		return "", err
	}
	return s.prefix + k, nil
}

func (s *ScopedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, k)
}

func (s *ScopedStore) Set(ctx context.Context, key string, value []byte) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, k, value)
}

func (s *ScopedStore) Remove(ctx context.Context, key string) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, err
	}
	return s.inner.Remove(ctx, k)
}

func (s *ScopedStore) Contains(ctx context.Context, key string) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, err
	}
	return s.inner.Contains(ctx, k)
}

func (s *ScopedStore) AddOrUpdate(ctx context.Context, key string, add []byte, update UpdateFunc) ([]byte, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	return s.inner.AddOrUpdate(ctx, k, add, update)
}

var _ Store = (*ScopedStore)(nil)
