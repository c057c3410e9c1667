// Package memory provides an in-process statestore.Store backed by a
// concurrent map. State is lost when the process exits.
package memory

import (
	"context"
	"sync/atomic"

	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/puzpuzpuz/xsync/v3"
)

// Store keeps state in an xsync.MapOf.
type Store struct {
	data   *xsync.MapOf[string, []byte]
	closed atomic.Bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: xsync.NewMapOf[string, []byte]()}
}

func (s *Store) check(key string) error {
	if s.closed.Load() {
		return statestore.ErrClosed
	}
	return statestore.ValidateKey(key)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := s.check(key); err != nil {
		return nil, false, err
	}
	v, ok := s.data.Load(key)
	return statestore.Clone(v), ok, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	s.data.Store(key, statestore.Clone(value))
	return nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	_, ok := s.data.LoadAndDelete(key)
	return ok, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	_, ok := s.data.Load(key)
	return ok, nil
}

func (s *Store) AddOrUpdate(_ context.Context, key string, add []byte, update statestore.UpdateFunc) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}

	var updateErr error
	actual, _ := s.data.Compute(key, func(old []byte, loaded bool) ([]byte, bool) {
		if !loaded {
			return statestore.Clone(add), false
		}
		next, err := update(statestore.Clone(old))
		if err != nil {
			updateErr = err
			return old, false
		}
		return next, false
	})
	if updateErr != nil {
		return nil, updateErr
	}
	return statestore.Clone(actual), nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	return s.data.Size()
}

// Close makes every further call fail with statestore.ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

var _ statestore.Store = (*Store)(nil)
