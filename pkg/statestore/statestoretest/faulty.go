package statestoretest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/plaenen/cartflow/pkg/statestore"
)

// ErrInjected is returned by a FaultyStore write that was set up to fail.
var ErrInjected = errors.New("injected store failure")

// FaultyStore wraps a Store and fails the next writes to keys under a
// prefix. Reads always pass through.
type FaultyStore struct {
	statestore.Store
	prefix   string
	failures atomic.Int32
}

// NewFaultyStore wraps s. Writes to keys starting with prefix fail once
// FailNext is called.
func NewFaultyStore(s statestore.Store, prefix string) *FaultyStore {
	return &FaultyStore{Store: s, prefix: prefix}
}

// FailNext makes the next n writes under the prefix fail.
func (f *FaultyStore) FailNext(n int) {
	f.failures.Store(int32(n))
}

func (f *FaultyStore) fail(key string) error {
	if !strings.HasPrefix(key, f.prefix) {
		return nil
	}
	for {
		n := f.failures.Load()
		if n <= 0 {
			return nil
		}
		if f.failures.CompareAndSwap(n, n-1) {
			return ErrInjected
		}
	}
}

func (f *FaultyStore) Set(ctx context.Context, key string, value []byte) error {
	if err := f.fail(key); err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value)
}

func (f *FaultyStore) Remove(ctx context.Context, key string) (bool, error) {
	if err := f.fail(key); err != nil {
		return false, err
	}
	return f.Store.Remove(ctx, key)
}

func (f *FaultyStore) AddOrUpdate(ctx context.Context, key string, add []byte, update statestore.UpdateFunc) ([]byte, error) {
	if err := f.fail(key); err != nil {
		return nil, err
	}
	return f.Store.AddOrUpdate(ctx, key, add, update)
}
