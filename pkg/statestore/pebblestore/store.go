// Package pebblestore provides a statestore.Store on top of a local Pebble LSM.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/plaenen/cartflow/pkg/statestore"
)

// Store keeps state keys as Pebble keys. Writes go through a mutex so
// AddOrUpdate can read and write one key without racing another writer.
type Store struct {
	db     *pebble.DB
	mu     sync.Mutex
	closed bool
	sync   bool
}

type config struct {
	dir      string
	inMemory bool
	sync     bool
}

// Option configures a Store.
type Option func(*config)

// WithDir sets the database directory.
func WithDir(dir string) Option {
	return func(c *config) {
		c.dir = dir
	}
}

// WithInMemory keeps all files in an in-memory filesystem.
func WithInMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

// WithSync toggles fsync on every write. Enabled by default.
func WithSync(enabled bool) Option {
	return func(c *config) {
		c.sync = enabled
	}
}

// New opens a Pebble database.
func New(opts ...Option) (*Store, error) {
	cfg := config{dir: "cartflow-state", sync: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	popts := &pebble.Options{}
	if cfg.inMemory {
		popts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(cfg.dir, popts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.dir, err)
	}
	return &Store{db: db, sync: cfg.sync}, nil
}

func (s *Store) writeOpts() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (s *Store) get(key string) ([]byte, bool, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state %q: %w", key, err)
	}
	defer closer.Close()
	return statestore.Clone(val), true, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, statestore.ErrClosed
	}
	return s.get(key)
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if err := statestore.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return statestore.ErrClosed
	}
	if err := s.db.Set([]byte(key), value, s.writeOpts()); err != nil {
		return fmt.Errorf("failed to save state %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, statestore.ErrClosed
	}

	_, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.db.Delete([]byte(key), s.writeOpts()); err != nil {
		return false, fmt.Errorf("failed to remove state %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) AddOrUpdate(_ context.Context, key string, add []byte, update statestore.UpdateFunc) ([]byte, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, statestore.ErrClosed
	}

	current, ok, err := s.get(key)
	if err != nil {
		return nil, err
	}
	next := add
	if ok {
		if next, err = update(current); err != nil {
			return nil, err
		}
	}
	if err := s.db.Set([]byte(key), next, s.writeOpts()); err != nil {
		return nil, fmt.Errorf("failed to save state %q: %w", key, err)
	}
	return statestore.Clone(next), nil
}

// Keys lists every key starting with prefix, in byte order.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, statestore.ErrClosed
	}

	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upperBound(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return keys, nil
}

// upperBound returns the smallest key greater than every key with prefix p,
// or nil when no such key exists.
func upperBound(p []byte) []byte {
	end := statestore.Clone(p)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ statestore.Store = (*Store)(nil)
