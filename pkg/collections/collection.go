// Package collections builds durable queues, dictionaries, two-value maps and
// status maps on top of a statestore.Store that is only atomic per key.
//
// Every collection keeps one index key that maps logical keys to generated
// item ids, and one item key per stored value. Compound updates run inside a
// CriticalSection so readers never see an index entry without its item or
// the other way round.
package collections

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/plaenen/cartflow/pkg/statestore"
)

type options struct {
	cs    CriticalSection
	newID func() string
}

// Option configures a collection handle.
type Option func(*options)

// WithCriticalSection overrides the lock used for compound operations.
// Handles on the same collection must share the same critical section.
func WithCriticalSection(cs CriticalSection) Option {
	return func(o *options) {
		o.cs = cs
	}
}

// WithIDGenerator overrides item id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// collection carries what every collection type shares: where the index
// lives, how items are named and which lock guards them.
type collection struct {
	store    statestore.Store
	indexKey string
	owner    string
	lockKey  string
	cs       CriticalSection
	newID    func() string
}

func newCollection(store statestore.Store, owner, indexKey string, opts []Option) collection {
	o := options{
		cs:    Keyed(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	lockKey := indexKey
	if s, ok := store.(interface{ Scope() string }); ok {
		lockKey = s.Scope() + "/" + indexKey
	}

	return collection{
		store:    store,
		indexKey: indexKey,
		owner:    owner,
		lockKey:  lockKey,
		cs:       o.cs,
		newID:    o.newID,
	}
}

func (c *collection) locked(fn func() error) error {
	c.cs.Lock(c.lockKey)
	defer c.cs.Unlock(c.lockKey)
	return fn()
}

// itemKey names the slot holding one stored value, e.g.
// "FineGrainDictionaryManager:Item(<id>)".
func (c *collection) itemKey(slot, id string) string {
	return fmt.Sprintf("%s:%s(%s)", c.owner, slot, id)
}

func (c *collection) removeIndex(ctx context.Context) error {
	if _, err := c.store.Remove(ctx, c.indexKey); err != nil {
		return fmt.Errorf("failed to remove index %s: %w", c.indexKey, err)
	}
	return nil
}

func (c *collection) removeItem(ctx context.Context, key string) error {
	if _, err := c.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to remove item %s: %w", key, err)
	}
	return nil
}

func loadIndex[I any](ctx context.Context, c *collection) (I, error) {
	v, err := statestore.TryGet[I](ctx, c.store, c.indexKey)
	if err != nil {
		var zero I
		return zero, fmt.Errorf("failed to load index %s: %w", c.indexKey, err)
	}
	return v.Value, nil
}

func saveIndex[I any](ctx context.Context, c *collection, index I) error {
	if err := statestore.Put(ctx, c.store, c.indexKey, index); err != nil {
		return fmt.Errorf("failed to save index %s: %w", c.indexKey, err)
	}
	return nil
}

func loadItem[V any](ctx context.Context, c *collection, key string) (statestore.ConditionalValue[V], error) {
	v, err := statestore.TryGet[V](ctx, c.store, key)
	if err != nil {
		return v, fmt.Errorf("failed to load item %s: %w", key, err)
	}
	return v, nil
}

func saveItem[V any](ctx context.Context, c *collection, key string, v V) error {
	if err := statestore.Put(ctx, c.store, key, v); err != nil {
		return fmt.Errorf("failed to save item %s: %w", key, err)
	}
	return nil
}

// entry is one index slot of a keyed collection.
type entry[K comparable] struct {
	Key K      `json:"k"`
	ID  string `json:"id"`
}

func findEntry[K comparable](entries []entry[K], key K) int {
	for i := range entries {
		if entries[i].Key == key {
			return i
		}
	}
	return -1
}
