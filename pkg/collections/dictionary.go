package collections

import (
	"context"
	"fmt"

	"github.com/plaenen/cartflow/pkg/statestore"
)

// Dictionary is a durable mapping from K to V.
type Dictionary[K comparable, V any] struct {
	c collection
}

// NewDictionary returns a handle on the dictionary called name inside store.
func NewDictionary[K comparable, V any](store statestore.Store, name string, opts ...Option) *Dictionary[K, V] {
	const owner = "FineGrainDictionaryManager"
	return &Dictionary[K, V]{c: newCollection(store, owner, fmt.Sprintf("%s::Dictionary(%s)", owner, name), opts)}
}

// TryAdd stores v under key unless key is already present.
func (d *Dictionary[K, V]) TryAdd(ctx context.Context, key K, v V) (bool, error) {
	added := false
	err := d.c.locked(func() error {
		var err error
		added, err = d.add(ctx, key, v)
		return err
	})
	return added, err
}

func (d *Dictionary[K, V]) add(ctx context.Context, key K, v V) (bool, error) {
	entries, err := loadIndex[[]entry[K]](ctx, &d.c)
	if err != nil {
		return false, err
	}
	if findEntry(entries, key) >= 0 {
		return false, nil
	}

	id := d.c.newID()
	if err := saveItem(ctx, &d.c, d.c.itemKey("Item", id), v); err != nil {
		return false, err
	}
	return true, saveIndex(ctx, &d.c, append(entries, entry[K]{Key: key, ID: id}))
}

// TryAddOrUpdate overwrites the value of an existing key in place, keeping
// its item id, or adds the key with a fresh id.
func (d *Dictionary[K, V]) TryAddOrUpdate(ctx context.Context, key K, v V) (bool, error) {
	err := d.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &d.c)
		if err != nil {
			return err
		}
		if i := findEntry(entries, key); i >= 0 {
			return saveItem(ctx, &d.c, d.c.itemKey("Item", entries[i].ID), v)
		}
		_, err = d.add(ctx, key, v)
		return err
	})
	return err == nil, err
}

// TryGet returns the value stored under key.
func (d *Dictionary[K, V]) TryGet(ctx context.Context, key K) (statestore.ConditionalValue[V], error) {
	result := statestore.None[V]()
	err := d.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &d.c)
		if err != nil {
			return err
		}
		i := findEntry(entries, key)
		if i < 0 {
			return nil
		}
		result, err = loadItem[V](ctx, &d.c, d.c.itemKey("Item", entries[i].ID))
		return err
	})
	return result, err
}

// TryRemove deletes key and returns the value it held. Removing an absent
// key is not an error.
func (d *Dictionary[K, V]) TryRemove(ctx context.Context, key K) (statestore.ConditionalValue[V], error) {
	result := statestore.None[V]()
	err := d.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &d.c)
		if err != nil {
			return err
		}
		i := findEntry(entries, key)
		if i < 0 {
			return nil
		}

		itemKey := d.c.itemKey("Item", entries[i].ID)
		if result, err = loadItem[V](ctx, &d.c, itemKey); err != nil {
			return err
		}
		if err := d.c.removeItem(ctx, itemKey); err != nil {
			return err
		}
		return saveIndex(ctx, &d.c, append(entries[:i:i], entries[i+1:]...))
	})
	if err != nil {
		return statestore.None[V](), err
	}
	return result, nil
}

// Keys returns the logical keys in insertion order.
func (d *Dictionary[K, V]) Keys(ctx context.Context) ([]K, error) {
	entries, err := loadIndex[[]entry[K]](ctx, &d.c)
	if err != nil {
		return nil, err
	}
	keys := make([]K, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

// Range calls fn for every key and value in insertion order until fn returns
// false. The collection stays locked while fn runs, so fn must not call back
// into the same dictionary.
func (d *Dictionary[K, V]) Range(ctx context.Context, fn func(K, V) bool) error {
	return d.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &d.c)
		if err != nil {
			return err
		}
		for _, e := range entries {
			item, err := loadItem[V](ctx, &d.c, d.c.itemKey("Item", e.ID))
			if err != nil {
				return err
			}
			if !item.HasValue {
				continue
			}
			if !fn(e.Key, item.Value) {
				return nil
			}
		}
		return nil
	})
}

// Len returns the number of keys.
func (d *Dictionary[K, V]) Len(ctx context.Context) (int, error) {
	entries, err := loadIndex[[]entry[K]](ctx, &d.c)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Purge removes every item and the index.
func (d *Dictionary[K, V]) Purge(ctx context.Context) error {
	return d.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &d.c)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := d.c.removeItem(ctx, d.c.itemKey("Item", e.ID)); err != nil {
				return err
			}
		}
		return d.c.removeIndex(ctx)
	})
}
