package collections

import (
	"context"
	"fmt"

	"github.com/plaenen/cartflow/pkg/statestore"
)

// ValueStatus is a StatusMap value together with its status.
type ValueStatus[V any, S comparable] struct {
	Value  V
	Status S
}

type statusEntry[K, S comparable] struct {
	Key    K      `json:"k"`
	ID     string `json:"id"`
	Status S      `json:"s"`
}

// StatusMap is a Dictionary whose index also carries a status per key, so
// filtering by status reads only the matching items.
type StatusMap[K comparable, V any, S comparable] struct {
	c collection
}

// NewStatusMap returns a handle on the status map called name inside store.
func NewStatusMap[K comparable, V any, S comparable](store statestore.Store, name string, opts ...Option) *StatusMap[K, V, S] {
	const owner = "FineGrainStatusMapManager"
	return &StatusMap[K, V, S]{c: newCollection(store, owner, fmt.Sprintf("%s::Map(%s)", owner, name), opts)}
}

func (m *StatusMap[K, V, S]) find(entries []statusEntry[K, S], key K) int {
	for i := range entries {
		if entries[i].Key == key {
			return i
		}
	}
	return -1
}

// TryAdd stores v with status s unless key is already present.
func (m *StatusMap[K, V, S]) TryAdd(ctx context.Context, key K, v V, s S) (bool, error) {
	added := false
	err := m.c.locked(func() error {
		var err error
		added, err = m.add(ctx, key, v, s)
		return err
	})
	return added, err
}

func (m *StatusMap[K, V, S]) add(ctx context.Context, key K, v V, s S) (bool, error) {
	entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
	if err != nil {
		return false, err
	}
	if m.find(entries, key) >= 0 {
		return false, nil
	}

	id := m.c.newID()
	if err := saveItem(ctx, &m.c, m.c.itemKey("Item", id), v); err != nil {
		return false, err
	}
	return true, saveIndex(ctx, &m.c, append(entries, statusEntry[K, S]{Key: key, ID: id, Status: s}))
}

// TryAddOrUpdate overwrites value and status of an existing key or adds it.
func (m *StatusMap[K, V, S]) TryAddOrUpdate(ctx context.Context, key K, v V, s S) (bool, error) {
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := m.find(entries, key)
		if i < 0 {
			_, err = m.add(ctx, key, v, s)
			return err
		}
		if err := saveItem(ctx, &m.c, m.c.itemKey("Item", entries[i].ID), v); err != nil {
			return err
		}
		entries[i].Status = s
		return saveIndex(ctx, &m.c, entries)
	})
	return err == nil, err
}

// TryUpdateStatus changes only the status of an existing key.
func (m *StatusMap[K, V, S]) TryUpdateStatus(ctx context.Context, key K, s S) (bool, error) {
	updated := false
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := m.find(entries, key)
		if i < 0 {
			return nil
		}
		entries[i].Status = s
		if err := saveIndex(ctx, &m.c, entries); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

// TryGet returns the value and status stored under key.
func (m *StatusMap[K, V, S]) TryGet(ctx context.Context, key K) (statestore.ConditionalValue[ValueStatus[V, S]], error) {
	result := statestore.None[ValueStatus[V, S]]()
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := m.find(entries, key)
		if i < 0 {
			return nil
		}
		item, err := loadItem[V](ctx, &m.c, m.c.itemKey("Item", entries[i].ID))
		if err != nil {
			return err
		}
		if item.HasValue {
			result = statestore.Some(ValueStatus[V, S]{Value: item.Value, Status: entries[i].Status})
		}
		return nil
	})
	return result, err
}

// ValuesWithStatus returns the values whose status equals s, in insertion
// order.
func (m *StatusMap[K, V, S]) ValuesWithStatus(ctx context.Context, s S) ([]V, error) {
	var values []V
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Status != s {
				continue
			}
			item, err := loadItem[V](ctx, &m.c, m.c.itemKey("Item", e.ID))
			if err != nil {
				return err
			}
			if item.HasValue {
				values = append(values, item.Value)
			}
		}
		return nil
	})
	return values, err
}

// KeysWithStatus returns the keys whose status equals s without reading any
// item.
func (m *StatusMap[K, V, S]) KeysWithStatus(ctx context.Context, s S) ([]K, error) {
	entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
	if err != nil {
		return nil, err
	}
	var keys []K
	for _, e := range entries {
		if e.Status == s {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

// TryRemove deletes key and returns the value it held.
func (m *StatusMap[K, V, S]) TryRemove(ctx context.Context, key K) (statestore.ConditionalValue[V], error) {
	result := statestore.None[V]()
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := m.find(entries, key)
		if i < 0 {
			return nil
		}

		itemKey := m.c.itemKey("Item", entries[i].ID)
		if result, err = loadItem[V](ctx, &m.c, itemKey); err != nil {
			return err
		}
		if err := m.c.removeItem(ctx, itemKey); err != nil {
			return err
		}
		return saveIndex(ctx, &m.c, append(entries[:i:i], entries[i+1:]...))
	})
	if err != nil {
		return statestore.None[V](), err
	}
	return result, nil
}

// Len returns the number of keys.
func (m *StatusMap[K, V, S]) Len(ctx context.Context) (int, error) {
	entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Purge removes every item and the index.
func (m *StatusMap[K, V, S]) Purge(ctx context.Context) error {
	return m.c.locked(func() error {
		entries, err := loadIndex[[]statusEntry[K, S]](ctx, &m.c)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := m.c.removeItem(ctx, m.c.itemKey("Item", e.ID)); err != nil {
				return err
			}
		}
		return m.c.removeIndex(ctx)
	})
}
