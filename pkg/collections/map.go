package collections

import (
	"context"
	"fmt"

	"github.com/plaenen/cartflow/pkg/statestore"
)

// Pair holds the two values stored under one Map key.
type Pair[V1, V2 any] struct {
	Value1 V1
	Value2 V2
}

// Map is a durable mapping from K to two independently updatable values.
// Each value has its own item key under a shared id.
type Map[K comparable, V1, V2 any] struct {
	c collection
}

// NewMap returns a handle on the map called name inside store.
func NewMap[K comparable, V1, V2 any](store statestore.Store, name string, opts ...Option) *Map[K, V1, V2] {
	const owner = "FineGrainMapManager"
	return &Map[K, V1, V2]{c: newCollection(store, owner, fmt.Sprintf("%s::Map(%s)", owner, name), opts)}
}

func (m *Map[K, V1, V2]) keys(id string) (string, string) {
	return m.c.itemKey("Item1", id), m.c.itemKey("Item2", id)
}

// TryAdd stores both values under key unless key is already present.
func (m *Map[K, V1, V2]) TryAdd(ctx context.Context, key K, v1 V1, v2 V2) (bool, error) {
	added := false
	err := m.c.locked(func() error {
		var err error
		added, err = m.add(ctx, key, v1, v2)
		return err
	})
	return added, err
}

func (m *Map[K, V1, V2]) add(ctx context.Context, key K, v1 V1, v2 V2) (bool, error) {
	entries, err := loadIndex[[]entry[K]](ctx, &m.c)
	if err != nil {
		return false, err
	}
	if findEntry(entries, key) >= 0 {
		return false, nil
	}

	id := m.c.newID()
	k1, k2 := m.keys(id)
	if err := saveItem(ctx, &m.c, k1, v1); err != nil {
		return false, err
	}
	if err := saveItem(ctx, &m.c, k2, v2); err != nil {
		return false, err
	}
	return true, saveIndex(ctx, &m.c, append(entries, entry[K]{Key: key, ID: id}))
}

// TryAddOrUpdate overwrites both values of an existing key or adds it.
func (m *Map[K, V1, V2]) TryAddOrUpdate(ctx context.Context, key K, v1 V1, v2 V2) (bool, error) {
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := findEntry(entries, key)
		if i < 0 {
			_, err = m.add(ctx, key, v1, v2)
			return err
		}
		k1, k2 := m.keys(entries[i].ID)
		if err := saveItem(ctx, &m.c, k1, v1); err != nil {
			return err
		}
		return saveItem(ctx, &m.c, k2, v2)
	})
	return err == nil, err
}

// TryUpdateValue1 replaces the first value of an existing key.
func (m *Map[K, V1, V2]) TryUpdateValue1(ctx context.Context, key K, v1 V1) (bool, error) {
	return m.update(ctx, key, func(id string) error {
		k1, _ := m.keys(id)
		return saveItem(ctx, &m.c, k1, v1)
	})
}

// TryUpdateValue2 replaces the second value of an existing key.
func (m *Map[K, V1, V2]) TryUpdateValue2(ctx context.Context, key K, v2 V2) (bool, error) {
	return m.update(ctx, key, func(id string) error {
		_, k2 := m.keys(id)
		return saveItem(ctx, &m.c, k2, v2)
	})
}

func (m *Map[K, V1, V2]) update(ctx context.Context, key K, write func(id string) error) (bool, error) {
	updated := false
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := findEntry(entries, key)
		if i < 0 {
			return nil
		}
		if err := write(entries[i].ID); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

func (m *Map[K, V1, V2]) loadPair(ctx context.Context, id string) (statestore.ConditionalValue[Pair[V1, V2]], error) {
	k1, k2 := m.keys(id)
	v1, err := loadItem[V1](ctx, &m.c, k1)
	if err != nil {
		return statestore.None[Pair[V1, V2]](), err
	}
	v2, err := loadItem[V2](ctx, &m.c, k2)
	if err != nil {
		return statestore.None[Pair[V1, V2]](), err
	}
	if !v1.HasValue && !v2.HasValue {
		return statestore.None[Pair[V1, V2]](), nil
	}
	return statestore.Some(Pair[V1, V2]{Value1: v1.Value, Value2: v2.Value}), nil
}

// TryGet returns both values stored under key.
func (m *Map[K, V1, V2]) TryGet(ctx context.Context, key K) (statestore.ConditionalValue[Pair[V1, V2]], error) {
	result := statestore.None[Pair[V1, V2]]()
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := findEntry(entries, key)
		if i < 0 {
			return nil
		}
		result, err = m.loadPair(ctx, entries[i].ID)
		return err
	})
	return result, err
}

// TryRemove deletes key and returns the values it held.
func (m *Map[K, V1, V2]) TryRemove(ctx context.Context, key K) (statestore.ConditionalValue[Pair[V1, V2]], error) {
	result := statestore.None[Pair[V1, V2]]()
	err := m.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &m.c)
		if err != nil {
			return err
		}
		i := findEntry(entries, key)
		if i < 0 {
			return nil
		}

		id := entries[i].ID
		if result, err = m.loadPair(ctx, id); err != nil {
			return err
		}
		k1, k2 := m.keys(id)
		if err := m.c.removeItem(ctx, k1); err != nil {
			return err
		}
		if err := m.c.removeItem(ctx, k2); err != nil {
			return err
		}
		return saveIndex(ctx, &m.c, append(entries[:i:i], entries[i+1:]...))
	})
	if err != nil {
		return statestore.None[Pair[V1, V2]](), err
	}
	return result, nil
}

// Len returns the number of keys.
func (m *Map[K, V1, V2]) Len(ctx context.Context) (int, error) {
	entries, err := loadIndex[[]entry[K]](ctx, &m.c)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Purge removes every item and the index.
func (m *Map[K, V1, V2]) Purge(ctx context.Context) error {
	return m.c.locked(func() error {
		entries, err := loadIndex[[]entry[K]](ctx, &m.c)
		if err != nil {
			return err
		}
		for _, e := range entries {
			k1, k2 := m.keys(e.ID)
			if err := m.c.removeItem(ctx, k1); err != nil {
				return err
			}
			if err := m.c.removeItem(ctx, k2); err != nil {
				return err
			}
		}
		return m.c.removeIndex(ctx)
	})
}
