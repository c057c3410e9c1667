package collections_test

import (
	"context"
	"testing"

	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type product struct {
	Description string
	Quantity    int
}

func TestDictionary_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d := collections.NewDictionary[string, product](memory.New(), "products")

	added, err := d.TryAdd(ctx, "p1", product{"Keyboard", 1})
	require.NoError(t, err)
	assert.True(t, added)

	got, err := d.TryGet(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, statestore.Some(product{"Keyboard", 1}), got)

	removed, err := d.TryRemove(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, statestore.Some(product{"Keyboard", 1}), removed)

	got, err = d.TryGet(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.HasValue)
}

func TestDictionary_TryAddRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	d := collections.NewDictionary[int, string](memory.New(), "d")

	_, err := d.TryAdd(ctx, 7, "first")
	require.NoError(t, err)

	added, err := d.TryAdd(ctx, 7, "second")
	require.NoError(t, err)
	assert.False(t, added)

	got, err := d.TryGet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Value)
}

func TestDictionary_TryAddOrUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("absent key behaves like TryAdd", func(t *testing.T) {
		viaAdd := memory.New()
		viaUpsert := memory.New()

		_, err := collections.NewDictionary[string, int](viaAdd, "d", collections.WithIDGenerator(sequentialIDs())).
			TryAdd(ctx, "k", 1)
		require.NoError(t, err)
		ok, err := collections.NewDictionary[string, int](viaUpsert, "d", collections.WithIDGenerator(sequentialIDs())).
			TryAddOrUpdate(ctx, "k", 1)
		require.NoError(t, err)
		assert.True(t, ok)

		for _, key := range []string{"FineGrainDictionaryManager::Dictionary(d)", "FineGrainDictionaryManager:Item(id-1)"} {
			a, _, err := viaAdd.Get(ctx, key)
			require.NoError(t, err)
			b, _, err := viaUpsert.Get(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, string(a), string(b), key)
		}
	})

	t.Run("present key keeps its item id", func(t *testing.T) {
		store := memory.New()
		d := collections.NewDictionary[string, int](store, "d", collections.WithIDGenerator(sequentialIDs()))

		_, err := d.TryAdd(ctx, "k", 1)
		require.NoError(t, err)
		_, err = d.TryAddOrUpdate(ctx, "k", 2)
		require.NoError(t, err)

		item, err := statestore.TryGet[int](ctx, store, "FineGrainDictionaryManager:Item(id-1)")
		require.NoError(t, err)
		assert.Equal(t, statestore.Some(2), item)

		ok, err := store.Contains(ctx, "FineGrainDictionaryManager:Item(id-2)")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := d.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestDictionary_RemoveAbsent(t *testing.T) {
	ctx := context.Background()
	d := collections.NewDictionary[string, int](memory.New(), "d")

	got, err := d.TryRemove(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, got.HasValue)
}

func TestDictionary_KeysAndPurge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := collections.NewDictionary[string, int](store, "d")

	for i, k := range []string{"b", "a", "c"} {
		_, err := d.TryAdd(ctx, k, i)
		require.NoError(t, err)
	}
	_, err := d.TryRemove(ctx, "a")
	require.NoError(t, err)

	keys, err := d.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)

	require.NoError(t, d.Purge(ctx))
	assert.Equal(t, 0, store.Len())
}

func TestMap_Values(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := collections.NewMap[string, string, int](store, "cart", collections.WithIDGenerator(sequentialIDs()))

	added, err := m.TryAdd(ctx, "p1", "Mouse", 2)
	require.NoError(t, err)
	require.True(t, added)

	ok, err := m.TryUpdateValue2(ctx, "p1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryUpdateValue1(ctx, "missing", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.TryGet(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, statestore.Some(collections.Pair[string, int]{Value1: "Mouse", Value2: 5}), got)

	v1, err := statestore.TryGet[string](ctx, store, "FineGrainMapManager:Item1(id-1)")
	require.NoError(t, err)
	assert.Equal(t, "Mouse", v1.Value)

	_, err = m.TryAddOrUpdate(ctx, "p1", "Trackball", 1)
	require.NoError(t, err)
	got, err = m.TryGet(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Trackball", got.Value.Value1)

	removed, err := m.TryRemove(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, removed.HasValue)

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, store.Len(), "only the empty index remains")

	require.NoError(t, m.Purge(ctx))
	assert.Equal(t, 0, store.Len())
}

type orderStatus string

const (
	statusPending orderStatus = "pending"
	statusShipped orderStatus = "shipped"
)

func TestStatusMap(t *testing.T) {
	ctx := context.Background()
	m := collections.NewStatusMap[string, int, orderStatus](memory.New(), "orders")

	for i, k := range []string{"o1", "o2", "o3"} {
		added, err := m.TryAdd(ctx, k, (i+1)*10, statusPending)
		require.NoError(t, err)
		require.True(t, added)
	}

	ok, err := m.TryUpdateStatus(ctx, "o2", statusShipped)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryUpdateStatus(ctx, "missing", statusShipped)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := m.ValuesWithStatus(ctx, statusPending)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 30}, pending)

	shippedKeys, err := m.KeysWithStatus(ctx, statusShipped)
	require.NoError(t, err)
	assert.Equal(t, []string{"o2"}, shippedKeys)

	got, err := m.TryGet(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, statestore.Some(collections.ValueStatus[int, orderStatus]{Value: 20, Status: statusShipped}), got)

	_, err = m.TryAddOrUpdate(ctx, "o1", 11, statusShipped)
	require.NoError(t, err)
	shipped, err := m.ValuesWithStatus(ctx, statusShipped)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{11, 20}, shipped)

	removed, err := m.TryRemove(ctx, "o3")
	require.NoError(t, err)
	assert.Equal(t, statestore.Some(30), removed)

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, m.Purge(ctx))
	n, err = m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDictionary_Range(t *testing.T) {
	ctx := context.Background()
	d := collections.NewDictionary[string, int](memory.New(), "d")
	for i, k := range []string{"x", "y", "z"} {
		_, err := d.TryAdd(ctx, k, i)
		require.NoError(t, err)
	}

	var seen []string
	require.NoError(t, d.Range(ctx, func(k string, v int) bool {
		seen = append(seen, k)
		return k != "y"
	}))
	assert.Equal(t, []string{"x", "y"}, seen)
}
