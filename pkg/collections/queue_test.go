package collections_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequentialIDs returns an id generator yielding id-1, id-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := collections.NewQueue[string](memory.New(), "CommandQueue")

	for _, v := range []string{"A", "B", "C"} {
		require.NoError(t, q.Enqueue(ctx, v))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []string{"A", "B", "C"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.Some(want), got)
	}

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, got.HasValue)
}

func TestQueue_NewQueueIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := collections.NewQueue[int](store, "fresh")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	head, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, head.HasValue)
	assert.Equal(t, 0, store.Len(), "reads must not create state")
}

func TestQueue_KeyLayout(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := collections.NewQueue[string](store, "CommandQueue", collections.WithIDGenerator(sequentialIDs()))

	require.NoError(t, q.Enqueue(ctx, "A"))

	index, err := statestore.TryGet[[]string](ctx, store, "FineGrainQueueManager.Queue(CommandQueue)")
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1"}, index.Value)

	item, err := statestore.TryGet[string](ctx, store, "FineGrainQueueManager:Item(id-1)")
	require.NoError(t, err)
	assert.Equal(t, statestore.Some("A"), item)

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	ok, err := store.Contains(ctx, "FineGrainQueueManager:Item(id-1)")
	require.NoError(t, err)
	assert.False(t, ok, "dequeue removes the item key")
}

func TestQueue_DequeueSkipsDanglingIDs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := collections.NewQueue[string](store, "q", collections.WithIDGenerator(sequentialIDs()))

	require.NoError(t, q.Enqueue(ctx, "A"))
	require.NoError(t, q.Enqueue(ctx, "B"))
	_, err := store.Remove(ctx, "FineGrainQueueManager:Item(id-1)")
	require.NoError(t, err)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, statestore.Some("B"), got)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	ctx := context.Background()
	q := collections.NewQueue[string](memory.New(), "q")
	require.NoError(t, q.Enqueue(ctx, "A"))

	head, err := q.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", head.Value)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_Purge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	q := collections.NewQueue[string](store, "q")
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, fmt.Sprint(i)))
	}

	require.NoError(t, q.Purge(ctx))
	assert.Equal(t, 0, store.Len())

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	for _, tc := range []struct {
		name string
		cs   collections.CriticalSection
	}{
		{"keyed", collections.NewKeyedLock()},
		{"global", &collections.GlobalLock{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			q := collections.NewQueue[int](store, "q", collections.WithCriticalSection(tc.cs))

			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						assert.NoError(t, q.Enqueue(ctx, w*100+i))
					}
				}(w)
			}
			wg.Wait()

			n, err := q.Len(ctx)
			require.NoError(t, err)
			require.Equal(t, 100, n)
			// 100 items plus the index.
			assert.Equal(t, 101, store.Len())

			seen := make(map[int]bool)
			for i := 0; i < 100; i++ {
				v, err := q.Dequeue(ctx)
				require.NoError(t, err)
				require.True(t, v.HasValue)
				seen[v.Value] = true
			}
			assert.Len(t, seen, 100)
		})
	}
}

func TestQueue_ScopedStoresDoNotShareQueues(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	a := collections.NewQueue[string](statestore.Scoped(backend, "executor/a"), "CommandQueue")
	b := collections.NewQueue[string](statestore.Scoped(backend, "executor/b"), "CommandQueue")

	require.NoError(t, a.Enqueue(ctx, "for-a"))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestByName(t *testing.T) {
	assert.Same(t, collections.Global(), collections.ByName("global"))
	assert.Same(t, collections.Keyed(), collections.ByName("keyed"))
	assert.Same(t, collections.Keyed(), collections.ByName(""))
}
