// Package statestoretest holds behaviour tests every statestore.Store
// backend must pass.
package statestoretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) statestore.Store

// Run executes the shared behaviour tests against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a", []byte("one")))
		require.NoError(t, s.Set(ctx, "a", []byte("two")))

		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "two", string(v))
	})

	t.Run("contains and remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v")))

		ok, err := s.Contains(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)

		removed, err := s.Remove(ctx, "k")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.Remove(ctx, "k")
		require.NoError(t, err)
		assert.False(t, removed)

		ok, err = s.Contains(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Set(ctx, "", []byte("v"))
		assert.ErrorIs(t, err, statestore.ErrInvalidKey)
	})

	t.Run("add or update", func(t *testing.T) {
		s := newStore(t)
		appendX := func(cur []byte) ([]byte, error) { return append(cur, 'x'), nil }

		v, err := s.AddOrUpdate(ctx, "counter", []byte("a"), appendX)
		require.NoError(t, err)
		assert.Equal(t, "a", string(v))

		v, err = s.AddOrUpdate(ctx, "counter", []byte("a"), appendX)
		require.NoError(t, err)
		assert.Equal(t, "ax", string(v))

		stored, _, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "ax", string(stored))
	})

	t.Run("add or update keeps value when merge fails", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "k", []byte("keep")))

		boom := errors.New("boom")
		_, err := s.AddOrUpdate(ctx, "k", nil, func([]byte) ([]byte, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)

		v, _, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "keep", string(v))
	})

	t.Run("concurrent add or update is atomic", func(t *testing.T) {
		s := newStore(t)
		const writers = 8
		const perWriter = 10

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					_, err := statestore.AddOrUpdate(ctx, s, "n", 1, func(cur int) (int, error) {
						return cur + 1, nil
					})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		got, err := statestore.TryGet[int](ctx, s, "n")
		require.NoError(t, err)
		assert.Equal(t, statestore.Some(writers*perWriter), got)
	})

	t.Run("scoped stores are isolated", func(t *testing.T) {
		s := newStore(t)
		a := statestore.Scoped(s, "svc/a")
		b := statestore.Scoped(s, "svc/b")

		require.NoError(t, statestore.Put(ctx, a, "name", "alpha"))

		got, err := statestore.TryGet[string](ctx, b, "name")
		require.NoError(t, err)
		assert.False(t, got.HasValue)

		raw, ok, err := s.Get(ctx, "svc/a/name")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `"alpha"`, string(raw))
	})

	t.Run("many keys", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 50; i++ {
			require.NoError(t, statestore.Put(ctx, s, fmt.Sprintf("item/%03d", i), i))
		}
		for i := 0; i < 50; i++ {
			got, err := statestore.TryGet[int](ctx, s, fmt.Sprintf("item/%03d", i))
			require.NoError(t, err)
			assert.Equal(t, i, got.Value)
		}
	})
}
