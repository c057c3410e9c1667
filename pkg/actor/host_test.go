package actor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	actx        *actor.Context
	activated   int
	deactivated *atomic.Int32
	inTurn      atomic.Int32
	maxInTurn   atomic.Int32
}

func (c *counter) OnActivate(ctx context.Context) error {
	c.activated++
	return nil
}

func (c *counter) OnDeactivate(ctx context.Context) error {
	if c.deactivated != nil {
		c.deactivated.Add(1)
	}
	return nil
}

func (c *counter) Increment(ctx context.Context) (int, error) {
	n := c.inTurn.Add(1)
	defer c.inTurn.Add(-1)
	for {
		peak := c.maxInTurn.Load()
		if n <= peak || c.maxInTurn.CompareAndSwap(peak, n) {
			break
		}
	}

	v, err := statestore.TryGet[int](ctx, c.actx.State, "count")
	if err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)
	next := v.OrElse(0) + 1
	return next, statestore.Put(ctx, c.actx.State, "count", next)
}

func newCounterHost(t *testing.T, store statestore.Store, opts ...actor.HostOption) (*actor.Host, *atomic.Int32) {
	t.Helper()
	var deactivated atomic.Int32
	h := actor.NewHost(store, opts...)
	h.Register("Counter", func(actx *actor.Context) (any, error) {
		return &counter{actx: actx, deactivated: &deactivated}, nil
	})
	t.Cleanup(func() { _ = h.Close() })
	return h, &deactivated
}

func TestAddress(t *testing.T) {
	addr, err := actor.ParseAddress("ShoppingCart/cart/42")
	require.NoError(t, err)
	assert.Equal(t, actor.NewAddress("ShoppingCart", "cart/42"), addr)
	assert.Equal(t, "ShoppingCart/cart/42", addr.String())

	for _, bad := range []string{"", "nosep", "/id", "svc/"} {
		_, err := actor.ParseAddress(bad)
		assert.ErrorIs(t, err, actor.ErrInvalidAddress, bad)
	}
	assert.True(t, actor.Address{}.IsZero())
}

func TestHost_TurnsAreSerialized(t *testing.T) {
	ctx := context.Background()
	h, _ := newCounterHost(t, memory.New())
	addr := actor.NewAddress("Counter", "c1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := actor.Call(ctx, h, addr, func(ctx context.Context, c *counter) error {
				_, err := c.Increment(ctx)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	err := actor.Call(ctx, h, addr, func(ctx context.Context, c *counter) error {
		assert.Equal(t, int32(1), c.maxInTurn.Load())
		assert.Equal(t, 1, c.activated)
		n, err := statestore.TryGet[int](ctx, c.actx.State, "count")
		require.NoError(t, err)
		assert.Equal(t, 20, n.Value)
		return nil
	})
	require.NoError(t, err)
}

func TestHost_StateIsScopedPerAddress(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h, _ := newCounterHost(t, store)

	for _, id := range []string{"a", "a", "b"} {
		err := actor.Call(ctx, h, actor.NewAddress("Counter", id), func(ctx context.Context, c *counter) error {
			_, err := c.Increment(ctx)
			return err
		})
		require.NoError(t, err)
	}

	a, err := statestore.TryGet[int](ctx, store, "Counter/a/count")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Value)
	b, err := statestore.TryGet[int](ctx, store, "Counter/b/count")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Value)
}

func TestHost_Errors(t *testing.T) {
	ctx := context.Background()
	h, _ := newCounterHost(t, memory.New())

	err := h.Invoke(ctx, actor.NewAddress("Nope", "1"), func(context.Context, any) error { return nil })
	assert.ErrorIs(t, err, actor.ErrUnknownService)

	err = actor.Call(ctx, h, actor.NewAddress("Counter", "1"), func(context.Context, *notACounter) error { return nil })
	assert.ErrorIs(t, err, actor.ErrWrongType)

	boom := errors.New("boom")
	err = h.Invoke(ctx, actor.NewAddress("Counter", "1"), func(context.Context, any) error { return boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, h.Close())
	err = h.Invoke(ctx, actor.NewAddress("Counter", "1"), func(context.Context, any) error { return nil })
	assert.ErrorIs(t, err, actor.ErrHostClosed)
}

type notACounter struct{}

func TestHost_FactoryFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	h := actor.NewHost(memory.New())
	defer h.Close()

	var calls int
	h.Register("Flaky", func(actx *actor.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("not yet")
		}
		return &counter{actx: actx}, nil
	})

	addr := actor.NewAddress("Flaky", "1")
	require.Error(t, h.Invoke(ctx, addr, func(context.Context, any) error { return nil }))
	require.NoError(t, h.Invoke(ctx, addr, func(context.Context, any) error { return nil }))
	assert.Equal(t, 2, calls)
}

func TestHost_Deactivate(t *testing.T) {
	ctx := context.Background()
	h, deactivated := newCounterHost(t, memory.New())
	addr := actor.NewAddress("Counter", "c1")

	require.NoError(t, actor.Call(ctx, h, addr, func(ctx context.Context, c *counter) error {
		_, err := c.Increment(ctx)
		return err
	}))
	assert.Equal(t, 1, h.Active())

	require.NoError(t, h.Deactivate(ctx, addr))
	assert.Equal(t, int32(1), deactivated.Load())
	assert.Equal(t, 0, h.Active())

	require.NoError(t, actor.Call(ctx, h, addr, func(ctx context.Context, c *counter) error {
		assert.Equal(t, 1, c.activated, "fresh instance")
		n, err := c.Increment(ctx)
		assert.Equal(t, 2, n, "state survives deactivation")
		return err
	}))
}

func TestHost_CallTimeout(t *testing.T) {
	h, _ := newCounterHost(t, memory.New(), actor.WithCallTimeout(20*time.Millisecond))
	addr := actor.NewAddress("Counter", "c1")

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = h.Invoke(context.Background(), addr, func(context.Context, any) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := h.Invoke(context.Background(), addr, func(context.Context, any) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestHost_IdleDeactivation(t *testing.T) {
	ctx := context.Background()
	h, deactivated := newCounterHost(t, memory.New(), actor.WithIdleTimeout(20*time.Millisecond))
	require.NoError(t, h.Start(ctx))

	require.NoError(t, h.Invoke(ctx, actor.NewAddress("Counter", "idle"), func(context.Context, any) error { return nil }))

	require.Eventually(t, func() bool {
		return deactivated.Load() == 1 && h.Active() == 0
	}, time.Second, 5*time.Millisecond)
}
