package actor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alarm struct {
	actx   *actor.Context
	mu     sync.Mutex
	fired  map[string]int
	active atomic.Int32
	peak   atomic.Int32
	hold   time.Duration
	onFire func(ctx context.Context, actx *actor.Context, name string) error
}

func (a *alarm) ReceiveReminder(ctx context.Context, name string) error {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	if n > a.peak.Load() {
		a.peak.Store(n)
	}
	time.Sleep(a.hold)

	a.mu.Lock()
	a.fired[name]++
	a.mu.Unlock()
	if a.onFire != nil {
		return a.onFire(ctx, a.actx, name)
	}
	return nil
}

func (a *alarm) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fired[name]
}

func newAlarmHost(t *testing.T, a *alarm) (*actor.Host, *actor.Scheduler) {
	t.Helper()
	a.fired = make(map[string]int)
	h := actor.NewHost(memory.New())
	h.Register("Alarm", func(actx *actor.Context) (any, error) {
		a.actx = actx
		return a, nil
	})
	s := actor.NewScheduler(h, actor.WithPollInterval(2*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		_ = h.Close()
	})
	return h, s
}

func TestReminders_RegisterReplaceUnregister(t *testing.T) {
	ctx := context.Background()
	r := actor.NewReminders(memory.New())
	addr := actor.NewAddress("Alarm", "1")

	require.NoError(t, r.Register(ctx, addr, "tick", time.Hour, time.Minute))
	require.NoError(t, r.Register(ctx, addr, "tick", time.Hour, 2*time.Minute))

	n, err := r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.Get(ctx, addr, "tick")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, got.Value.Period)

	due, err := r.Due(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = r.Due(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	removed, err := r.Unregister(ctx, addr, "tick")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = r.Unregister(ctx, addr, "tick")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestReminders_SurviveNewRegistry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	addr := actor.NewAddress("Alarm", "1")

	require.NoError(t, actor.NewReminders(store).Register(ctx, addr, "tick", 0, time.Second))

	ok, err := actor.NewReminders(store).IsRegistered(ctx, addr, "tick")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_OneShotFiresOnce(t *testing.T) {
	ctx := context.Background()
	a := &alarm{}
	h, _ := newAlarmHost(t, a)
	addr := actor.NewAddress("Alarm", "1")

	require.NoError(t, h.Reminders().Register(ctx, addr, "once", 5*time.Millisecond, 0))

	require.Eventually(t, func() bool {
		ok, err := h.Reminders().IsRegistered(ctx, addr, "once")
		return err == nil && !ok
	}, time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, a.count("once"))
}

func TestScheduler_PeriodicFiresUntilUnregistered(t *testing.T) {
	ctx := context.Background()
	a := &alarm{}
	h, _ := newAlarmHost(t, a)
	addr := actor.NewAddress("Alarm", "1")

	require.NoError(t, h.Reminders().Register(ctx, addr, "tick", 0, 5*time.Millisecond))
	require.Eventually(t, func() bool { return a.count("tick") >= 3 }, time.Second, 2*time.Millisecond)

	_, err := h.Reminders().Unregister(ctx, addr, "tick")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	settled := a.count("tick")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, a.count("tick"))
}

func TestScheduler_NeverFiresSameReminderConcurrently(t *testing.T) {
	ctx := context.Background()
	a := &alarm{hold: 15 * time.Millisecond}
	h, _ := newAlarmHost(t, a)

	require.NoError(t, h.Reminders().Register(ctx, actor.NewAddress("Alarm", "1"), "slow", 0, time.Millisecond))
	require.Eventually(t, func() bool { return a.count("slow") >= 3 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(1), a.peak.Load())
}

func TestScheduler_OneShotReRegisteredDuringFireIsKept(t *testing.T) {
	ctx := context.Background()
	a := &alarm{}
	a.onFire = func(ctx context.Context, actx *actor.Context, name string) error {
		if name == "again" && a.count("again") == 1 {
			return actx.RegisterReminder(ctx, "again", time.Millisecond, 0)
		}
		return nil
	}
	h, _ := newAlarmHost(t, a)

	require.NoError(t, h.Reminders().Register(ctx, actor.NewAddress("Alarm", "1"), "again", 0, 0))
	require.Eventually(t, func() bool { return a.count("again") == 2 }, time.Second, 2*time.Millisecond)
}

func TestContext_ReminderSafeHelpers(t *testing.T) {
	ctx := context.Background()
	a := &alarm{}
	h, _ := newAlarmHost(t, a)
	addr := actor.NewAddress("Alarm", "1")

	var firstDue time.Time
	err := h.Invoke(ctx, addr, func(ctx context.Context, _ any) error {
		require.NoError(t, a.actx.ActivateReminderSafe(ctx, "work", time.Hour, time.Hour))
		rem, err := h.Reminders().Get(ctx, addr, "work")
		require.NoError(t, err)
		firstDue = rem.Value.DueAt

		// A second activation keeps the original schedule.
		require.NoError(t, a.actx.ActivateReminderSafe(ctx, "work", time.Minute, time.Minute))
		rem, err = h.Reminders().Get(ctx, addr, "work")
		require.NoError(t, err)
		assert.True(t, firstDue.Equal(rem.Value.DueAt))

		active, err := a.actx.IsReminderActive(ctx, "work")
		require.NoError(t, err)
		assert.True(t, active)

		require.NoError(t, a.actx.DeactivateReminderSafe(ctx, "work"))
		require.NoError(t, a.actx.DeactivateReminderSafe(ctx, "work"))
		active, err = a.actx.IsReminderActive(ctx, "work")
		require.NoError(t, err)
		assert.False(t, active)
		return nil
	})
	require.NoError(t, err)

	ok, err := h.Reminders().IsRegistered(ctx, addr, "work")
	require.NoError(t, err)
	assert.False(t, ok)
}
