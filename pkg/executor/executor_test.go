package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/executor"
	"github.com/plaenen/cartflow/pkg/processor"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/plaenen/cartflow/pkg/statestore/statestoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	executorService  = "CartExecutor"
	processorService = "CartProcessor"
)

var execAddr = actor.NewAddress(executorService, "ShoppingCarts")

type dispatch struct {
	addr     actor.Address
	cmd      string
	callback actor.Address
}

type clientSpy struct {
	mu    sync.Mutex
	calls []dispatch
	err   error
}

func (c *clientSpy) Process(ctx context.Context, addr actor.Address, cmd *command.Command, callback actor.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, dispatch{addr: addr, cmd: cmd.Name, callback: callback})
	return nil
}

func (c *clientSpy) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, d := range c.calls {
		out = append(out, d.cmd)
	}
	return out
}

func newHost(t *testing.T, client processor.Client, opts ...executor.Option) *actor.Host {
	t.Helper()
	return newHostOn(t, memory.New(), client, opts...)
}

func newHostOn(t *testing.T, store statestore.Store, client processor.Client, opts ...executor.Option) *actor.Host {
	t.Helper()
	h := actor.NewHost(store)
	h.Register(executorService, executor.Factory(processorService, client, opts...))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func call(t *testing.T, h *actor.Host, fn func(ctx context.Context, e *executor.SequentialExecutor) error) {
	t.Helper()
	require.NoError(t, actor.Call(context.Background(), h, execAddr, fn))
}

func wake(t *testing.T, h *actor.Host) {
	t.Helper()
	call(t, h, func(ctx context.Context, e *executor.SequentialExecutor) error {
		return e.ReceiveReminder(ctx, executor.WorkReminder)
	})
}

func status(t *testing.T, h *actor.Host) executor.Status {
	t.Helper()
	st, err := executor.NewLocal(h).Status(context.Background(), execAddr)
	require.NoError(t, err)
	return st
}

func reminderRegistered(t *testing.T, h *actor.Host) bool {
	t.Helper()
	ok, err := h.Reminders().IsRegistered(context.Background(), execAddr, executor.WorkReminder)
	require.NoError(t, err)
	return ok
}

func TestExecutor_NewEntityIsEmpty(t *testing.T) {
	h := newHost(t, &clientSpy{})
	st := status(t, h)
	assert.Equal(t, 0, st.QueueLen)
	assert.Nil(t, st.Current)
}

func TestExecutor_DispatchesInOrderOneAtATime(t *testing.T) {
	ctx := context.Background()
	client := &clientSpy{}
	h := newHost(t, client)
	local := executor.NewLocal(h)

	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, local.Execute(ctx, execAddr, command.New(name, nil)))
	}
	assert.Equal(t, 3, status(t, h).QueueLen)
	assert.True(t, reminderRegistered(t, h))

	for i, want := range []string{"A", "B", "C"} {
		wake(t, h)
		st := status(t, h)
		require.NotNil(t, st.Current)
		assert.Equal(t, want, st.Current.Name)
		assert.Equal(t, 2-i, st.QueueLen)

		// Redundant wake-ups while a command is in flight change nothing.
		wake(t, h)
		wake(t, h)
		assert.Len(t, client.names(), i+1)

		require.NoError(t, local.ProcessingComplete(ctx, execAddr))
		assert.Nil(t, status(t, h).Current)
	}

	wake(t, h)
	assert.Equal(t, []string{"A", "B", "C"}, client.names())
	assert.False(t, reminderRegistered(t, h), "drained queue stops the work reminder")

	for _, d := range client.calls {
		assert.Equal(t, actor.NewAddress(processorService, "ShoppingCarts"), d.addr)
		assert.Equal(t, execAddr, d.callback)
	}
}

func TestExecutor_ProcessingCompleteSchedulesNextWake(t *testing.T) {
	ctx := context.Background()
	h := newHost(t, &clientSpy{})

	call(t, h, func(ctx context.Context, e *executor.SequentialExecutor) error {
		return e.ProcessingComplete(ctx)
	})

	rem, err := h.Reminders().Get(ctx, execAddr, executor.NextReminder)
	require.NoError(t, err)
	require.True(t, rem.HasValue)
	assert.False(t, rem.Value.Periodic())
	assert.WithinDuration(t, time.Now().Add(executor.DefaultWakeInterval), rem.Value.DueAt, time.Second)
}

func TestExecutor_DispatchFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	client := &clientSpy{err: errors.New("processor unreachable")}
	h := newHost(t, client)

	require.NoError(t, executor.NewLocal(h).Execute(ctx, execAddr, command.New("A", nil)))

	err := actor.Call(ctx, h, execAddr, func(ctx context.Context, e *executor.SequentialExecutor) error {
		return e.ReceiveReminder(ctx, executor.WorkReminder)
	})
	assert.ErrorIs(t, err, client.err)

	st := status(t, h)
	assert.Nil(t, st.Current)
	assert.Equal(t, 0, st.QueueLen, "the dequeued command is not put back")
}

func TestExecutor_DispatchDisabled(t *testing.T) {
	ctx := context.Background()
	client := &clientSpy{}
	h := newHost(t, client, executor.WithDispatch(false))

	require.NoError(t, executor.NewLocal(h).Execute(ctx, execAddr, command.New("A", nil)))
	wake(t, h)

	assert.Empty(t, client.names())
	assert.Equal(t, 1, status(t, h).QueueLen)
	assert.False(t, reminderRegistered(t, h))
}

func TestExecutor_Validator(t *testing.T) {
	ctx := context.Background()
	errRejected := errors.New("rejected")
	h := newHost(t, &clientSpy{}, executor.WithValidator(func(ctx context.Context, cmd *command.Command) error {
		if cmd.Name == "bad" {
			return errRejected
		}
		return nil
	}))
	local := executor.NewLocal(h)

	assert.ErrorIs(t, local.Execute(ctx, execAddr, command.New("bad", nil)), errRejected)
	assert.ErrorIs(t, local.Execute(ctx, execAddr, &command.Command{Name: "x"}), command.ErrEmptyID)
	require.NoError(t, local.Execute(ctx, execAddr, command.New("good", nil)))
	assert.Equal(t, 1, status(t, h).QueueLen)
}

func TestExecutor_IgnoresUnknownReminder(t *testing.T) {
	ctx := context.Background()
	client := &clientSpy{}
	h := newHost(t, client)
	require.NoError(t, executor.NewLocal(h).Execute(ctx, execAddr, command.New("A", nil)))

	call(t, h, func(ctx context.Context, e *executor.SequentialExecutor) error {
		return e.ReceiveReminder(ctx, "unrelated")
	})
	assert.Empty(t, client.names())
}

// TestPipeline runs executor, processor and scheduler together on one host.
func TestPipeline(t *testing.T) {
	ctx := context.Background()
	h := actor.NewHost(memory.New())
	defer h.Close()
	local := executor.NewLocal(h)

	var mu sync.Mutex
	var executed []string
	failures := map[string]int{"B": 2}
	exec := processor.ExecutorFunc(func(ctx context.Context, cmd *command.Command) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures[cmd.Name] > 0 {
			failures[cmd.Name]--
			return false, errors.New("transient")
		}
		executed = append(executed, cmd.Name)
		return true, nil
	})

	h.Register(processorService, processor.Factory(exec, local,
		processor.WithRetryDelay(0),
		processor.WithWorkInterval(time.Millisecond)))
	h.Register(executorService, executor.Factory(processorService, processor.NewLocalClient(h),
		executor.WithWakeInterval(time.Millisecond)))

	s := actor.NewScheduler(h, actor.WithPollInterval(time.Millisecond))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	for _, name := range []string{"A", "B", "C", "D"} {
		require.NoError(t, local.Execute(ctx, execAddr, command.New(name, nil)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(executed) == 4
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"A", "B", "C", "D"}, executed)
	mu.Unlock()

	require.Eventually(t, func() bool {
		st := status(t, h)
		return st.QueueLen == 0 && st.Current == nil && !reminderRegistered(t, h)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExecutor_FailedWakeRegistrationIsRetried(t *testing.T) {
	ctx := context.Background()
	store := statestoretest.NewFaultyStore(memory.New(), actor.SystemScope+"/")
	client := &clientSpy{}
	h := newHostOn(t, store, client)
	local := executor.NewLocal(h)

	store.FailNext(1)
	err := local.Execute(ctx, execAddr, command.New("A", nil))
	require.ErrorIs(t, err, statestoretest.ErrInjected)
	assert.False(t, reminderRegistered(t, h))
	assert.Equal(t, 0, status(t, h).QueueLen, "a rejected command is not queued")

	require.NoError(t, local.Execute(ctx, execAddr, command.New("B", nil)))
	assert.True(t, reminderRegistered(t, h))
	assert.Equal(t, 1, status(t, h).QueueLen)

	wake(t, h)
	assert.Equal(t, []string{"B"}, client.names())
}

func TestExecutor_FailedWakeRemovalIsRetried(t *testing.T) {
	ctx := context.Background()
	store := statestoretest.NewFaultyStore(memory.New(), actor.SystemScope+"/")
	h := newHostOn(t, store, &clientSpy{})
	local := executor.NewLocal(h)

	require.NoError(t, local.Execute(ctx, execAddr, command.New("A", nil)))
	wake(t, h)
	require.NoError(t, local.ProcessingComplete(ctx, execAddr))

	// The queue is drained; stopping the work reminder fails once.
	store.FailNext(1)
	err := actor.Call(ctx, h, execAddr, func(ctx context.Context, e *executor.SequentialExecutor) error {
		return e.ReceiveReminder(ctx, executor.WorkReminder)
	})
	require.ErrorIs(t, err, statestoretest.ErrInjected)
	assert.True(t, reminderRegistered(t, h))

	wake(t, h)
	assert.False(t, reminderRegistered(t, h))
}
