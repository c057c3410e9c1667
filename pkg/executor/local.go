package executor

import (
	"context"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
)

// Client submits commands to sequential executors.
type Client interface {
	Execute(ctx context.Context, addr actor.Address, cmd *command.Command) error
	Status(ctx context.Context, addr actor.Address) (Status, error)
}

// Local reaches executors hosted in the same process. It implements Client
// and processor.Callback.
type Local struct {
	host *actor.Host
}

// NewLocal returns a Local for host.
func NewLocal(host *actor.Host) *Local {
	return &Local{host: host}
}

// Execute implements Client.
func (l *Local) Execute(ctx context.Context, addr actor.Address, cmd *command.Command) error {
	return actor.Call(ctx, l.host, addr, func(ctx context.Context, e *SequentialExecutor) error {
		return e.Execute(ctx, cmd)
	})
}

// Status implements Client.
func (l *Local) Status(ctx context.Context, addr actor.Address) (Status, error) {
	var st Status
	err := actor.Call(ctx, l.host, addr, func(ctx context.Context, e *SequentialExecutor) error {
		var err error
		st, err = e.Status(ctx)
		return err
	})
	return st, err
}

// ProcessingComplete implements processor.Callback.
func (l *Local) ProcessingComplete(ctx context.Context, addr actor.Address) error {
	return actor.Call(ctx, l.host, addr, func(ctx context.Context, e *SequentialExecutor) error {
		return e.ProcessingComplete(ctx)
	})
}
