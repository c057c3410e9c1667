package processor

import (
	"context"

	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
)

// LocalClient delivers commands to processors hosted in the same process.
type LocalClient struct {
	host *actor.Host
}

// NewLocalClient returns a Client calling processors on host.
func NewLocalClient(host *actor.Host) *LocalClient {
	return &LocalClient{host: host}
}

// Process implements Client.
func (c *LocalClient) Process(ctx context.Context, addr actor.Address, cmd *command.Command, callback actor.Address) error {
	return actor.Call(ctx, c.host, addr, func(ctx context.Context, p *Processor) error {
		return p.Process(ctx, cmd, callback)
	})
}
