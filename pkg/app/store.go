package app

import (
	"context"
	"fmt"
	"io"

	"github.com/plaenen/cartflow/pkg/config"
	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/plaenen/cartflow/pkg/statestore/natskv"
	"github.com/plaenen/cartflow/pkg/statestore/pebblestore"
	"github.com/plaenen/cartflow/pkg/statestore/sqlite"
)

func (n *Node) initStore(ctx context.Context) error {
	var (
		store statestore.Store
		err   error
	)
	switch n.cfg.Store {
	case config.StoreMemory:
		store = memory.New()
	case config.StoreSQLite:
		store, err = sqlite.New(ctx, sqlite.WithDSN(n.cfg.SQLiteDSN))
	case config.StorePebble:
		store, err = pebblestore.New(pebblestore.WithDir(n.cfg.PebbleDir))
	case config.StoreNATSKV:
		if n.nc == nil {
			return fmt.Errorf("store %q needs a NATS connection", n.cfg.Store)
		}
		js, jsErr := n.nc.JetStream()
		if jsErr != nil {
			return fmt.Errorf("failed to open JetStream: %w", jsErr)
		}
		store, err = natskv.New(js, natskv.DefaultConfig())
	default:
		return fmt.Errorf("unknown store %q", n.cfg.Store)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", n.cfg.Store, err)
	}

	n.store = store
	if c, ok := store.(io.Closer); ok {
		n.closers = append(n.closers, c.Close)
	}
	return nil
}
