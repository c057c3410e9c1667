package memory_test

import (
	"context"
	"testing"

	"github.com/plaenen/cartflow/pkg/statestore"
	"github.com/plaenen/cartflow/pkg/statestore/memory"
	"github.com/plaenen/cartflow/pkg/statestore/statestoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Conformance(t *testing.T) {
	statestoretest.Run(t, func(t *testing.T) statestore.Store {
		return memory.New()
	})
}

func TestStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[0] = 'z'

	got, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestStore_Close(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, statestore.ErrClosed)
}
