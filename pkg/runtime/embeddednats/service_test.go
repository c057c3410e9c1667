package embeddednats

import (
	"context"
	"log/slog"
	"testing"

	"github.com/plaenen/cartflow/pkg/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	service := New(
		WithLogger(slog.Default()),
		WithNATSOptions(nats.WithJetStream(false)),
	)
	assert.Equal(t, "embedded-nats", service.Name())
	assert.ErrorIs(t, service.HealthCheck(ctx), ErrNotRunning)
	assert.Empty(t, service.URL())

	require.NoError(t, service.Start(ctx))
	require.NoError(t, service.Start(ctx))
	assert.NotEmpty(t, service.URL())
	require.NotNil(t, service.Server())
	assert.NoError(t, service.HealthCheck(ctx))

	nc, err := service.Server().Connect()
	require.NoError(t, err)
	nc.Close()

	require.NoError(t, service.Stop(ctx))
	assert.Nil(t, service.Server())
	assert.ErrorIs(t, service.HealthCheck(ctx), ErrNotRunning)
}

func TestService_StopWithoutStart(t *testing.T) {
	assert.NoError(t, New().Stop(context.Background()))
}

func TestService_WithAuthToken(t *testing.T) {
	ctx := context.Background()
	service := New(WithNATSOptions(nats.WithJetStream(false), nats.WithAuthToken("s3cret")))
	require.NoError(t, service.Start(ctx))
	defer service.Stop(ctx)

	assert.NoError(t, service.HealthCheck(ctx))
}
