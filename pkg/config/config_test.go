package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plaenen/cartflow/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	config.RegisterFlags(cmd)
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	cmd := newCommand()
	cfg, err := config.Load(config.NewViper(), cmd)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_FlagsAndEnvironment(t *testing.T) {
	t.Setenv("CARTFLOW_RETRY_LIMIT", "7")
	t.Setenv("CARTFLOW_STORE", "pebble")

	cmd := newCommand()
	require.NoError(t, cmd.PersistentFlags().Set(config.KeyRetryDelay, "250ms"))
	require.NoError(t, cmd.PersistentFlags().Set(config.KeyStore, "memory"))

	cfg, err := config.Load(config.NewViper(), cmd)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RetryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, config.StoreMemory, cfg.Store, "flags win over the environment")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: pebble\npebble-dir: /var/lib/cartflow\nretry-limit: 2\n"), 0o600))

	cmd := newCommand()
	require.NoError(t, cmd.PersistentFlags().Set(config.KeyConfigFile, path))
	require.NoError(t, cmd.PersistentFlags().Set(config.KeyRetryLimit, "9"))

	cfg, err := config.Load(config.NewViper(), cmd)
	require.NoError(t, err)
	assert.Equal(t, config.StorePebble, cfg.Store)
	assert.Equal(t, "/var/lib/cartflow", cfg.PebbleDir)
	assert.Equal(t, 9, cfg.RetryLimit)

	require.NoError(t, cmd.PersistentFlags().Set(config.KeyConfigFile, filepath.Join(t.TempDir(), "missing.yaml")))
	_, err = config.Load(config.NewViper(), cmd)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.Store = "redis" }},
		{"natskv without NATS", func(c *config.Config) { c.Store = config.StoreNATSKV; c.EmbeddedNATS = false }},
		{"creds file without keeper", func(c *config.Config) { c.NATSCredsFile = "x.enc" }},
		{"same services", func(c *config.Config) { c.ProcessorService = c.ExecutorService }},
		{"dotted service", func(c *config.Config) { c.ExecutorService = "a.b" }},
		{"negative limit", func(c *config.Config) { c.RetryLimit = -1 }},
		{"zero poll", func(c *config.Config) { c.PollInterval = 0 }},
		{"bad lock", func(c *config.Config) { c.CriticalSection = "none" }},
		{"bad level", func(c *config.Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *config.Config) { c.LogFormat = "xml" }},
		{"user and token", func(c *config.Config) { c.NATSUser, c.NATSPassword, c.NATSToken = "u", "Long-enough-passw0rd!", "t" }},
		{"user without password", func(c *config.Config) { c.NATSUser = "u" }},
		{"weak embedded password", func(c *config.Config) { c.NATSUser, c.NATSPassword = "u", "secret" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}

	assert.NoError(t, config.Default().Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestLoad_SubcommandInheritsRootFlags(t *testing.T) {
	root := newCommand()
	serve := &cobra.Command{Use: "serve"}
	root.AddCommand(serve)
	require.NoError(t, root.PersistentFlags().Set(config.KeyStore, config.StoreMemory))

	cfg, err := config.Load(config.NewViper(), serve)
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, config.Default().ProcedureDSN, cfg.ProcedureDSN)
}
