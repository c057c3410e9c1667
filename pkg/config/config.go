// Package config holds the settings of a cartflow node. Values come from
// command line flags, CARTFLOW_* environment variables (also read from .env
// files) and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/plaenen/cartflow/pkg/password"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CARTFLOW_STORE.
const EnvPrefix = "cartflow"

// ErrInvalidConfig is matched by every Validate error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StorePebble = "pebble"
	StoreNATSKV = "natskv"
)

// Flag keys.
const (
	KeyConfigFile       = "config"
	KeyStore            = "store"
	KeySQLiteDSN        = "sqlite-dsn"
	KeyPebbleDir        = "pebble-dir"
	KeyNATSURL          = "nats-url"
	KeyEmbeddedNATS     = "embedded-nats"
	KeyNATSPort         = "nats-port"
	KeyNATSStoreDir     = "nats-store-dir"
	KeyNATSToken        = "nats-token"
	KeyNATSUser         = "nats-user"
	KeyNATSPassword     = "nats-password"
	KeyNATSCredsURL     = "nats-creds-url"
	KeyNATSCredsFile    = "nats-creds-file"
	KeyProcedureDSN     = "procedure-dsn"
	KeyExecutorService  = "executor-service"
	KeyProcessorService = "processor-service"
	KeyRetryLimit       = "retry-limit"
	KeyRetryDelay       = "retry-delay"
	KeyPollInterval     = "poll-interval"
	KeyWakeInterval     = "wake-interval"
	KeyCriticalSection  = "critical-section"
	KeyTraceDSN         = "trace-dsn"
	KeyLogLevel         = "log-level"
	KeyLogFormat        = "log-format"
)

// Config is the full node configuration.
type Config struct {
	Store     string
	SQLiteDSN string
	PebbleDir string

	// NATSURL selects a remote server. Empty with EmbeddedNATS false runs
	// the node without NATS.
	NATSURL       string
	EmbeddedNATS  bool
	// NATSPort is the client port of the embedded server, -1 for a random
	// one.
	NATSPort      int
	NATSStoreDir  string
	NATSToken     string
	NATSUser      string
	NATSPassword  string
	NATSCredsURL  string
	// NATSCredsFile holds credentials encrypted with the keeper at
	// NATSCredsURL.
	NATSCredsFile string

	ProcedureDSN     string
	ExecutorService  string
	ProcessorService string

	RetryLimit      int
	RetryDelay      time.Duration
	PollInterval    time.Duration
	WakeInterval    time.Duration
	CriticalSection string

	// TraceDSN names a SQLite database that receives finished spans. Empty
	// disables tracing.
	TraceDSN  string
	LogLevel  string
	LogFormat string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Store:            StoreSQLite,
		SQLiteDSN:        "cartflow-state.db",
		PebbleDir:        "cartflow-state",
		EmbeddedNATS:     true,
		NATSPort:         4222,
		ProcedureDSN:     "cartflow-commerce.db",
		ExecutorService:  "CommerceExecutor",
		ProcessorService: "CommerceProcessor",
		RetryLimit:       5,
		RetryDelay:       time.Second,
		PollInterval:     10 * time.Millisecond,
		WakeInterval:     10 * time.Millisecond,
		CriticalSection:  "keyed",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// RegisterFlags adds every setting as a persistent flag of cmd.
func RegisterFlags(cmd *cobra.Command) {
	d := Default()
	f := cmd.PersistentFlags()
	f.String(KeyConfigFile, "", "configuration file (yaml, json or toml) with the same keys as the flags")
	f.String(KeyStore, d.Store, "state store backend (memory, sqlite, pebble, natskv)")
	f.String(KeySQLiteDSN, d.SQLiteDSN, "state database file for the sqlite store")
	f.String(KeyPebbleDir, d.PebbleDir, "data directory for the pebble store")
	f.String(KeyNATSURL, d.NATSURL, "NATS server URL; empty uses the embedded server when enabled")
	f.Bool(KeyEmbeddedNATS, d.EmbeddedNATS, "run an embedded NATS server")
	f.Int(KeyNATSPort, d.NATSPort, "client port of the embedded NATS server (-1 picks a free port)")
	f.String(KeyNATSStoreDir, d.NATSStoreDir, "JetStream directory of the embedded server")
	f.String(KeyNATSToken, d.NATSToken, "NATS auth token")
	f.String(KeyNATSUser, d.NATSUser, "NATS user; the embedded server requires it when set")
	f.String(KeyNATSPassword, d.NATSPassword, "NATS password of --nats-user")
	f.String(KeyNATSCredsURL, d.NATSCredsURL, "secrets keeper URL used to decrypt the credentials file (e.g. base64key://...)")
	f.String(KeyNATSCredsFile, d.NATSCredsFile, "encrypted NATS credentials file")
	f.String(KeyProcedureDSN, d.ProcedureDSN, "commerce database the procedures write to")
	f.String(KeyExecutorService, d.ExecutorService, "service name of the sequential executors")
	f.String(KeyProcessorService, d.ProcessorService, "service name of the processors")
	f.Int(KeyRetryLimit, d.RetryLimit, "failed executions tolerated before a command is dropped")
	f.Duration(KeyRetryDelay, d.RetryDelay, "pause after a failed or deferred execution")
	f.Duration(KeyPollInterval, d.PollInterval, "reminder scheduler poll interval")
	f.Duration(KeyWakeInterval, d.WakeInterval, "executor and processor work reminder interval")
	f.String(KeyCriticalSection, d.CriticalSection, "collection locking (keyed, global)")
	f.String(KeyTraceDSN, d.TraceDSN, "SQLite database for finished spans; empty disables tracing")
	f.String(KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	f.String(KeyLogFormat, d.LogFormat, "log format (text, json)")
}

// NewViper loads .env files and returns a viper instance reading
// CARTFLOW_* variables, with dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load binds the flags of cmd, including persistent flags it declares or
// inherits, to v and reads the configuration. It works before cobra has
// merged the flag sets, so it can run from a PersistentPreRunE or a test.
func Load(v *viper.Viper, cmd *cobra.Command) (Config, error) {
	for _, fs := range []*pflag.FlagSet{cmd.InheritedFlags(), cmd.PersistentFlags(), cmd.LocalFlags()} {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, err
		}
	}
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	cfg := Config{
		Store:            v.GetString(KeyStore),
		SQLiteDSN:        v.GetString(KeySQLiteDSN),
		PebbleDir:        v.GetString(KeyPebbleDir),
		NATSURL:          v.GetString(KeyNATSURL),
		EmbeddedNATS:     v.GetBool(KeyEmbeddedNATS),
		NATSPort:         v.GetInt(KeyNATSPort),
		NATSStoreDir:     v.GetString(KeyNATSStoreDir),
		NATSToken:        v.GetString(KeyNATSToken),
		NATSUser:         v.GetString(KeyNATSUser),
		NATSPassword:     v.GetString(KeyNATSPassword),
		NATSCredsURL:     v.GetString(KeyNATSCredsURL),
		NATSCredsFile:    v.GetString(KeyNATSCredsFile),
		ProcedureDSN:     v.GetString(KeyProcedureDSN),
		ExecutorService:  v.GetString(KeyExecutorService),
		ProcessorService: v.GetString(KeyProcessorService),
		RetryLimit:       v.GetInt(KeyRetryLimit),
		RetryDelay:       v.GetDuration(KeyRetryDelay),
		PollInterval:     v.GetDuration(KeyPollInterval),
		WakeInterval:     v.GetDuration(KeyWakeInterval),
		CriticalSection:  v.GetString(KeyCriticalSection),
		TraceDSN:         v.GetString(KeyTraceDSN),
		LogLevel:         v.GetString(KeyLogLevel),
		LogFormat:        v.GetString(KeyLogFormat),
	}
	return cfg, cfg.Validate()
}

// UsesNATS reports whether the node connects to a NATS server.
func (c Config) UsesNATS() bool {
	return c.EmbeddedNATS || c.NATSURL != ""
}

// Validate checks that the settings are usable together.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreSQLite, StorePebble:
	case StoreNATSKV:
		if !c.UsesNATS() {
			errs = append(errs, fmt.Errorf("store %q needs NATS", c.Store))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Store == StoreSQLite && c.SQLiteDSN == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeySQLiteDSN))
	}
	if c.Store == StorePebble && c.PebbleDir == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyPebbleDir))
	}
	if c.NATSUser != "" && c.NATSToken != "" {
		errs = append(errs, fmt.Errorf("%s and %s are exclusive", KeyNATSUser, KeyNATSToken))
	}
	if (c.NATSUser == "") != (c.NATSPassword == "") {
		errs = append(errs, fmt.Errorf("%s and %s go together", KeyNATSUser, KeyNATSPassword))
	} else if c.NATSUser != "" && c.EmbeddedNATS && c.NATSURL == "" {
		if err := password.Validate(c.NATSPassword); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyNATSPassword, err))
		}
	}
	if (c.NATSCredsURL == "") != (c.NATSCredsFile == "") {
		errs = append(errs, fmt.Errorf("%s and %s go together", KeyNATSCredsURL, KeyNATSCredsFile))
	}
	if c.ProcedureDSN == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyProcedureDSN))
	}
	if c.ExecutorService == "" || c.ProcessorService == "" || c.ExecutorService == c.ProcessorService {
		errs = append(errs, fmt.Errorf("executor and processor services must be set and differ"))
	}
	if strings.ContainsAny(c.ExecutorService+c.ProcessorService, "/.*> ") {
		errs = append(errs, fmt.Errorf("service names may not contain '/', '.', '*', '>' or spaces"))
	}
	if c.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRetryLimit))
	}
	if c.RetryDelay < 0 || c.PollInterval <= 0 || c.WakeInterval <= 0 {
		errs = append(errs, fmt.Errorf("durations must be positive"))
	}
	if c.CriticalSection != "keyed" && c.CriticalSection != "global" {
		errs = append(errs, fmt.Errorf("unknown critical section %q", c.CriticalSection))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// NewLogger returns the structured logger described by the log settings.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
