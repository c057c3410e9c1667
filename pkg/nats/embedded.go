// Package nats runs an in-process NATS server with JetStream, used by the
// single-binary deployment and by tests.
package nats

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/plaenen/cartflow/pkg/password"
)

// EmbeddedServer wraps an embedded NATS server.
type EmbeddedServer struct {
	server       *server.Server
	url          string
	token        string
	user         string
	password     string
	shutdownOnce sync.Once
}

type serverConfig struct {
	host      string
	port      int
	storeDir  string
	jetStream bool
	name      string
	token     string
	user      string
	password  string
	debug     bool
}

// Option configures the embedded server.
type Option func(*serverConfig)

// WithHost sets the listen host. Default 127.0.0.1.
func WithHost(host string) Option {
	return func(c *serverConfig) {
		c.host = host
	}
}

// WithPort sets the client port. -1 picks a random free port.
func WithPort(port int) Option {
	return func(c *serverConfig) {
		c.port = port
	}
}

// WithStoreDir sets the JetStream storage directory. Empty uses a temp dir.
func WithStoreDir(dir string) Option {
	return func(c *serverConfig) {
		c.storeDir = dir
	}
}

// WithJetStream toggles JetStream. Enabled by default.
func WithJetStream(enabled bool) Option {
	return func(c *serverConfig) {
		c.jetStream = enabled
	}
}

// WithServerName sets the server name reported to clients.
func WithServerName(name string) Option {
	return func(c *serverConfig) {
		c.name = name
	}
}

// WithAuthToken requires clients to present token.
func WithAuthToken(token string) Option {
	return func(c *serverConfig) {
		c.token = token
	}
}

// WithUser requires clients to log in as user. The server only keeps a
// bcrypt hash of pass. Cannot be combined with WithAuthToken.
func WithUser(user, pass string) Option {
	return func(c *serverConfig) {
		c.user = user
		c.password = pass
	}
}

// WithDebug enables server debug logging.
func WithDebug(enabled bool) Option {
	return func(c *serverConfig) {
		c.debug = enabled
	}
}

// StartEmbeddedServer starts a server and waits until it accepts clients.
func StartEmbeddedServer(opts ...Option) (*EmbeddedServer, error) {
	cfg := serverConfig{
		host:      "127.0.0.1",
		port:      -1,
		jetStream: true,
		name:      "cartflow-embedded",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.user != "" && cfg.token != "" {
		return nil, fmt.Errorf("token and user authentication are exclusive")
	}
	var users []*server.User
	if cfg.user != "" {
		hashed, err := password.Hash(cfg.password, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid password for %s: %w", cfg.user, err)
		}
		users = append(users, &server.User{Username: cfg.user, Password: hashed})
	}

	s, err := server.NewServer(&server.Options{
		ServerName:    cfg.name,
		Host:          cfg.host,
		Port:          cfg.port,
		JetStream:     cfg.jetStream,
		StoreDir:      cfg.storeDir,
		Authorization: cfg.token,
		Users:         users,
		Debug:         cfg.debug,
		NoSigs:        true,
		MaxPayload:    8 * 1024 * 1024,
		WriteDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded server: %w", err)
	}
	if cfg.debug {
		s.ConfigureLogger()
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		return nil, fmt.Errorf("server not ready")
	}

	return &EmbeddedServer{
		server: s,
		url:      s.ClientURL(),
		token:    cfg.token,
		user:     cfg.user,
		password: cfg.password,
	}, nil
}

// URL returns the client connection URL.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Ready reports whether the server accepts connections within d.
func (e *EmbeddedServer) Ready(d time.Duration) bool {
	return e.server != nil && e.server.ReadyForConnections(d)
}

// Connect opens a client connection to the server.
func (e *EmbeddedServer) Connect(opts ...nats.Option) (*nats.Conn, error) {
	switch {
	case e.token != "":
		opts = append([]nats.Option{nats.Token(e.token)}, opts...)
	case e.user != "":
		opts = append([]nats.Option{nats.UserInfo(e.user, e.password)}, opts...)
	}
	return nats.Connect(e.url, opts...)
}

// Shutdown stops the server. Safe to call more than once.
func (e *EmbeddedServer) Shutdown() {
	e.shutdownOnce.Do(func() {
		if e.server == nil {
			return
		}
		e.server.Shutdown()

		done := make(chan struct{})
		go func() {
			e.server.WaitForShutdown()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
}
