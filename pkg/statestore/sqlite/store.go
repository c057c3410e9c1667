// Package sqlite provides a statestore.Store persisted in a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/cartflow/pkg/migrate"
	"github.com/plaenen/cartflow/pkg/statestore"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps one row per state key in the entity_state table.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

type config struct {
	dsn          string
	maxOpenConns int
	walMode      bool
	autoMigrate  bool
}

func defaultConfig() config {
	return config{
		dsn:          "cartflow-state.db",
		maxOpenConns: 8,
		walMode:      true,
		autoMigrate:  true,
	}
}

// Option configures a Store.
type Option func(*config)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses a private in-memory database.
func WithMemoryDatabase() Option {
	return func(c *config) {
		c.dsn = ":memory:"
		c.walMode = false
	}
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *config) {
		c.maxOpenConns = n
	}
}

// WithWALMode toggles write-ahead logging. Not available for :memory:.
func WithWALMode(enabled bool) Option {
	return func(c *config) {
		c.walMode = enabled
	}
}

// WithAutoMigrate toggles running the embedded migrations on open.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) {
		c.autoMigrate = enabled
	}
}

// New opens (and by default migrates) a SQLite state store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: gets its own database.
	if cfg.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if cfg.walMode {
		if _, err := db.ExecContext(ctx, `
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if cfg.autoMigrate {
		if err := migrate.Run(ctx, db, "state_schema_migrations", migrationsFS, "migrations"); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle, mainly for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, statestore.ErrClosed
	}
	return get(ctx, s.db, key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := statestore.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return statestore.ErrClosed
	}
	return put(ctx, s.db, key, value)
}

func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, statestore.ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM entity_state WHERE state_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed to remove state %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to remove state %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, statestore.ErrClosed
	}

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entity_state WHERE state_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check state %q: %w", key, err)
	}
	return true, nil
}

// AddOrUpdate runs the read-merge-write cycle inside one transaction.
func (s *Store) AddOrUpdate(ctx context.Context, key string, add []byte, update statestore.UpdateFunc) ([]byte, error) {
	if err := statestore.ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, statestore.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, ok, err := get(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	next := add
	if ok {
		if next, err = update(current); err != nil {
			return nil, err
		}
	}

	if err := put(ctx, tx, key, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit state %q: %w", key, err)
	}
	return statestore.Clone(next), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func get(ctx context.Context, q querier, key string) ([]byte, bool, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM entity_state WHERE state_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state %q: %w", key, err)
	}
	return value, true, nil
}

func put(ctx context.Context, q querier, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO entity_state (state_key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save state %q: %w", key, err)
	}
	return nil
}

var _ statestore.Store = (*Store)(nil)
