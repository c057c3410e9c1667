// Package sqlexec runs commands as procedure calls against a SQL database.
// SQLite has no stored procedures, so procedures are Go functions that run
// inside a transaction and are looked up by name.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plaenen/cartflow/pkg/command"
)

var (
	// ErrInvalidParameter is returned when a command carries a parameter the
	// procedure does not declare. Such a command can never succeed.
	ErrInvalidParameter = errors.New("invalid procedure parameter")

	// ErrMissingParameter is returned when a procedure reads a parameter the
	// command did not supply.
	ErrMissingParameter = errors.New("missing procedure parameter")

	// ErrUnknownProcedure is returned for command names with no procedure.
	ErrUnknownProcedure = errors.New("unknown procedure")
)

// ProcedureError describes a failed procedure call.
type ProcedureError struct {
	Procedure string
	Param     string
	Err       error
}

func (e *ProcedureError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s: %v", e.Procedure, e.Param, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Procedure, e.Err)
}

func (e *ProcedureError) Unwrap() error {
	return e.Err
}

// Executor runs commands through a Registry. Its Execute method has the
// shape of processor.ExecutorFunc.
type Executor struct {
	db       *sql.DB
	registry *Registry
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor returns an Executor over db.
func NewExecutor(db *sql.DB, registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{db: db, registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs cmd as a procedure call. It reports false without an error
// when the database cannot be reached, so the call is retried later without
// counting as a failure. Commands with undeclared parameters are logged and
// reported done.
func (e *Executor) Execute(ctx context.Context, cmd *command.Command) (bool, error) {
	stmt := cmd.SQLStatement()
	e.logger.DebugContext(ctx, "executing procedure", slog.String("statement", stmt))

	if err := e.db.PingContext(ctx); err != nil {
		e.logger.WarnContext(ctx, "database unavailable",
			slog.String("procedure", cmd.Name),
			slog.String("error", err.Error()))
		return false, nil
	}

	err := e.call(ctx, cmd)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrInvalidParameter):
		e.logger.ErrorContext(ctx, "procedure rejected parameters, command discarded",
			slog.String("statement", stmt),
			slog.String("error", err.Error()))
		return true, nil
	default:
		return false, err
	}
}

func (e *Executor) call(ctx context.Context, cmd *command.Command) error {
	proc, ok := e.registry.Lookup(cmd.Name)
	if !ok {
		return &ProcedureError{Procedure: cmd.Name, Err: ErrUnknownProcedure}
	}
	args, err := proc.bind(cmd.Parameters)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := proc.Run(ctx, tx, args); err != nil {
		return &ProcedureError{Procedure: proc.Name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", proc.Name, err)
	}
	return nil
}
