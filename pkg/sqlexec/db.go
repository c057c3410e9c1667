package sqlexec

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/plaenen/cartflow/pkg/migrate"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the commerce database at dsn and applies its migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.ExecContext(ctx, `
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := migrate.Run(ctx, db, "commerce_schema_migrations", migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
