// Package sqlite provides the SQLite-backed user repository.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// migrations run in order on Open. Each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id               TEXT PRIMARY KEY,
		email            TEXT NOT NULL UNIQUE,
		name             TEXT NOT NULL DEFAULT '',
		role             TEXT NOT NULL,
		email_verified   INTEGER NOT NULL DEFAULT 0,
		password_hash    TEXT NOT NULL DEFAULT '',
		provider         TEXT NOT NULL DEFAULT '',
		provider_subject TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_provider_subject
		ON users (provider, provider_subject) WHERE provider <> ''`,
}

// Open opens the database at path, applies pragmas and migrations.
// Caller must call Close when done.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return db, nil
}
