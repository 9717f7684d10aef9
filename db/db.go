// Package db provides database connection helpers and schema migration for the
// tenant settings store and its change feed.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection for the given DSN. Defaulting lives
// in config.Load, which owns DB_DSN.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenant_settings (
			tenant_id TEXT PRIMARY KEY,
			settings JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			encryption_version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`ALTER TABLE tenant_settings ADD COLUMN IF NOT EXISTS encryption_version INTEGER NOT NULL DEFAULT 0`,
		`CREATE TABLE IF NOT EXISTS tenant_settings_changes (
			id BIGSERIAL PRIMARY KEY,
			partition INTEGER NOT NULL,
			tenant_id TEXT NOT NULL,
			change_type TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenant_settings_active ON tenant_settings(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_partition_id ON tenant_settings_changes(partition, id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
