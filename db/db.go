// Package db provides the Postgres connection helper, schema migration and
// the section/key/value accessors backing the SQL credential store.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection using the pgx stdlib driver.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db dsn empty")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings_kv (
			section TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (section, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_kv_section ON settings_kv(section)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// GetSection returns all entries of a section; an unknown section yields an empty map.
func GetSection(ctx context.Context, db *sql.DB, section string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM settings_kv WHERE section=$1`, section)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// UpsertSection writes entries of a section in one transaction.
func UpsertSection(ctx context.Context, db *sql.DB, section string, values map[string]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	q := `INSERT INTO settings_kv(section, key, value, updated_at) VALUES($1,$2,$3,NOW())
		  ON CONFLICT(section, key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, q, section, k, v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s.%s: %w", section, k, err)
		}
	}
	return tx.Commit()
}
