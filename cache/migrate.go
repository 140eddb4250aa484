package cache

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrateUp applies every up migration in lexical order. Statements are
// idempotent, so re-running on an already current database is a no-op.
func MigrateUp(db *sql.DB) error {
	return applyMigrations(db, ".up.sql")
}

// MigrateDown reverses the schema, newest migration first.
func MigrateDown(db *sql.DB) error {
	entries, err := fs.Glob(migrationFiles, "migrations/*.down.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))
	return execMigrations(db, entries)
}

func applyMigrations(db *sql.DB, suffix string) error {
	entries, err := fs.Glob(migrationFiles, "migrations/*"+suffix)
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(entries)
	return execMigrations(db, entries)
}

func execMigrations(db *sql.DB, entries []string) error {
	for _, name := range entries {
		sqlBytes, readErr := migrationFiles.ReadFile(name)
		if readErr != nil {
			return fmt.Errorf("read migration %s: %w", name, readErr)
		}
		if _, execErr := db.Exec(string(sqlBytes)); execErr != nil {
			return fmt.Errorf("apply migration %s: %w", name, execErr)
		}
	}
	return nil
}
