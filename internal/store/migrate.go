package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ApplyMigrations runs every pending NNNN_name.up.sql in order, one transaction per file.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		return err
	}

	for _, file := range files {
		version := filepath.Base(file)
		if migrated, err := isMigrated(ctx, db, version); err != nil {
			return err
		} else if migrated {
			continue
		}
		if err := runMigration(ctx, db, file, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
			return err
		}
	}
	return nil
}

// RollbackMigrations reverts the newest steps applied migrations using their .down.sql pair.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	var applied []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, version)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	for _, version := range applied {
		down := filepath.Join(migrationsDir, strings.TrimSuffix(version, ".up.sql")+".down.sql")
		if err := runMigration(ctx, db, down, `DELETE FROM schema_migrations WHERE version=$1`, version); err != nil {
			return err
		}
	}
	return nil
}

// PendingMigrations lists up files not yet recorded in schema_migrations.
func PendingMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	pending := make([]string, 0)
	for _, file := range files {
		version := filepath.Base(file)
		migrated, err := isMigrated(ctx, db, version)
		if err != nil {
			return nil, err
		}
		if !migrated {
			pending = append(pending, version)
		}
	}
	return pending, nil
}

func migrationFiles(migrationsDir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); strings.HasSuffix(name, suffix) {
			files = append(files, filepath.Join(migrationsDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func runMigration(ctx context.Context, db *sql.DB, file, record, version string) error {
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(file), err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", filepath.Base(file), err)
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
