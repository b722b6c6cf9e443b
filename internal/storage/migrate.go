package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies embedded migrations in the given direction ("up" or
// "down"). steps limits how many run; 0 runs all pending.
func (s *Store) Migrate(ctx context.Context, direction string, steps int) (int, error) {
	suffix := ".up.sql"
	if direction == "down" {
		suffix = ".down.sql"
	} else if direction != "up" {
		return 0, fmt.Errorf("invalid direction %q", direction)
	}

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	files, err := migrationNames(suffix)
	if err != nil {
		return 0, err
	}
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	count := 0
	for _, name := range files {
		version := strings.TrimSuffix(name, suffix)
		if (direction == "up") == applied[version] {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}

		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return count, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := s.applyMigration(ctx, direction, version, string(content)); err != nil {
			return count, fmt.Errorf("migration %s: %w", name, err)
		}

		slog.Info("applied migration", "version", version, "direction", direction)
		count++
	}

	return count, nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, direction, version, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, content); err != nil {
		return err
	}

	if direction == "up" {
		_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
	} else {
		_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
	}
	if err != nil {
		return fmt.Errorf("failed to update migrations table: %w", err)
	}

	return tx.Commit(ctx)
}

func migrationNames(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
