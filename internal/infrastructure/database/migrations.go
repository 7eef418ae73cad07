package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Migration represents a single database migration.
type Migration struct {
	// Version is the migration version, taken from the filename.
	// Format: YYYYMMDD_HHMMSS (e.g., 20260301_090000)
	Version string

	// Name is the human-readable migration name.
	Name string

	// UpSQL contains the SQL to apply this migration.
	UpSQL string
}

// Migrate applies every pending migration found at the root of fsys.
//
// Each migration runs in its own transaction. If migration N fails,
// migrations before it stay committed, N is rolled back and nothing after it
// is attempted. Re-running Migrate after fixing the file continues from N.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Filesystem holding *.up.sql files, usually migrations.FS
//
// Returns:
//   - error: If any migration fails (that migration is rolled back)
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// AppliedVersions returns the versions recorded in schema_migrations, oldest
// first.
func (db *DB) AppliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// LoadMigrations reads the *.up.sql files at the root of fsys, sorted by
// version. Files that do not follow the naming scheme are ignored.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			UpSQL:   string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFilename splits "20260301_090000_transmission_history.up.sql"
// into its version and name. Any other file reports !ok.
func parseMigrationFilename(filename string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(filename, ".up.sql")
	if !found {
		return "", "", false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 || len(parts[0]) != 8 || len(parts[1]) != 6 || parts[2] == "" {
		return "", "", false
	}
	for _, r := range parts[0] + parts[1] {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return parts[0] + "_" + parts[1], parts[2], true
}
