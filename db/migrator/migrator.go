// Package migrator applies the plain SQL migration files of one directory.
//
// Migrations run in lexicographic order, each inside its own transaction. A
// migration file registers itself with a trailing INSERT into the migrations
// table; the migrator fills in the file's SHA-256 so later runs can detect
// edits to already-applied files.
package migrator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migration is one .sql file, read and hashed once up front.
type migration struct {
	name     string
	sql      string
	checksum string
}

// Migrator applies pending migrations from a directory against one pool.
type Migrator struct {
	pool   *pgxpool.Pool
	dir    string
	logger *slog.Logger
}

// New creates a Migrator reading migration files from dir.
func New(pool *pgxpool.Pool, dir string) *Migrator {
	return &Migrator{
		pool:   pool,
		dir:    dir,
		logger: slog.Default().With("component", "migrator"),
	}
}

// ApplyAll applies every migration file not yet recorded in the migrations
// table. Files already recorded are checksum-verified instead; a modified
// file aborts the run before anything else is applied.
func (m *Migrator) ApplyAll(ctx context.Context) error {
	migrations, err := m.load()
	if err != nil {
		return err
	}

	applied, err := m.appliedChecksums(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		stored, ok := applied[mig.name]
		if ok {
			if stored != nil && *stored != mig.checksum {
				return fmt.Errorf("checksum verification failed for %s: file was modified after it was applied", mig.name)
			}
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("applying %s: %w", mig.name, err)
		}
	}

	return nil
}

// ListApplied returns the applied migration filenames in application order.
func (m *Migrator) ListApplied(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx,
		"SELECT filename FROM migrations ORDER BY applied_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// load reads and hashes every .sql file in the migrations directory,
// sorted by filename.
func (m *Migrator) load() ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		migrations = append(migrations, migration{
			name:     name,
			sql:      string(content),
			checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].name < migrations[j].name
	})

	return migrations, nil
}

// appliedChecksums returns the stored checksum per applied migration. A nil
// checksum means the row predates checksum tracking and is accepted as-is.
// Before the very first run the migrations table itself does not exist yet;
// that counts as nothing applied.
func (m *Migrator) appliedChecksums(ctx context.Context) (map[string]*string, error) {
	var exists bool
	err := m.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = 'migrations'
		)`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking for migrations table: %w", err)
	}
	if !exists {
		return map[string]*string{}, nil
	}

	rows, err := m.pool.Query(ctx, "SELECT filename, checksum FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]*string)
	for rows.Next() {
		var (
			name     string
			checksum *string
		)
		if err := rows.Scan(&name, &checksum); err != nil {
			return nil, err
		}
		applied[name] = checksum
	}

	return applied, rows.Err()
}

// apply runs one migration file in its own transaction and attaches the
// file's checksum to the row the migration inserted for itself.
func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			m.logger.Warn("rollback failed", "migration", mig.name, "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		"UPDATE migrations SET checksum = $1 WHERE filename = $2",
		mig.checksum, mig.name)
	if err != nil {
		return fmt.Errorf("recording checksum: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("migration did not insert itself into the migrations table")
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	m.logger.Info("applied migration", "file", mig.name)
	return nil
}
