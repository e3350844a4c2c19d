package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/availability-sync/backend/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies the embedded schema migrations that have not run yet.
// Files are named NNN_description.sql and applied in version order, each in
// its own transaction. An applied migration whose file has since changed is
// an error.
func RunMigrations(ctx context.Context, db *DB) error {
	source, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	return runMigrations(ctx, db, source)
}

type migration struct {
	version  int
	name     string
	sql      string
	checksum string
}

func runMigrations(ctx context.Context, db *DB, source fs.FS) error {
	logger := logging.WithFields(logging.String("component", "migrations"))

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	available, err := loadMigrations(source)
	if err != nil {
		return err
	}
	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range available {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return fmt.Errorf("migration %s was modified after being applied", m.name)
			}
			continue
		}

		started := time.Now()
		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
				m.version, m.name, m.checksum, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}

		count++
		logger.Info("Applied migration",
			logging.String("name", m.name),
			logging.Duration("duration", time.Since(started)))
	}

	current := 0
	if len(available) > 0 {
		current = available[len(available)-1].version
	}
	logger.Info("Database migrations complete",
		logging.Int("applied", count),
		logging.Int("version", current))
	return nil
}

func loadMigrations(source fs.FS) ([]migration, error) {
	paths, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	migrations := make([]migration, 0, len(paths))
	seen := make(map[int]string, len(paths))
	for _, p := range paths {
		name := path.Base(p)
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version and an underscore", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		content, err := fs.ReadFile(source, p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, migration{
			version:  version,
			name:     name,
			sql:      string(content),
			checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

func appliedChecksums(ctx context.Context, db *DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var (
			version int
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}
