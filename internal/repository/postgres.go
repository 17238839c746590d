package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type PoolConfig struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetimeS int
	ConnMaxIdleTimeS int
}

// OpenPostgres opens and pings the payments database.
func OpenPostgres(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("OpenPostgres: open: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeS) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTimeS) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenPostgres: ping: %w", err)
	}

	return db, nil
}

// Migrate applies every *.up.sql file in migrations that is not yet recorded
// in schema_migrations, in file name order.
func Migrate(ctx context.Context, db *sql.DB, migrations fs.FS) ([]string, error) {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	); err != nil {
		return nil, fmt.Errorf("Migrate: bookkeeping table: %w", err)
	}

	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		var done bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
		).Scan(&done); err != nil {
			return applied, fmt.Errorf("Migrate: check %s: %w", name, err)
		}
		if done {
			continue
		}

		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return applied, fmt.Errorf("Migrate: read %s: %w", name, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("Migrate: begin %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback() //nolint:errcheck
			return applied, fmt.Errorf("Migrate: execute %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			tx.Rollback() //nolint:errcheck
			return applied, fmt.Errorf("Migrate: record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("Migrate: commit %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
