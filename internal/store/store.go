// Package store is the Postgres gateway: it owns the connection pool, applies
// schema migrations, and exposes the reads and writes the payment pipeline
// needs. Each operation runs in its own implicit transaction.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/farmstream/bchwatch/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sql.DB pool for the payment database.
type Store struct {
	conn *sql.DB
}

// New opens a pooled connection to the given Postgres DSN and verifies it
// with a ping.
func New(dsn string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v: %w", err, ErrStoreUnavailable)
	}

	conn.SetMaxOpenConns(config.StoreMaxOpenConns)
	conn.SetMaxIdleConns(config.StoreMaxIdleConns)
	conn.SetConnMaxLifetime(config.StoreConnMaxLifetime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %v: %w", err, ErrStoreUnavailable)
	}

	slog.Info("store connected",
		"maxOpenConns", config.StoreMaxOpenConns,
		"maxIdleConns", config.StoreMaxIdleConns,
	)

	return &Store{conn: conn}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	slog.Info("closing store")
	return s.conn.Close()
}

// Conn returns the underlying sql.DB pool.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// RunMigrations applies all pending SQL migration files from the embedded
// filesystem, each in its own transaction.
func (s *Store) RunMigrations() error {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d", &version); err != nil {
			slog.Warn("skipping migration with unparseable version", "file", entry.Name())
			continue
		}

		var count int
		if err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status for version %d: %w", version, err)
		}

		if count > 0 {
			slog.Debug("migration already applied", "version", version, "file", entry.Name())
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		slog.Info("applying migration", "version", version, "file", entry.Name())

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}

		slog.Info("migration applied", "version", version, "file", entry.Name())
	}

	return nil
}
