// Package store persists the ticket cache in SQLite so the ticket source
// can diff poll results against known state across restarts.
package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store manages the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("ticket store initialized")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		number INTEGER PRIMARY KEY,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		labels TEXT NOT NULL DEFAULT '[]',
		html_url TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_shoot ON tickets(namespace, name);

	CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY,
		ticket_number INTEGER NOT NULL,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		author TEXT,
		body TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_ticket ON comments(ticket_number);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migration v1: %w", err)
	}
	return nil
}
