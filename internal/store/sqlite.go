package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the SQLite backed invocation audit log.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS action_invocations (
			id TEXT PRIMARY KEY,
			action_name TEXT NOT NULL,
			invoke_url TEXT NOT NULL,
			incident_id TEXT,
			actor TEXT,
			success INTEGER NOT NULL,
			status_code INTEGER,
			error TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_timestamp ON action_invocations(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_incident ON action_invocations(incident_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}
