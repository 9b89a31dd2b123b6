// Package store persists scheduling entities and publish jobs in sqlite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleTarget is returned when an update or delete targets a row
	// that no longer exists at apply time.
	ErrStaleTarget = errors.New("stale target")
)

// Store wraps the sqlite connection.
type Store struct {
	*sql.DB
	logger *zerolog.Logger
}

// Open opens (creating if needed) the database at path and bootstraps
// the schema. WAL mode and a busy timeout keep the sweep and the API
// from tripping over each other.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{DB: db, logger: logger}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS daypart_definitions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			display_label TEXT NOT NULL,
			color TEXT,
			sort_order INTEGER NOT NULL DEFAULT 0,
			scope_kind TEXT NOT NULL DEFAULT 'global',
			concept_id TEXT,
			store_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS schedule_rules (
			id TEXT PRIMARY KEY,
			daypart_id TEXT NOT NULL,
			days_of_week TEXT NOT NULL,
			start_sec INTEGER NOT NULL,
			end_sec INTEGER NOT NULL,
			schedule_type TEXT,
			schedule_name TEXT,
			event_name TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS placement_overrides (
			id TEXT PRIMARY KEY,
			placement_id TEXT NOT NULL,
			daypart_id TEXT,
			daypart_name TEXT,
			days_of_week TEXT NOT NULL,
			start_sec INTEGER NOT NULL,
			end_sec INTEGER NOT NULL,
			schedule_type TEXT,
			schedule_name TEXT,
			event_name TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS publish_jobs (
			id TEXT PRIMARY KEY,
			changes TEXT NOT NULL,
			effective_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			notes TEXT,
			failed_index INTEGER NOT NULL DEFAULT -1,
			error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			applied_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			change_type TEXT NOT NULL,
			target_table TEXT NOT NULL,
			target_id TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_definitions_scope ON daypart_definitions(scope_kind, concept_id, store_id)`,
		`CREATE INDEX IF NOT EXISTS idx_definitions_name ON daypart_definitions(name)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_daypart ON schedule_rules(daypart_id)`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_placement ON placement_overrides(placement_id)`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_daypart ON placement_overrides(daypart_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON publish_jobs(status, effective_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_applied_at ON audit_log(applied_at)`,
	}

	for _, query := range queries {
		if _, err := s.Exec(query); err != nil {
			return fmt.Errorf("exec %q: %w", query, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}
