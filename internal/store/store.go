// Package store provides SQLite metadata operations for LiteRAG:
// collections, documents, source blobs, chunks, the FTS5 keyword index
// and sync jobs. Chunk rows and their FTS rows always commit in the
// same transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store provides database operations for LiteRAG.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path.
func New(dbPath string) (*Store, error) {
	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Connections don't expire

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a transaction for multi-statement writes.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Savepoint opens a named savepoint inside tx.
func (s *Store) Savepoint(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

// ReleaseSavepoint releases a named savepoint.
func (s *Store) ReleaseSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// RollbackToSavepoint rolls back to a named savepoint. The outer
// transaction stays open.
func (s *Store) RollbackToSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// migrate runs all pending database migrations.
func (s *Store) migrate() error {
	// Create migrations table if not exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Run the initial schema migration
	if currentVersion < 1 {
		if err := s.runMigration001(); err != nil {
			return fmt.Errorf("run migration 001: %w", err)
		}
	}

	// Run migration 002 for sync jobs
	if currentVersion < 2 {
		if err := s.runMigration002(); err != nil {
			return fmt.Errorf("run migration 002: %w", err)
		}
	}

	return nil
}

// runMigration001 creates the initial schema.
func (s *Store) runMigration001() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Collections table
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			collection_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return err
	}

	// Documents table
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			doc_id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL REFERENCES collections(collection_id),
			source_key TEXT NOT NULL,
			name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			synced_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return err
	}

	// Source blobs table, keyed by source_key so re-sync can re-read
	// the original bytes
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS document_blobs (
			source_key TEXT PRIMARY KEY,
			content BLOB NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Chunks table
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			point_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL REFERENCES documents(doc_id),
			collection_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(doc_id, chunk_index)
		)
	`)
	if err != nil {
		return err
	}

	// Chunk metadata table
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS chunk_meta (
			point_id TEXT PRIMARY KEY REFERENCES chunks(point_id),
			title_chain TEXT NOT NULL,
			content_hash TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// FTS5 virtual table for full-text search
	_, err = tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			point_id UNINDEXED,
			doc_id UNINDEXED,
			collection_id UNINDEXED,
			content,
			title,
			tokenize='porter unicode61'
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes
	_, err = tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);
		CREATE INDEX IF NOT EXISTS idx_documents_deleted ON documents(deleted);
		CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);
	`)
	if err != nil {
		return err
	}

	// Record migration
	_, err = tx.Exec("INSERT INTO migrations (version) VALUES (1)")
	if err != nil {
		return err
	}

	return tx.Commit()
}

// runMigration002 adds the sync jobs table.
func (s *Store) runMigration002() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Sync jobs table, one row per document
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS sync_jobs (
			job_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL UNIQUE REFERENCES documents(doc_id),
			status TEXT NOT NULL DEFAULT 'NEW',
			retries INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TEXT,
			last_error TEXT,
			error_category TEXT,
			started_at TEXT,
			finished_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return err
	}

	// Create index
	_, err = tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status)
	`)
	if err != nil {
		return err
	}

	// Record migration
	_, err = tx.Exec("INSERT INTO migrations (version) VALUES (2)")
	if err != nil {
		return err
	}

	return tx.Commit()
}

// OptimizeFTS compacts the FTS index after bulk deletes.
func (s *Store) OptimizeFTS(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts) VALUES('optimize')`)
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isFTSSyntaxError reports whether err is an FTS5 query syntax problem.
// FTS5 surfaces these as generic SQLITE_ERROR, so the message is the
// only signal.
func isFTSSyntaxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "malformed MATCH")
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
