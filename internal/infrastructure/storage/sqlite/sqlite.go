package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"
)

// Storage owns the embedded database holding the mirror, the mutation
// queue, the raw HTTP cache and the sync metadata singleton.
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

func New(path string, log *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	return &Storage{db: db, log: log}, nil
}

// Bootstrap creates the schema when migrations have not run yet; statements
// are idempotent.
func (s *Storage) Bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			headers TEXT NOT NULL DEFAULT '{}',
			body BLOB,
			timestamp DATETIME NOT NULL,
			priority TEXT NOT NULL,
			priority_rank INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retries INTEGER NOT NULL DEFAULT 0,
			entity_type TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_priority ON requests(priority_rank)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_entity_type ON requests(entity_type)`,

		`CREATE TABLE IF NOT EXISTS http_cache (
			cache_name TEXT NOT NULL,
			url TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			headers TEXT NOT NULL DEFAULT '{}',
			content_type TEXT NOT NULL DEFAULT '',
			body BLOB,
			stored_at DATETIME NOT NULL,
			PRIMARY KEY (cache_name, url)
		)`,

		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			local TEXT NOT NULL,
			server TEXT NOT NULL,
			local_modified_at DATETIME NOT NULL,
			server_modified_at DATETIME NOT NULL,
			strategy TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolution TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved)`,

		`CREATE TABLE IF NOT EXISTS sync_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}

	for _, t := range mirrorTables {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			last_synced_at DATETIME,
			local_modified_at DATETIME,
			last_synced_stock INTEGER
		)`, t))
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_local_modified ON %s(local_modified_at)`, t, t))
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a single transaction so a logical read-mutate-write
// is atomic to every other reader.
func (s *Storage) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) Close() error {
	return s.db.Close()
}
