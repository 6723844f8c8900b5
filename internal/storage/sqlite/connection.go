// Package sqlite provides the durable storage backend on a local SQLite
// database file.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ternarybob/gantry/internal/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS workers (
	worker_id     TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	weight        INTEGER NOT NULL DEFAULT 1,
	enabled       INTEGER NOT NULL DEFAULT 1,
	auth_username TEXT NOT NULL DEFAULT '',
	auth_password TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS job_mappings (
	gateway_job_id TEXT PRIMARY KEY,
	prompt_id      TEXT NOT NULL,
	worker_id      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_mappings_prompt_id ON job_mappings(prompt_id);

CREATE TABLE IF NOT EXISTS pending_queue (
	gateway_job_id TEXT PRIMARY KEY,
	prompt         BLOB NOT NULL,
	client_id      TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_queue_order ON pending_queue(priority DESC, created_at ASC, gateway_job_id ASC);

CREATE TABLE IF NOT EXISTS task_history (
	task_id       TEXT PRIMARY KEY,
	prompt_id     TEXT NOT NULL DEFAULT '',
	worker_id     TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	submitted_at  TIMESTAMP NOT NULL,
	started_at    TIMESTAMP,
	completed_at  TIMESTAMP,
	result        BLOB
);
CREATE INDEX IF NOT EXISTS idx_task_history_prompt_id ON task_history(prompt_id);
CREATE INDEX IF NOT EXISTS idx_task_history_status ON task_history(status);
CREATE INDEX IF NOT EXISTS idx_task_history_submitted ON task_history(submitted_at DESC);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if necessary) the gateway database at the configured
// path and applies the schema.
func Open(cfg common.SQLiteConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeoutMS)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock churn
	// between the dispatcher and request handlers.
	db.SetMaxOpenConns(1)

	if cfg.CacheSizeMB > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set cache size: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}
