package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/brief/internal/cache"
	"github.com/hpungsan/brief/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file inside the base directory.
const FileName = "brief.db"

// ImportsDir is the default directory seed files are imported from.
const ImportsDir = "imports"

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/brief.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.brief.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	importsDir := filepath.Join(baseDir, ImportsDir)
	if err := os.MkdirAll(importsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create imports directory: %w", err)
	}
	_ = os.Chmod(importsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS projects (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  title      TEXT NOT NULL,
		  created_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS work_items (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  project_id INTEGER NOT NULL REFERENCES projects(id),
		  title      TEXT NOT NULL,
		  created_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_work_items_project
		ON work_items(project_id);

		CREATE TABLE IF NOT EXISTS tasks (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  work_item_id INTEGER NOT NULL REFERENCES work_items(id),
		  title        TEXT NOT NULL,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_work_item
		ON tasks(work_item_id);

		CREATE TABLE IF NOT EXISTS context_records (
		  entity_type TEXT NOT NULL CHECK (entity_type IN ('PROJECT', 'WORK_ITEM', 'TASK')),
		  entity_id   INTEGER NOT NULL,
		  six_w_json  TEXT NOT NULL,
		  updated_at  INTEGER NOT NULL,
		  PRIMARY KEY (entity_type, entity_id)
		);

		CREATE TABLE IF NOT EXISTS session_activities (
		  id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		  work_item_id          INTEGER NOT NULL REFERENCES work_items(id),
		  session_id            TEXT NOT NULL,
		  agent_role            TEXT NOT NULL,
		  summary               TEXT NOT NULL,
		  files_referenced_json TEXT,
		  files_modified_json   TEXT,
		  snapshots_json        TEXT,
		  recorded_at           INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_activities_work_item
		ON session_activities(work_item_id, recorded_at DESC);

		CREATE INDEX IF NOT EXISTS idx_session_activities_session
		ON session_activities(session_id, recorded_at DESC);
		` + cache.SQLiteSchema
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
