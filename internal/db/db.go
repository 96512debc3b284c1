package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/dayloom/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created under the base directory.
const FileName = "dayloom.db"

// Init initializes the SQLite database at baseDir/dayloom.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.dayloom.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Writes are serialized by the Queue, so the busy timeout only covers
	// readers from other processes (CLI invocations against a running daemon).
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
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
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS capture_events (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  captured_at INTEGER NOT NULL,
		  image_ref   TEXT NOT NULL UNIQUE,
		  created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_capture_events_captured_at
		ON capture_events(captured_at);

		CREATE TABLE IF NOT EXISTS analysis_batches (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  start_ts   INTEGER NOT NULL,
		  end_ts     INTEGER NOT NULL,
		  status     TEXT NOT NULL,
		  reason     TEXT,
		  created_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL,
		  CHECK (end_ts > start_ts)
		);

		CREATE INDEX IF NOT EXISTS idx_analysis_batches_status_start
		ON analysis_batches(status, start_ts);

		CREATE TABLE IF NOT EXISTS batch_event_links (
		  batch_id INTEGER NOT NULL REFERENCES analysis_batches(id),
		  event_id INTEGER NOT NULL REFERENCES capture_events(id),
		  PRIMARY KEY (batch_id, event_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_batch_event_links_event
		ON batch_event_links(event_id);

		CREATE TABLE IF NOT EXISTS observations (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  batch_id    INTEGER NOT NULL REFERENCES analysis_batches(id),
		  start_ts    INTEGER NOT NULL,
		  end_ts      INTEGER NOT NULL,
		  observation TEXT NOT NULL,
		  metadata    TEXT,
		  llm_model   TEXT,
		  created_at  INTEGER NOT NULL,
		  CHECK (end_ts >= start_ts)
		);

		CREATE INDEX IF NOT EXISTS idx_observations_batch ON observations(batch_id);
		CREATE INDEX IF NOT EXISTS idx_observations_time ON observations(start_ts, end_ts);

		CREATE TABLE IF NOT EXISTS timeline_cards (
		  id               INTEGER PRIMARY KEY AUTOINCREMENT,
		  batch_id         INTEGER REFERENCES analysis_batches(id),
		  start_ts         INTEGER NOT NULL,
		  end_ts           INTEGER NOT NULL,
		  start_label      TEXT NOT NULL,
		  end_label        TEXT NOT NULL,
		  day_key          TEXT NOT NULL,
		  category         TEXT NOT NULL,
		  subcategory      TEXT,
		  title            TEXT NOT NULL,
		  summary          TEXT,
		  detailed_summary TEXT,
		  metadata         TEXT,
		  video_ref        TEXT,
		  is_deleted       INTEGER NOT NULL DEFAULT 0,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL,
		  CHECK (end_ts > start_ts)
		);

		CREATE INDEX IF NOT EXISTS idx_timeline_cards_active_time
		ON timeline_cards(start_ts, end_ts)
		WHERE is_deleted = 0;

		CREATE INDEX IF NOT EXISTS idx_timeline_cards_day
		ON timeline_cards(day_key, start_ts)
		WHERE is_deleted = 0;

		CREATE INDEX IF NOT EXISTS idx_timeline_cards_batch ON timeline_cards(batch_id);

		-- rowid mirrors timeline_cards.id; rows exist only for non-deleted cards.
		CREATE VIRTUAL TABLE IF NOT EXISTS timeline_cards_fts USING fts5(
		  title, summary, detailed_summary, category, subcategory
		);

		CREATE TABLE IF NOT EXISTS model_calls (
		  id            INTEGER PRIMARY KEY AUTOINCREMENT,
		  batch_id      INTEGER REFERENCES analysis_batches(id),
		  call_group_id TEXT NOT NULL,
		  attempt       INTEGER NOT NULL,
		  operation     TEXT NOT NULL,
		  status        TEXT NOT NULL,
		  latency_ms    INTEGER,
		  http_status   INTEGER,
		  request_url   TEXT NOT NULL,
		  request_body  TEXT,
		  response_body TEXT,
		  error_kind    TEXT,
		  error_message TEXT,
		  created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_model_calls_batch ON model_calls(batch_id);
		CREATE INDEX IF NOT EXISTS idx_model_calls_group ON model_calls(call_group_id, attempt);
		`
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
