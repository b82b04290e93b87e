package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_log (
  id           TEXT PRIMARY KEY,
  event_type   TEXT NOT NULL,
  url          TEXT NOT NULL,
  body_size    INTEGER NOT NULL,
  status       TEXT NOT NULL,
  status_code  INTEGER,
  error_code   TEXT,
  target       TEXT,
  last_error   TEXT,
  duration_ms  INTEGER,
  created_at   TEXT NOT NULL,
  completed_at TEXT
);
CREATE INDEX IF NOT EXISTS delivery_log_created_at_idx ON delivery_log(created_at);
CREATE INDEX IF NOT EXISTS delivery_log_status_idx ON delivery_log(status, event_type);
`

// OpenSQLite opens the state database at path, creating its directory and
// schema when missing. Connections use WAL journaling and a 5s busy timeout.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the delivery_log table and its indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap sqlite: %w", err)
	}
	return nil
}
