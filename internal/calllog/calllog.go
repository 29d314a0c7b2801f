// Package calllog persists admitted tool calls so rate windows survive
// across CLI invocations. The decision engine never touches it: callers
// count before deciding and record only after an ok verdict.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // ms

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tool_calls (
		pack      TEXT    NOT NULL,
		tool      TEXT    NOT NULL,
		called_at INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tool_calls_lookup ON tool_calls(pack, tool, called_at)`,
}

// Log is a SQLite-backed record of admitted calls.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the call log at path.
//
// The database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes).
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("calllog: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("calllog: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calllog: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calllog: set busy_timeout: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("calllog: migrate: %w", err)
		}
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// CountSince returns how many calls to pack/tool were recorded at or after
// the cutoff.
func (l *Log) CountSince(ctx context.Context, packID, toolName string, cutoff time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tool_calls
		WHERE pack = ? AND tool = ? AND called_at >= ?
	`, packID, toolName, cutoff.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountSince: %w", err)
	}
	return n, nil
}

// Record appends one admitted call.
func (l *Log) Record(ctx context.Context, packID, toolName string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tool_calls (pack, tool, called_at) VALUES (?, ?, ?)
	`, packID, toolName, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

// Prune drops calls to pack/tool recorded before the cutoff. Rows outside
// the window can never count again, so this keeps the log from growing
// without bound.
func (l *Log) Prune(ctx context.Context, packID, toolName string, cutoff time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM tool_calls
		WHERE pack = ? AND tool = ? AND called_at < ?
	`, packID, toolName, cutoff.UnixMilli())
	if err != nil {
		return fmt.Errorf("Prune: %w", err)
	}
	return nil
}
