package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the SQLite file at path. The pool is
// limited to one connection so writes from concurrent requests queue instead
// of failing with SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

// EnsureSQLiteSchema creates the patients table if it does not exist yet.
// Columns match EnsureSchema; created_at holds RFC 3339 text.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS patients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	dob VARCHAR(10) NOT NULL,
	age INTEGER NOT NULL,
	gender TEXT NOT NULL,
	symptoms TEXT,
	diagnosis VARCHAR(50) NOT NULL,
	filepath TEXT NOT NULL,
	created_at TEXT NOT NULL
);`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}
