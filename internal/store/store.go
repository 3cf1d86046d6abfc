// Package store persists the set of already-processed source stories so
// repeated runs skip posts the pipeline has consumed before.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_stories (
	source_id TEXT PRIMARY KEY,
	title     TEXT NOT NULL DEFAULT '',
	seen_at   TEXT NOT NULL
);
`

type Index struct {
	db *sql.DB
}

// Open creates or opens the index database at path, creating parent
// directories as needed.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// modernc.org/sqlite serializes writes per connection; one connection
	// avoids SQLITE_BUSY between statements.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Seen(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := x.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_stories WHERE source_id = ?`, sourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

func (x *Index) MarkSeen(ctx context.Context, sourceID, title string) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_stories (source_id, title, seen_at) VALUES (?, ?, ?)`,
		sourceID, title, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (x *Index) Close() error { return x.db.Close() }
