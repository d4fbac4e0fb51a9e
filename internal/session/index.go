package session

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Index is a small sqlite table mirroring per-session metadata so listing
// does not reparse every JSONL file. The JSONL files remain the source of
// truth; the index rows are upserted or touched as sessions are written.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (and migrates) the listing database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id        TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	entry_count       INTEGER NOT NULL DEFAULT 0,
	parent_session_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// Upsert inserts or replaces a session row.
func (ix *Index) Upsert(info Info) error {
	_, err := ix.db.Exec(`
INSERT INTO sessions (session_id, title, created_at, updated_at, entry_count, parent_session_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	title = excluded.title,
	updated_at = excluded.updated_at,
	entry_count = excluded.entry_count,
	parent_session_id = excluded.parent_session_id`,
		info.SessionID, info.Title, info.CreatedAt, info.UpdatedAt, info.EntryCount, info.ParentSessionID)
	return err
}

// Touch bumps updated_at and the entry count after an append.
func (ix *Index) Touch(sessionID string, updatedAt int64) error {
	_, err := ix.db.Exec(
		`UPDATE sessions SET updated_at = ?, entry_count = entry_count + 1 WHERE session_id = ?`,
		updatedAt, sessionID)
	return err
}

// SetTitle updates a session's title.
func (ix *Index) SetTitle(sessionID, title string) error {
	_, err := ix.db.Exec(`UPDATE sessions SET title = ? WHERE session_id = ?`, title, sessionID)
	return err
}

// List returns all sessions, newest-updated first.
func (ix *Index) List() ([]Info, error) {
	rows, err := ix.db.Query(`
SELECT session_id, title, created_at, updated_at, entry_count, parent_session_id
FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.SessionID, &info.Title, &info.CreatedAt,
			&info.UpdatedAt, &info.EntryCount, &info.ParentSessionID); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
