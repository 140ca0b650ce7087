package stash

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS frames (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	folder     TEXT    NOT NULL,
	filename   TEXT    NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (folder, filename)
);
CREATE INDEX IF NOT EXISTS frames_folder ON frames (folder, id);

CREATE TABLE IF NOT EXISTS archives (
	folder      TEXT    PRIMARY KEY,
	frames      INTEGER NOT NULL,
	packaged_at INTEGER NOT NULL
);
`

// Frame is one stored screenshot.
type Frame struct {
	Folder    string
	Filename  string
	Size      int64
	CreatedAt time.Time
}

// Index records stored frames in SQLite so archives list frames in arrival
// order without walking the filesystem.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the frame index at path. ":memory:"
// gives a private in-memory index.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("stash: open index: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("stash: init index: %w", err)
		}
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (x *Index) Close() error { return x.db.Close() }

// RecordFrame adds a stored frame.
func (x *Index) RecordFrame(ctx context.Context, f Frame) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO frames (folder, filename, size_bytes, created_at) VALUES (?, ?, ?, ?)`,
		f.Folder, f.Filename, f.Size, f.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("stash: record frame: %w", err)
	}
	return nil
}

// Frames lists the frames of a folder in arrival order.
func (x *Index) Frames(ctx context.Context, folder string) ([]Frame, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT folder, filename, size_bytes, created_at FROM frames WHERE folder = ? ORDER BY id`,
		folder)
	if err != nil {
		return nil, fmt.Errorf("stash: list frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var f Frame
		var created int64
		if err := rows.Scan(&f.Folder, &f.Filename, &f.Size, &created); err != nil {
			return nil, fmt.Errorf("stash: scan frame: %w", err)
		}
		f.CreatedAt = time.Unix(0, created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FolderStats summarizes one session folder.
type FolderStats struct {
	Folder   string
	Frames   int
	Bytes    int64
	Packaged bool
}

// Folders lists every folder with at least one frame.
func (x *Index) Folders(ctx context.Context) ([]FolderStats, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT f.folder, COUNT(*), SUM(f.size_bytes), a.folder IS NOT NULL
		FROM frames f LEFT JOIN archives a ON a.folder = f.folder
		GROUP BY f.folder ORDER BY MIN(f.id)`)
	if err != nil {
		return nil, fmt.Errorf("stash: list folders: %w", err)
	}
	defer rows.Close()

	var out []FolderStats
	for rows.Next() {
		var s FolderStats
		if err := rows.Scan(&s.Folder, &s.Frames, &s.Bytes, &s.Packaged); err != nil {
			return nil, fmt.Errorf("stash: scan folder: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkPackaged records that a folder was served as an archive.
func (x *Index) MarkPackaged(ctx context.Context, folder string, frames int) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO archives (folder, frames, packaged_at) VALUES (?, ?, ?)
		ON CONFLICT (folder) DO UPDATE SET frames = excluded.frames, packaged_at = excluded.packaged_at`,
		folder, frames, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("stash: mark packaged: %w", err)
	}
	return nil
}
