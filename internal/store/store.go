// Package store keeps the registry of produced documents: which file id
// maps to which PDF on disk, how many slides it holds, and when it expires.
// SQLite-backed so the front-end survives restarts without losing handles
// to documents that already cost a full browser session to produce.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a document id is unknown or already swept.
var ErrNotFound = errors.New("store: document not found")

// Document is one produced PDF.
type Document struct {
	ID        string
	Path      string
	Slides    int
	Status    string
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	slides     INTEGER NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
`

// Store is the document registry.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the registry database with the production
// pragmas: WAL journal, busy timeout, foreign keys.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Put registers a produced document.
func (s *Store) Put(ctx context.Context, doc Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, path, slides, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Path, doc.Slides, doc.Status, doc.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", doc.ID, err)
	}
	return nil
}

// Get looks up a document by id.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, slides, status, created_at FROM documents WHERE id = ?`, id)

	var doc Document
	var createdMs int64
	if err := row.Scan(&doc.ID, &doc.Path, &doc.Slides, &doc.Status, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	doc.CreatedAt = time.UnixMilli(createdMs)
	return &doc, nil
}

// Sweep removes documents older than maxAge, files included. Returns how
// many were removed.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path FROM documents WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: sweep query: %w", err)
	}

	type victim struct{ id, path string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: sweep scan: %w", err)
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("store: sweep rows: %w", err)
	}

	removed := 0
	for _, v := range victims {
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("store: sweep file removal failed", "id", v.id, "path", v.path, "error", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, v.id); err != nil {
			s.logger.Warn("store: sweep row removal failed", "id", v.id, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("store: swept expired documents", "removed", removed)
	}
	return removed, nil
}

// RunSweeper sweeps on an interval until ctx is done. Intended as a
// background goroutine owned by the front-end.
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, maxAge); err != nil {
				s.logger.Error("store: sweep failed", "error", err)
			}
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
