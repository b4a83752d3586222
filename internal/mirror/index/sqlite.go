package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore backs the index with embedded SQLite.
//
// The database runs in WAL mode so readers stay concurrent with the
// reconcile pass writing batches. Search is LIKE-based over title, author,
// and series.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// Initialize opens (or creates) the database at path and ensures the
// schema exists. The caller MUST call Close() when done.
func (s *SQLiteStore) Initialize(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return fmt.Errorf("failed to open index database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping index database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s.conn = conn
	s.path = path

	// WAL keeps readers concurrent with batch writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s.initSchema()
}

// initSchema creates the books table and indexes. Idempotent.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		path TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		series TEXT NOT NULL DEFAULT '',
		series_index TEXT NOT NULL DEFAULT '',
		placeholder INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	-- Indexes for lookup by catalog identity and shelf browsing
	CREATE INDEX IF NOT EXISTS idx_books_book_id ON books(book_id);
	CREATE INDEX IF NOT EXISTS idx_books_author ON books(author);
	CREATE INDEX IF NOT EXISTS idx_books_series ON books(series);
	CREATE INDEX IF NOT EXISTS idx_books_placeholder ON books(placeholder);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}
	s.conn = nil
	return nil
}

// IndexBatch upserts the batch in one transaction, keyed by path.
func (s *SQLiteStore) IndexBatch(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO books (path, book_id, title, author, series, series_index, placeholder, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		book_id = excluded.book_id,
		title = excluded.title,
		author = excluded.author,
		series = excluded.series,
		series_index = excluded.series_index,
		placeholder = excluded.placeholder,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range batch {
		updatedAt := r.UpdatedAt
		if updatedAt == "" {
			updatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query,
			r.Path, r.BookID, r.Title, r.Author, r.Series, r.SeriesIndex,
			boolToInt(r.Placeholder), updatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Delete removes one record. Idempotent.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM books WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", path, err)
	}
	return nil
}

// Count returns the total number of indexed records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM books").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Stats returns counts split by placeholder status.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(placeholder), 0) FROM books",
	).Scan(&stats.Total, &stats.Placeholders)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	stats.Downloaded = stats.Total - stats.Placeholders
	return stats, nil
}

// Search matches query as a substring of title, author, or series.
// An empty query returns all records.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	var conditions []string
	var args []interface{}

	if query != "" {
		pattern := "%" + query + "%"
		conditions = append(conditions, "(title LIKE ? OR author LIKE ? OR series LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	q := `
	SELECT path, book_id, title, author, series, series_index, placeholder, updated_at
	FROM books
	`
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += " ORDER BY author ASC, series ASC, series_index ASC, title ASC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetAllPaths returns every indexed path.
func (s *SQLiteStore) GetAllPaths(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT path FROM books ORDER BY path ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating paths: %w", err)
	}
	return paths, nil
}

// RemoveStaleEntries deletes records whose file no longer exists.
func (s *SQLiteStore) RemoveStaleEntries(ctx context.Context) (int, error) {
	paths, err := s.GetAllPaths(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range paths {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			continue
		}
		if err := s.Delete(ctx, path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Clear removes all records.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM books"); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	return nil
}

// scanRecords reads query results into Records.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var placeholder int
		err := rows.Scan(
			&r.Path, &r.BookID, &r.Title, &r.Author,
			&r.Series, &r.SeriesIndex, &placeholder, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Placeholder = placeholder != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
