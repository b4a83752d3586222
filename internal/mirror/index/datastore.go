// Package index provides the queryable library index over the placeholder
// mirror.
//
// The index is derived data: the placeholder store and the filesystem are
// the truth, the index is disposable and rebuilt by reconciliation. Two
// backends implement the same contract and are selected by configuration:
//
//   - sqlite: embedded SQLite with WAL mode, LIKE-based search
//   - bleve: full-text index with query-string search
//
// Records are keyed by absolute file path, so re-indexing the same path
// updates in place.
package index

import (
	"context"
	"fmt"

	"github.com/shelfmark/shelfmark/internal/mirror/codec"
)

// Record is one indexed book: what the library holds at a path.
// Optional bibliographic fields are flattened to empty strings.
type Record struct {
	Path        string `json:"path"`
	BookID      string `json:"book_id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Series      string `json:"series"`
	SeriesIndex string `json:"series_index"`
	Placeholder bool   `json:"placeholder"`
	UpdatedAt   string `json:"updated_at"`
}

// RecordFrom builds a Record for path from placeholder metadata.
func RecordFrom(path string, meta codec.Metadata, placeholder bool) Record {
	r := Record{
		Path:        path,
		BookID:      meta.BookID,
		Title:       meta.Title,
		Author:      meta.Author,
		Placeholder: placeholder,
	}
	if meta.Series != nil {
		r.Series = *meta.Series
	}
	if meta.SeriesIndex != nil {
		r.SeriesIndex = *meta.SeriesIndex
	}
	return r
}

// Stats summarizes the index by download status.
type Stats struct {
	// Total is the number of indexed records.
	Total int `json:"total"`
	// Placeholders counts records still standing in for remote books.
	Placeholders int `json:"placeholders"`
	// Downloaded counts records backed by real content.
	Downloaded int `json:"downloaded"`
}

// Datastore is the contract any index backend must implement.
type Datastore interface {
	// Initialize prepares the backend at path (creates tables or opens
	// the index directory). Must be called before any other method.
	Initialize(path string) error

	// Close releases backend resources.
	Close() error

	// IndexBatch adds or updates a batch of records keyed by path.
	IndexBatch(ctx context.Context, batch []Record) error

	// Delete removes one record by path. Missing records are not an error.
	Delete(ctx context.Context, path string) error

	// Count returns the total number of indexed records.
	Count(ctx context.Context) (int, error)

	// Stats returns counts split by placeholder status.
	Stats(ctx context.Context) (Stats, error)

	// Search returns records matching query, up to limit (0 = backend
	// default). An empty query returns all records.
	Search(ctx context.Context, query string, limit int) ([]Record, error)

	// GetAllPaths returns every indexed path.
	GetAllPaths(ctx context.Context) ([]string, error)

	// RemoveStaleEntries deletes records whose path no longer exists on
	// disk and returns how many were removed.
	RemoveStaleEntries(ctx context.Context) (int, error)

	// Clear removes all records.
	Clear(ctx context.Context) error
}

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
)

// New returns the named backend, not yet initialized. An empty name
// selects sqlite.
func New(backend string) (Datastore, error) {
	switch backend {
	case BackendSQLite, "":
		return &SQLiteStore{}, nil
	case BackendBleve:
		return &BleveStore{}, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q (want %s or %s)", backend, BackendSQLite, BackendBleve)
	}
}
