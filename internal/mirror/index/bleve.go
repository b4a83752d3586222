package index

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
)

// defaultSearchSize bounds result sets when the caller passes no limit.
const defaultSearchSize = 1000

// BleveStore backs the index with a bleve full-text index.
//
// Records are indexed under their path as the document ID, so re-indexing
// a path updates in place. Search accepts bleve query-string syntax
// (field scoping, fuzziness) as well as plain words.
type BleveStore struct {
	index bleve.Index
}

// Initialize opens the index directory at path, creating it with the
// default mapping when absent. The caller MUST call Close() when done.
func (b *BleveStore) Initialize(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		mapping := bleve.NewIndexMapping()
		index, err := bleve.New(path, mapping)
		if err != nil {
			return fmt.Errorf("failed to create bleve index: %w", err)
		}
		b.index = index
		return nil
	}

	index, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open bleve index: %w", err)
	}
	b.index = index
	return nil
}

// Close releases the index.
func (b *BleveStore) Close() error {
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	return err
}

// IndexBatch adds or updates the batch in one bleve batch operation.
func (b *BleveStore) IndexBatch(ctx context.Context, batch []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bleveBatch := b.index.NewBatch()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range batch {
		if r.UpdatedAt == "" {
			r.UpdatedAt = now
		}
		if err := bleveBatch.Index(r.Path, r); err != nil {
			return fmt.Errorf("failed to batch record %s: %w", r.Path, err)
		}
	}
	if err := b.index.Batch(bleveBatch); err != nil {
		return fmt.Errorf("failed to apply batch: %w", err)
	}
	return nil
}

// Delete removes one record. Idempotent.
func (b *BleveStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Delete(path); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", path, err)
	}
	return nil
}

// Count returns the total number of indexed records.
func (b *BleveStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(c), nil
}

// Stats returns counts split by placeholder status.
func (b *BleveStore) Stats(ctx context.Context) (Stats, error) {
	total, err := b.Count(ctx)
	if err != nil {
		return Stats{}, err
	}

	q := bleve.NewBoolFieldQuery(true)
	q.SetField("placeholder")
	req := bleve.NewSearchRequest(q)
	req.Size = 0

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count placeholders: %w", err)
	}

	stats := Stats{Total: total, Placeholders: int(res.Total)}
	stats.Downloaded = stats.Total - stats.Placeholders
	return stats, nil
}

// Search runs query through bleve's query-string syntax. An empty query
// matches all records.
func (b *BleveStore) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	var q bleveQuery.Query
	if query == "" {
		q = bleve.NewMatchAllQuery()
	} else {
		q = bleve.NewQueryStringQuery(query)
	}
	return b.runQuery(ctx, q, limit)
}

// GetAllPaths returns every indexed path via a match-all scan.
func (b *BleveStore) GetAllPaths(ctx context.Context) ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 1000000
	req.Fields = []string{}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}

	var paths []string
	for _, hit := range res.Hits {
		paths = append(paths, hit.ID)
	}
	return paths, nil
}

// RemoveStaleEntries deletes records whose file no longer exists.
func (b *BleveStore) RemoveStaleEntries(ctx context.Context) (int, error) {
	paths, err := b.GetAllPaths(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	batch := b.index.NewBatch()
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			batch.Delete(path)
			removed++
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to remove stale entries: %w", err)
	}
	return removed, nil
}

// Clear removes all records.
func (b *BleveStore) Clear(ctx context.Context) error {
	paths, err := b.GetAllPaths(ctx)
	if err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, path := range paths {
		batch.Delete(path)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	return nil
}

func (b *BleveStore) runQuery(ctx context.Context, q bleveQuery.Query, limit int) ([]Record, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	if req.Size <= 0 {
		req.Size = defaultSearchSize
	}
	req.Fields = []string{"*"}
	req.SortBy([]string{"author", "series", "series_index", "title"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	var records []Record
	for _, hit := range res.Hits {
		// Fields come back as a loosely typed map
		getStr := func(f string) string {
			if v, ok := hit.Fields[f].(string); ok {
				return v
			}
			return ""
		}
		getBool := func(f string) bool {
			if v, ok := hit.Fields[f].(bool); ok {
				return v
			}
			return false
		}

		records = append(records, Record{
			Path:        hit.ID,
			BookID:      getStr("book_id"),
			Title:       getStr("title"),
			Author:      getStr("author"),
			Series:      getStr("series"),
			SeriesIndex: getStr("series_index"),
			Placeholder: getBool("placeholder"),
			UpdatedAt:   getStr("updated_at"),
		})
	}
	return records, nil
}
