package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
)

// defaultPersistEvery bounds how much per-book progress a crash can lose.
const defaultPersistEvery = 25

// engine implements the Reconciler interface.
type engine struct {
	store  *store.Store
	codec  *codec.Codec
	cfg    Config
	logger *log.Logger
}

// New creates a Reconciler over the given store.
//
// The store must already be loaded. If logger is nil, a default logger
// writing to stderr is used.
func New(st *store.Store, c *codec.Codec, cfg Config, logger *log.Logger) (Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconcile config: %w", err)
	}
	if cfg.PersistEvery == 0 {
		cfg.PersistEvery = defaultPersistEvery
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &engine{
		store:  st,
		codec:  c,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Reconcile implements Reconciler.Reconcile.
func (e *engine) Reconcile(ctx context.Context, books []catalog.Book) (*Result, error) {
	start := time.Now()
	result := &Result{}

	e.logger.Printf("Starting reconciliation: %d catalog books, %d store entries", len(books), e.store.Len())

	known := make(map[string]bool, len(books))
	for _, book := range books {
		known[book.ID] = true
	}

	if err := e.removeOrphans(ctx, known, result); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}
	if err := e.persist(); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	sincePersist := 0
	for i, book := range books {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		outcome, err := e.reconcileBook(ctx, book)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("book %s (%s): %v", book.ID, book.Title, err))
			e.logger.Printf("WARNING: Failed to reconcile book %s: %v", book.ID, err)
		} else {
			switch outcome {
			case outcomeCreated:
				result.Created++
			case outcomeUpdated:
				result.Updated++
			default:
				result.Skipped++
			}
		}

		sincePersist++
		if sincePersist >= e.cfg.PersistEvery {
			if err := e.persist(); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
			sincePersist = 0
		}
		e.progress(Progress{Phase: "books", Done: i + 1, Total: len(books)})
	}

	if err := e.persist(); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	result.Duration = time.Since(start)
	e.logger.Printf("Reconciliation complete: %s", result.Summary())
	return result, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
)

// removeOrphans deletes placeholders for books the catalog no longer lists.
// A store entry whose file is not a placeholder is dropped from the store
// but the file is left alone.
func (e *engine) removeOrphans(ctx context.Context, known map[string]bool, result *Result) error {
	paths := e.store.Paths()
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		meta, ok := e.store.Get(path)
		if !ok || known[meta.BookID] {
			continue
		}

		if e.cfg.DryRun {
			result.DeletedOrphans++
			continue
		}

		if err := e.deletePlaceholder(path); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("orphan %s: %v", path, err))
			e.logger.Printf("WARNING: Failed to remove orphan %s: %v", path, err)
			continue
		}
		e.store.Remove(path)
		e.indexDelete(ctx, path)
		result.DeletedOrphans++
		e.progress(Progress{Phase: "orphans", Done: i + 1, Total: len(paths)})
	}
	return nil
}

// reconcileBook handles one catalog book through the four-way case split:
// entry+file, entry without file, file without entry, neither.
func (e *engine) reconcileBook(ctx context.Context, book catalog.Book) (outcome, error) {
	if err := book.Validate(); err != nil {
		return outcomeSkipped, fmt.Errorf("invalid catalog book: %w", err)
	}

	target := codec.PathFor(e.cfg.BaseDir, book)
	fresh := codec.MetadataFromBook(book)
	oldPath, meta, hasEntry := e.store.FindByBookID(book.ID)

	if hasEntry {
		if fileExists(oldPath) {
			if meta.Matches(book) {
				return outcomeSkipped, nil
			}
			return e.movePlaceholder(ctx, oldPath, target, book)
		}
		// Entry but no file: something deleted it out from under us.
		// Recreate in place with refreshed metadata.
		if e.cfg.DryRun {
			return outcomeCreated, nil
		}
		if err := e.writePlaceholder(oldPath, fresh); err != nil {
			return outcomeSkipped, err
		}
		e.store.Put(oldPath, fresh)
		e.indexPut(ctx, oldPath, fresh)
		return outcomeCreated, nil
	}

	if fileExists(target) {
		isPlaceholder, err := e.codec.IsPlaceholder(target)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("failed to inspect %s: %w", target, err)
		}
		if isPlaceholder {
			// A placeholder we lost track of. Adopt it; no write needed.
			if !e.cfg.DryRun {
				e.store.Put(target, fresh)
				e.indexPut(ctx, target, fresh)
			}
			return outcomeSkipped, nil
		}
		// A real file the user already has. Never touch it, and never
		// record it as ours: a store entry here would mark it for
		// deletion on a future pass.
		return outcomeSkipped, nil
	}

	if e.cfg.DryRun {
		return outcomeCreated, nil
	}
	if err := e.writePlaceholder(target, fresh); err != nil {
		return outcomeSkipped, err
	}
	e.store.Put(target, fresh)
	e.indexPut(ctx, target, fresh)
	return outcomeCreated, nil
}

// movePlaceholder is the metadata-changed arm of the entry+file case: the
// old placeholder goes away, a fresh one lands at the recomputed path, and
// the store entry follows it.
func (e *engine) movePlaceholder(ctx context.Context, oldPath, target string, book catalog.Book) (outcome, error) {
	if e.cfg.DryRun {
		return outcomeUpdated, nil
	}

	if err := e.deletePlaceholder(oldPath); err != nil {
		return outcomeSkipped, fmt.Errorf("failed to remove outdated placeholder: %w", err)
	}
	if err := e.writePlaceholder(target, codec.MetadataFromBook(book)); err != nil {
		return outcomeSkipped, err
	}
	e.store.Remove(oldPath)
	e.store.Put(target, codec.MetadataFromBook(book))
	e.indexDelete(ctx, oldPath)
	e.indexPut(ctx, target, codec.MetadataFromBook(book))
	return outcomeUpdated, nil
}

// RepairPath implements Reconciler.RepairPath.
func (e *engine) RepairPath(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	meta, ok := e.store.Get(path)
	if !ok {
		return false, nil
	}
	if fileExists(path) {
		return false, nil
	}

	if err := e.writePlaceholder(path, meta); err != nil {
		return false, err
	}
	if err := e.persist(); err != nil {
		return false, err
	}
	e.indexPut(ctx, path, meta)
	e.logger.Printf("Repaired missing placeholder: %s", path)
	return true, nil
}

// AdoptPath implements Reconciler.AdoptPath.
func (e *engine) AdoptPath(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, ok := e.store.Get(path); ok {
		return false, nil
	}
	isPlaceholder, err := e.codec.IsPlaceholder(path)
	if err != nil || !isPlaceholder {
		return false, err
	}

	meta, err := e.codec.DecodeFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to decode placeholder %s: %w", path, err)
	}
	e.store.Put(path, meta)
	if err := e.persist(); err != nil {
		return false, err
	}
	e.indexPut(ctx, path, meta)
	e.logger.Printf("Adopted placeholder: %s (%s)", path, meta.Title)
	return true, nil
}

// deletePlaceholder removes a placeholder file, refusing to touch anything
// that does not carry the sentinel. A file that is already gone counts as
// deleted.
func (e *engine) deletePlaceholder(path string) error {
	isPlaceholder, err := e.codec.IsPlaceholder(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !isPlaceholder {
		return fmt.Errorf("refusing to delete non-placeholder file %s", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete placeholder: %w", err)
	}
	return nil
}

// writePlaceholder encodes and writes one placeholder document.
func (e *engine) writePlaceholder(path string, meta codec.Metadata) error {
	data, err := e.codec.Encode(meta)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write placeholder %s: %w", path, err)
	}
	return nil
}

// indexPut mirrors a store write into the search index. The index is
// derived data, so a failure here is logged and swallowed; a later rebuild
// converges it.
func (e *engine) indexPut(ctx context.Context, path string, meta codec.Metadata) {
	if e.cfg.Index == nil || e.cfg.DryRun {
		return
	}
	rec := index.RecordFrom(path, meta, true)
	if err := e.cfg.Index.IndexBatch(ctx, []index.Record{rec}); err != nil {
		e.logger.Printf("WARNING: Failed to index %s: %v", path, err)
	}
}

// indexDelete mirrors a store removal into the search index.
func (e *engine) indexDelete(ctx context.Context, path string) {
	if e.cfg.Index == nil || e.cfg.DryRun {
		return
	}
	if err := e.cfg.Index.Delete(ctx, path); err != nil {
		e.logger.Printf("WARNING: Failed to deindex %s: %v", path, err)
	}
}

func (e *engine) persist() error {
	if e.cfg.DryRun {
		return nil
	}
	if err := e.store.Persist(); err != nil {
		return fmt.Errorf("failed to persist store: %w", err)
	}
	return nil
}

func (e *engine) progress(p Progress) {
	if e.cfg.OnProgress != nil {
		e.cfg.OnProgress(p)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
