// Package adopt rebuilds store knowledge from the library itself. Every
// placeholder carries its own metadata, so a store lost to corruption or
// deletion is recovered by walking the tree and decoding what the files
// say. Real books never carry the sentinel and are left alone.
package adopt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
)

// Options controls one adoption scan.
type Options struct {
	// BaseDir is the library root to walk.
	BaseDir string

	// DryRun counts what a scan would adopt without registering anything
	// or persisting the store.
	DryRun bool

	// Backup snapshots the store file with a timestamp suffix before the
	// scan mutates it. Ignored under DryRun.
	Backup bool
}

// Result reports what one scan found.
type Result struct {
	// Scanned counts regular files examined.
	Scanned int `json:"scanned"`

	// Adopted counts placeholders registered, or that would have been
	// under DryRun.
	Adopted int `json:"adopted"`

	// Skipped counts files already tracked plus real books.
	Skipped int `json:"skipped"`

	// BackupCreated is the snapshot path, empty when no backup was taken.
	BackupCreated string `json:"backup_created,omitempty"`

	// Errors holds per-file failures; they never abort the scan.
	Errors []string `json:"errors,omitempty"`
}

// Summary renders the result as a one-line report.
func (r *Result) Summary() string {
	return fmt.Sprintf("scanned=%d adopted=%d skipped=%d errors=%d",
		r.Scanned, r.Adopted, r.Skipped, len(r.Errors))
}

// Scanner walks a library tree adopting untracked placeholders.
type Scanner struct {
	store     *store.Store
	codec     *codec.Codec
	datastore index.Datastore
	logger    *log.Logger
}

// NewScanner creates a Scanner over the given store. The store must
// already be loaded. datastore may be nil; when set, adopted placeholders
// are indexed best-effort after the scan. If logger is nil, a default
// logger writing to stderr is used.
func NewScanner(st *store.Store, c *codec.Codec, datastore index.Datastore, logger *log.Logger) (*Scanner, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[adopt] ", log.LstdFlags)
	}
	return &Scanner{store: st, codec: c, datastore: datastore, logger: logger}, nil
}

// Scan walks opts.BaseDir and registers every untracked placeholder from
// its embedded metadata. The store is persisted once at the end, after the
// whole tree has been seen.
//
// Per-file trouble is collected in Result.Errors and never stops the walk.
// The error return is reserved for aborts: a bad base dir, context
// cancellation, or store persistence failure.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	base, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir: %w", err)
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("base dir does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base dir %s is not a directory", base)
	}

	result := &Result{}

	if opts.Backup && !opts.DryRun {
		backupPath, err := s.backupStore()
		if err != nil {
			return nil, fmt.Errorf("failed to back up store: %w", err)
		}
		result.BackupCreated = backupPath
	}

	var adopted []index.Record
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("walk %s: %v", path, err))
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// Hidden entries include the state directory; never descend.
		if strings.HasPrefix(d.Name(), ".") && path != base {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Symlinks (recently-added shortcuts) are not library content.
		if !d.Type().IsRegular() {
			return nil
		}

		result.Scanned++

		if _, ok := s.store.Get(path); ok {
			result.Skipped++
			return nil
		}
		isPlaceholder, err := s.codec.IsPlaceholder(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to inspect %s: %v", path, err))
			return nil
		}
		if !isPlaceholder {
			result.Skipped++
			return nil
		}
		meta, err := s.codec.DecodeFile(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to decode placeholder %s: %v", path, err))
			return nil
		}

		result.Adopted++
		if opts.DryRun {
			return nil
		}
		s.store.Put(path, meta)
		adopted = append(adopted, index.RecordFrom(path, meta, true))
		s.logger.Printf("Adopted placeholder: %s (%s)", path, meta.Title)
		return nil
	})
	if walkErr != nil {
		return result, walkErr
	}

	if opts.DryRun {
		s.logger.Printf("Dry run: would adopt %d of %d scanned files", result.Adopted, result.Scanned)
		return result, nil
	}
	if len(adopted) > 0 {
		if err := s.store.Persist(); err != nil {
			return result, fmt.Errorf("failed to persist store: %w", err)
		}
		s.indexAdopted(ctx, adopted)
	}
	s.logger.Printf("Adoption scan complete: %s", result.Summary())
	return result, nil
}

// backupStore copies the store file aside. A store never yet persisted has
// nothing to snapshot.
func (s *Scanner) backupStore() (string, error) {
	src := s.store.Path()
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	backupPath := src + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", err
	}
	s.logger.Printf("Store backed up to %s", backupPath)
	return backupPath, nil
}

// indexAdopted records adoptions in the search index. The index is derived
// data, so a failure is logged and swallowed.
func (s *Scanner) indexAdopted(ctx context.Context, recs []index.Record) {
	if s.datastore == nil {
		return
	}
	if err := s.datastore.IndexBatch(ctx, recs); err != nil {
		s.logger.Printf("WARNING: Failed to index %d adopted placeholders: %v", len(recs), err)
	}
}
