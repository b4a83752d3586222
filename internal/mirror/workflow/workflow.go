// Package workflow replaces one placeholder file with the real book it
// stands for, through a fixed sequence of verified steps. Any failure
// before the swap point leaves the placeholder and its store entry intact;
// after the swap point the real book stays in place no matter what.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/internal/mirror"
	"github.com/shelfmark/shelfmark/internal/mirror/checkpoint"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
)

// State identifies a stage of the download-replace sequence.
type State int

const (
	// StateDetected means the path resolved to a tracked placeholder.
	StateDetected State = iota
	// StateFetching means the download is streaming into a temp file.
	StateFetching
	// StateFetched means the payload arrived and passed the size floor.
	StateFetched
	// StateVerified means the payload is not itself a placeholder.
	StateVerified
	// StateReplaced means the real book now sits where the placeholder was.
	StateReplaced
	// StateCheckpointed means a restart checkpoint was written and a host
	// restart requested.
	StateCheckpointed
	// StateOpened means the book was handed to the open hook instead of
	// requesting a restart.
	StateOpened
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDetected:
		return "detected"
	case StateFetching:
		return "fetching"
	case StateFetched:
		return "fetched"
	case StateVerified:
		return "verified"
	case StateReplaced:
		return "replaced"
	case StateCheckpointed:
		return "checkpointed"
	case StateOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// Fetcher streams a book's content into w and reports the byte count.
// catalog.OPDSClient satisfies it.
type Fetcher interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Cache is the slice of the metadata cache the workflow scrubs after a swap.
type Cache interface {
	InvalidatePattern(match func(string) bool) int
}

// Shortcuts removes secondary references, such as a recently-added link,
// that point at a replaced path.
type Shortcuts interface {
	RemoveFor(path string) error
}

// Index receives the post-swap record update that flips a path from
// placeholder to downloaded. index.Datastore satisfies it.
type Index interface {
	IndexBatch(ctx context.Context, batch []index.Record) error
}

// DefaultMinBookSize is the smallest payload accepted as a real book.
// Anything under 10 KiB is assumed to be an error page or a stub.
const DefaultMinBookSize = 10 * 1024

const (
	defaultDeleteRetries    = 5
	defaultDeleteRetryDelay = 100 * time.Millisecond
)

// Config tunes one Workflow and wires its optional collaborators.
type Config struct {
	// MinBookSize is the smallest payload accepted as a real book, in
	// bytes. Zero means DefaultMinBookSize.
	MinBookSize int64

	// DeleteRetries bounds attempts to remove a placeholder that a reader
	// may transiently hold open. Zero means 5.
	DeleteRetries int

	// DeleteRetryDelay is the backoff after a failed delete attempt,
	// doubling each time. Zero means 100ms.
	DeleteRetryDelay time.Duration

	// Cache, when set, has entries referencing the replaced path removed
	// after the swap.
	Cache Cache

	// Shortcuts, when set, has references to the replaced path removed
	// after the swap.
	Shortcuts Shortcuts

	// Index, when set, has the replaced path re-recorded as downloaded
	// content after the swap. Best-effort; an index failure never fails
	// the run.
	Index Index

	// Restart requests a host process restart after the checkpoint is
	// written. When nil the workflow falls back to Open.
	Restart func(ctx context.Context) error

	// Open hands the finished book to a viewer when no restart facility
	// is wired. May be nil.
	Open func(ctx context.Context, path string) error

	// OnState observes each state transition. May be nil.
	OnState func(State)
}

// Result describes one completed replacement.
type Result struct {
	// State is the terminal state reached, StateCheckpointed or StateOpened.
	State State

	// BookPath is the final absolute path of the real book.
	BookPath string

	// FolderPath is the directory containing the book.
	FolderPath string

	// BytesFetched counts payload bytes written to disk.
	BytesFetched int64

	// RestartRequested is true when the host restart hook was invoked.
	RestartRequested bool

	// Duration covers detection through handoff.
	Duration time.Duration
}

// Workflow drives placeholder replacement. One instance serves many calls;
// each Run handles a single placeholder.
type Workflow struct {
	store       *store.Store
	codec       *codec.Codec
	checkpoints *checkpoint.Manager
	fetcher     Fetcher
	cfg         Config
	logger      *log.Logger
	nowFn       func() time.Time
}

// New creates a Workflow over the given store and fetcher. checkpoints is
// required only when cfg.Restart is wired. If logger is nil, a default
// logger writing to stderr is used.
func New(st *store.Store, c *codec.Codec, checkpoints *checkpoint.Manager, fetcher Fetcher, cfg Config, logger *log.Logger) (*Workflow, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Restart != nil && checkpoints == nil {
		return nil, fmt.Errorf("checkpoint manager is required when a restart hook is wired")
	}
	if cfg.MinBookSize < 0 {
		return nil, fmt.Errorf("min book size must not be negative (got %d)", cfg.MinBookSize)
	}
	if cfg.MinBookSize == 0 {
		cfg.MinBookSize = DefaultMinBookSize
	}
	if cfg.DeleteRetries <= 0 {
		cfg.DeleteRetries = defaultDeleteRetries
	}
	if cfg.DeleteRetryDelay <= 0 {
		cfg.DeleteRetryDelay = defaultDeleteRetryDelay
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[workflow] ", log.LstdFlags)
	}
	return &Workflow{
		store:       st,
		codec:       c,
		checkpoints: checkpoints,
		fetcher:     fetcher,
		cfg:         cfg,
		logger:      logger,
		nowFn:       time.Now,
	}, nil
}

// Run replaces the placeholder at path with the book it stands for.
//
// The sequence is: detect the tracked placeholder, fetch into a uniquely
// named temp file, check the size floor, verify the payload is not itself
// a placeholder, swap it into place, scrub caches and shortcuts, then
// either checkpoint and request a host restart or open the book directly.
// A failure at any step before the swap aborts with the placeholder
// untouched and the temp file removed.
func (w *Workflow) Run(ctx context.Context, path string) (*Result, error) {
	start := w.nowFn()

	canonical, meta, err := w.detect(path)
	if err != nil {
		return nil, err
	}
	w.transition(StateDetected)
	w.logger.Printf("Replacing placeholder: %s (%s)", canonical, meta.Title)

	w.transition(StateFetching)
	tempPath, n, err := w.fetch(ctx, canonical, meta.DownloadURL)
	if err != nil {
		return nil, err
	}

	if err := w.checkSize(tempPath); err != nil {
		return nil, err
	}
	w.transition(StateFetched)

	if err := w.verify(tempPath); err != nil {
		return nil, err
	}
	w.transition(StateVerified)

	if err := w.replace(ctx, canonical, tempPath); err != nil {
		return nil, err
	}
	w.transition(StateReplaced)

	w.invalidate(ctx, canonical, meta)

	result := &Result{
		State:        StateReplaced,
		BookPath:     canonical,
		FolderPath:   filepath.Dir(canonical),
		BytesFetched: n,
	}
	w.handoff(ctx, result)
	result.Duration = w.nowFn().Sub(start)
	w.logger.Printf("Replacement complete: %s (%d bytes, %s)", canonical, n, result.State)
	return result, nil
}

// detect resolves the caller's path to its canonical form and confirms it
// is a tracked placeholder. An entry pointing at real bytes means the store
// has diverged from disk; the file is refused rather than risked.
func (w *Workflow) detect(path string) (string, codec.Metadata, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return "", codec.Metadata{}, fmt.Errorf("failed to resolve %s: %w", path, mirror.ErrNotAPlaceholder)
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	meta, ok := w.store.Get(canonical)
	if !ok {
		return "", codec.Metadata{}, fmt.Errorf("no store entry for %s: %w", canonical, mirror.ErrNotAPlaceholder)
	}
	isPlaceholder, err := w.codec.IsPlaceholder(canonical)
	if err != nil {
		return "", codec.Metadata{}, fmt.Errorf("failed to inspect %s: %v: %w", canonical, err, mirror.ErrNotAPlaceholder)
	}
	if !isPlaceholder {
		return "", codec.Metadata{}, fmt.Errorf("%s holds real content: %w", canonical, mirror.ErrNotAPlaceholder)
	}
	return canonical, meta, nil
}

// fetch streams the download into a uniquely named temp file in the
// placeholder's directory. The name never collides with the final name, so
// an interrupted fetch leaves the placeholder untouched.
func (w *Workflow) fetch(ctx context.Context, canonical, url string) (string, int64, error) {
	tempPath := filepath.Join(filepath.Dir(canonical), fmt.Sprintf(
		".%s.%d.%s.download",
		filepath.Base(canonical), w.nowFn().UnixNano(), uuid.New().String()[:8]))

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file %s: %v: %w", tempPath, err, mirror.ErrFilesystem)
	}

	n, err := w.fetcher.Download(ctx, url, f)
	closeErr := f.Close()
	if err != nil {
		w.removeTemp(tempPath)
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("download failed: %v: %w", err, mirror.ErrNetwork)
	}
	if closeErr != nil {
		w.removeTemp(tempPath)
		return "", 0, fmt.Errorf("failed to finish temp file %s: %v: %w", tempPath, closeErr, mirror.ErrFilesystem)
	}
	return tempPath, n, nil
}

// checkSize rejects payloads below the minimum plausible book size.
func (w *Workflow) checkSize(tempPath string) error {
	info, err := os.Stat(tempPath)
	if err != nil {
		w.removeTemp(tempPath)
		return fmt.Errorf("failed to stat download: %v: %w", err, mirror.ErrFilesystem)
	}
	if info.Size() < w.cfg.MinBookSize {
		w.removeTemp(tempPath)
		return fmt.Errorf("download is %d bytes, below the %d byte minimum: %w",
			info.Size(), w.cfg.MinBookSize, mirror.ErrInvalidDownload)
	}
	return nil
}

// verify guards against an upstream that answers with a placeholder-shaped
// document instead of book content.
func (w *Workflow) verify(tempPath string) error {
	isPlaceholder, err := w.codec.IsPlaceholder(tempPath)
	if err != nil {
		w.removeTemp(tempPath)
		return fmt.Errorf("failed to inspect download: %v: %w", err, mirror.ErrFilesystem)
	}
	if isPlaceholder {
		w.removeTemp(tempPath)
		return fmt.Errorf("upstream answered with a placeholder document: %w", mirror.ErrServerReturnedPlaceholder)
	}
	return nil
}

// replace swaps the verified download into the placeholder's path. The
// placeholder must be confirmed gone before the rename: never two copies,
// and never zero.
func (w *Workflow) replace(ctx context.Context, canonical, tempPath string) error {
	if err := w.deleteConfirmed(ctx, canonical); err != nil {
		w.removeTemp(tempPath)
		return err
	}
	if err := os.Rename(tempPath, canonical); err != nil {
		// The placeholder is gone, so the temp file holds the only copy.
		// Keep it for manual recovery.
		return fmt.Errorf("failed to move download into place (content preserved at %s): %v: %w",
			tempPath, err, mirror.ErrFilesystem)
	}

	w.store.Remove(canonical)
	if err := w.store.Persist(); err != nil {
		w.logger.Printf("WARNING: Failed to persist store after replacement: %v", err)
	}
	return nil
}

// deleteConfirmed removes the placeholder with bounded retries and re-stats
// to confirm absence. A reader may hold the file open transiently.
func (w *Workflow) deleteConfirmed(ctx context.Context, path string) error {
	delay := w.cfg.DeleteRetryDelay
	for attempt := 1; attempt <= w.cfg.DeleteRetries; attempt++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				return nil
			}
		}
		if attempt == w.cfg.DeleteRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("placeholder %s still present after %d delete attempts: %w",
		path, w.cfg.DeleteRetries, mirror.ErrFilesystem)
}

// invalidate scrubs cached lookups and secondary references to the path,
// then flips its index record from placeholder to downloaded. Failures here
// are logged, not surfaced; the swap already happened.
func (w *Workflow) invalidate(ctx context.Context, path string, meta codec.Metadata) {
	if w.cfg.Cache != nil {
		n := w.cfg.Cache.InvalidatePattern(func(key string) bool {
			return strings.Contains(key, path)
		})
		if n > 0 {
			w.logger.Printf("Invalidated %d cache entries for %s", n, path)
		}
	}
	if w.cfg.Shortcuts != nil {
		if err := w.cfg.Shortcuts.RemoveFor(path); err != nil {
			w.logger.Printf("WARNING: Failed to remove shortcut for %s: %v", path, err)
		}
	}
	if w.cfg.Index != nil {
		rec := index.RecordFrom(path, meta, false)
		if err := w.cfg.Index.IndexBatch(ctx, []index.Record{rec}); err != nil {
			w.logger.Printf("WARNING: Failed to update index for %s: %v", path, err)
		}
	}
}

// handoff finishes the run: checkpoint and request a host restart when one
// is wired, otherwise open the book in place. A checkpoint written for a
// restart that never happens ages out of the freshness window on its own.
func (w *Workflow) handoff(ctx context.Context, result *Result) {
	if w.cfg.Restart != nil {
		if err := w.checkpoints.Write(result.FolderPath, result.BookPath); err != nil {
			w.logger.Printf("WARNING: Failed to write restart checkpoint: %v", err)
		}
		if err := w.cfg.Restart(ctx); err != nil {
			w.logger.Printf("WARNING: Restart request failed, opening in place: %v", err)
		} else {
			result.State = StateCheckpointed
			result.RestartRequested = true
			w.transition(StateCheckpointed)
			return
		}
	}

	if w.cfg.Open != nil {
		if err := w.cfg.Open(ctx, result.BookPath); err != nil {
			w.logger.Printf("WARNING: Failed to open %s: %v", result.BookPath, err)
		}
	}
	result.State = StateOpened
	w.transition(StateOpened)
}

func (w *Workflow) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Printf("WARNING: Failed to remove temp file %s: %v", path, err)
	}
}

func (w *Workflow) transition(s State) {
	if w.cfg.OnState != nil {
		w.cfg.OnState(s)
	}
}
