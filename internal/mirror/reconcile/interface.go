// Package reconcile drives the library toward the remote catalog: one
// placeholder per remote book, orphans removed, real downloads untouched.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// Reconciler converges the on-disk library and the placeholder store with a
// remote catalog listing.
//
// The reconciler is resilient: individual book failures are counted and
// reported but never abort a pass. A second pass over unchanged input is a
// no-op (all skipped).
type Reconciler interface {
	// Reconcile runs a full pass against the given catalog listing.
	//
	// The pass has two phases. First, orphan removal: every store entry
	// whose book no longer exists in the catalog is deleted from disk and
	// dropped from the store (the remote is authoritative for existence).
	// Second, the per-book pass: each catalog book is created, updated,
	// adopted or skipped according to the state of the store and the
	// filesystem. A real (non-placeholder) file at a book's path is never
	// modified or recorded for deletion.
	//
	// The store is persisted after the orphan phase, periodically during
	// the per-book phase, and once at the end, so a crash loses at most a
	// bounded amount of progress.
	//
	// Returns the pass counts plus per-item error strings. The error
	// return is reserved for aborts (context cancellation, store
	// persistence failure); per-book trouble lands in Result.Failed.
	Reconcile(ctx context.Context, books []catalog.Book) (*Result, error)

	// RepairPath recreates the placeholder for a path whose store entry
	// exists but whose file has gone missing (external deletion).
	// Returns false when the path has no store entry, or when the file
	// turned out to still exist.
	RepairPath(ctx context.Context, path string) (bool, error)

	// AdoptPath records an existing placeholder file that the store does
	// not know about, using the metadata embedded in the file itself.
	// Returns false when the path is already known or is not a
	// placeholder document.
	AdoptPath(ctx context.Context, path string) (bool, error)
}

// Result carries the counts of one reconciliation pass.
type Result struct {
	// ===== Per-Book Outcomes =====
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// ===== Orphan Phase =====
	DeletedOrphans int `json:"deleted_orphans"`

	// ===== Diagnostics =====
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary renders the result as a one-line report.
func (r *Result) Summary() string {
	return fmt.Sprintf("created=%d updated=%d skipped=%d failed=%d orphans_deleted=%d in %s",
		r.Created, r.Updated, r.Skipped, r.Failed, r.DeletedOrphans, r.Duration.Round(time.Millisecond))
}

// Progress reports how far a reconciliation pass has gotten. Total covers
// the per-book phase; the orphan phase reports with Phase "orphans".
type Progress struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Config controls a reconciliation engine.
type Config struct {
	// BaseDir is the library root placeholders are derived under.
	BaseDir string

	// PersistEvery is how many books are processed between store flushes
	// during the per-book phase. Zero means the default of 25.
	PersistEvery int

	// DryRun counts what a pass would do without touching the filesystem
	// or persisting the store.
	DryRun bool

	// Index, when set, receives a record update for every store mutation
	// the pass makes. The index is derived data, so an index failure is
	// logged and never fails the pass.
	Index index.Datastore

	// OnProgress, when set, is invoked as the pass advances. It must be
	// fast; a slow sink stalls the pass.
	OnProgress func(Progress)
}

// Validate checks if the Config has valid field values.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base dir is required")
	}
	if c.PersistEvery < 0 {
		return fmt.Errorf("persist interval cannot be negative (got %d)", c.PersistEvery)
	}
	return nil
}
