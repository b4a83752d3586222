package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/mirror/store"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func strPtr(s string) *string {
	return &s
}

// duneBook is the canonical series book used across the scenarios. Its
// placeholder lands at <base>/Herbert/Dune/001_Herbert_-_Dune.epub.
func duneBook() catalog.Book {
	return catalog.Book{
		ID:          "1",
		Title:       "Dune",
		Author:      "Herbert",
		Series:      strPtr("Dune"),
		SeriesIndex: strPtr("1"),
		DownloadURL: "https://library.test/download/1",
		Format:      "EPUB",
	}
}

func solarisBook() catalog.Book {
	return catalog.Book{
		ID:          "2",
		Title:       "Solaris",
		Author:      "Lem",
		DownloadURL: "https://library.test/download/2",
		Format:      "EPUB",
	}
}

// newTestMirror wires a reconciler over a fresh store rooted in a temp dir.
func newTestMirror(t *testing.T) (Reconciler, *store.Store, string) {
	t.Helper()
	base := t.TempDir()
	st := store.New(filepath.Join(base, ".shelfmark", "store.json"), testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	rec, err := New(st, codec.NewCodec(), Config{BaseDir: base}, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return rec, st, base
}

func TestNew_ValidatesConfig(t *testing.T) {
	st := store.New(filepath.Join(t.TempDir(), "store.json"), testLogger())

	if _, err := New(st, codec.NewCodec(), Config{}, testLogger()); err == nil {
		t.Errorf("New() with empty base dir error = nil, want error")
	}
	if _, err := New(st, codec.NewCodec(), Config{BaseDir: "/tmp/x", PersistEvery: -1}, testLogger()); err == nil {
		t.Errorf("New() with negative PersistEvery error = nil, want error")
	}
}

func TestReconcile_CreatesPlaceholder(t *testing.T) {
	rec, st, base := newTestMirror(t)

	result, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Created != 1 || result.Updated != 0 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("Reconcile() = %s, want created=1 and nothing else", result.Summary())
	}

	want := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	isPlaceholder, err := codec.NewCodec().IsPlaceholder(want)
	if err != nil {
		t.Fatalf("IsPlaceholder() error = %v", err)
	}
	if !isPlaceholder {
		t.Errorf("IsPlaceholder(%s) = false, want true", want)
	}

	meta, ok := st.Get(want)
	if !ok {
		t.Fatalf("Get(%s) = false, want store entry", want)
	}
	if meta.BookID != "1" || meta.Title != "Dune" {
		t.Errorf("stored metadata = %+v, want book 1 (Dune)", meta)
	}

	// The pass persists: a fresh store sees the entry.
	reloaded := store.New(st.Path(), testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("reloaded store Len() = %d, want 1", reloaded.Len())
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	rec, _, base := newTestMirror(t)
	books := []catalog.Book{duneBook(), solarisBook()}

	if _, err := rec.Reconcile(context.Background(), books); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	result, err := rec.Reconcile(context.Background(), books)
	if err != nil {
		t.Fatalf("Reconcile() second pass error = %v", err)
	}
	if result.Skipped != 2 || result.Created != 0 || result.Updated != 0 || result.DeletedOrphans != 0 {
		t.Errorf("second pass = %s, want skipped=2 and nothing else", result.Summary())
	}

	dunePath := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	if _, err := os.Stat(dunePath); err != nil {
		t.Errorf("placeholder missing after second pass: %v", err)
	}
}

func TestReconcile_RemovesOrphans(t *testing.T) {
	rec, st, base := newTestMirror(t)

	if _, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook(), solarisBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.DeletedOrphans != 1 {
		t.Errorf("DeletedOrphans = %d, want 1", result.DeletedOrphans)
	}

	solarisPath := filepath.Join(base, "Lem", "standalones", "Lem_-_Solaris.epub")
	if _, err := os.Stat(solarisPath); !os.IsNotExist(err) {
		t.Errorf("orphan file still present at %s", solarisPath)
	}
	if _, _, ok := st.FindByBookID("2"); ok {
		t.Errorf("FindByBookID(2) = true, want orphan entry removed")
	}
	if _, _, ok := st.FindByBookID("1"); !ok {
		t.Errorf("FindByBookID(1) = false, want surviving entry")
	}
}

func TestReconcile_MovesOnMetadataChange(t *testing.T) {
	rec, st, base := newTestMirror(t)

	if _, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	moved := duneBook()
	moved.SeriesIndex = strPtr("2")
	result, err := rec.Reconcile(context.Background(), []catalog.Book{moved})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Updated != 1 || result.Created != 0 {
		t.Errorf("Reconcile() = %s, want updated=1", result.Summary())
	}

	oldPath := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	newPath := filepath.Join(base, "Herbert", "Dune", "002_Herbert_-_Dune.epub")
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("outdated placeholder still present at %s", oldPath)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("recomputed placeholder missing: %v", err)
	}
	if _, ok := st.Get(oldPath); ok {
		t.Errorf("Get(%s) = true, want entry moved away", oldPath)
	}
	meta, ok := st.Get(newPath)
	if !ok {
		t.Fatalf("Get(%s) = false, want moved entry", newPath)
	}
	if meta.SeriesIndex == nil || *meta.SeriesIndex != "2" {
		t.Errorf("moved entry series_index = %v, want 2", meta.SeriesIndex)
	}
}

func TestReconcile_RecreatesMissingFile(t *testing.T) {
	rec, st, base := newTestMirror(t)

	if _, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	path := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	if err := os.Remove(path); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Reconcile() = %s, want created=1", result.Summary())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("placeholder not recreated at the stored path: %v", err)
	}
	if st.Len() != 1 {
		t.Errorf("store Len() = %d, want 1", st.Len())
	}
}

func TestReconcile_AdoptsUntrackedPlaceholder(t *testing.T) {
	rec, st, base := newTestMirror(t)

	// A placeholder already on disk that the store has no entry for.
	path := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	data, err := codec.NewCodec().Encode(codec.MetadataFromBook(duneBook()))
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Skipped != 1 || result.Created != 0 {
		t.Errorf("Reconcile() = %s, want skipped=1", result.Summary())
	}
	if _, ok := st.Get(path); !ok {
		t.Errorf("Get(%s) = false, want adopted entry", path)
	}
}

func TestReconcile_NeverClobbersRealFile(t *testing.T) {
	rec, st, base := newTestMirror(t)

	// A real download occupying the exact target path.
	path := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	realBytes := []byte("PK\x03\x04 not a placeholder, an actual epub")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.WriteFile(path, realBytes, 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Skipped != 1 || result.Created != 0 || result.Failed != 0 {
		t.Errorf("Reconcile() = %s, want skipped=1", result.Summary())
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(realBytes) {
		t.Errorf("real file was modified: got %q", got)
	}
	// Never recorded: an entry would mark the download for deletion later.
	if st.Len() != 0 {
		t.Errorf("store Len() = %d, want 0", st.Len())
	}
}

func TestReconcile_OrphanRefusesNonPlaceholder(t *testing.T) {
	rec, st, base := newTestMirror(t)

	// An entry pointing at real bytes, perhaps from a crashed swap. The
	// orphan pass must not delete the file.
	path := filepath.Join(base, "Lem", "standalones", "Lem_-_Solaris.epub")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("real bytes"), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	st.Put(path, codec.MetadataFromBook(solarisBook()))

	result, err := rec.Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.DeletedOrphans != 0 || result.Failed != 1 {
		t.Errorf("Reconcile() = %s, want failed=1 orphans_deleted=0", result.Summary())
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", result.Errors)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("real file was deleted: %v", err)
	}
}

func TestReconcile_FailureDoesNotAbortPass(t *testing.T) {
	rec, _, base := newTestMirror(t)

	invalid := catalog.Book{ID: "bad", Title: "No Author", DownloadURL: "https://library.test/download/bad"}
	result, err := rec.Reconcile(context.Background(), []catalog.Book{invalid, duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Failed != 1 || result.Created != 1 {
		t.Errorf("Reconcile() = %s, want failed=1 created=1", result.Summary())
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", result.Errors)
	}

	dunePath := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	if _, err := os.Stat(dunePath); err != nil {
		t.Errorf("valid book not reconciled after failure: %v", err)
	}
}

func TestReconcile_DryRun(t *testing.T) {
	rec, st, base := newTestMirror(t)

	if _, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook(), solarisBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	dryRec, err := New(st, codec.NewCodec(), Config{BaseDir: base, DryRun: true}, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// Solaris becomes an orphan, Dune moves to index 2, book 3 is new.
	moved := duneBook()
	moved.SeriesIndex = strPtr("2")
	fresh := catalog.Book{ID: "3", Title: "Roadside Picnic", Author: "Strugatsky", DownloadURL: "https://library.test/download/3"}

	result, err := dryRec.Reconcile(context.Background(), []catalog.Book{moved, fresh})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.DeletedOrphans != 1 || result.Updated != 1 || result.Created != 1 {
		t.Errorf("dry run = %s, want orphans_deleted=1 updated=1 created=1", result.Summary())
	}

	// Nothing actually changed.
	for _, path := range []string{
		filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub"),
		filepath.Join(base, "Lem", "standalones", "Lem_-_Solaris.epub"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("dry run touched disk, %s missing: %v", path, err)
		}
	}
	if _, err := os.Stat(filepath.Join(base, "Strugatsky", "standalones", "Strugatsky_-_Roadside Picnic.epub")); !os.IsNotExist(err) {
		t.Errorf("dry run wrote a new placeholder")
	}
	if st.Len() != 2 {
		t.Errorf("store Len() = %d, want 2 untouched entries", st.Len())
	}
}

func TestReconcile_ContextCancellation(t *testing.T) {
	rec, _, _ := newTestMirror(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := rec.Reconcile(ctx, []catalog.Book{duneBook()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Reconcile() error = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatalf("Reconcile() result = nil, want partial result")
	}
	if result.Created != 0 {
		t.Errorf("Created = %d, want 0 after cancellation", result.Created)
	}
}

func TestReconcile_ReportsProgress(t *testing.T) {
	base := t.TempDir()
	st := store.New(filepath.Join(base, ".shelfmark", "store.json"), testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	var last Progress
	cfg := Config{BaseDir: base, OnProgress: func(p Progress) { last = p }}
	rec, err := New(st, codec.NewCodec(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if _, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook(), solarisBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if last.Phase != "books" || last.Done != 2 || last.Total != 2 {
		t.Errorf("final progress = %+v, want books 2/2", last)
	}
}

func TestReconcile_UpdatesIndex(t *testing.T) {
	base := t.TempDir()
	st := store.New(filepath.Join(base, ".shelfmark", "store.json"), testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	ds, err := index.New(index.BackendSQLite)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := ds.Initialize(filepath.Join(base, ".shelfmark", "index.db")); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	t.Cleanup(func() { ds.Close() })

	rec, err := New(st, codec.NewCodec(), Config{BaseDir: base, Index: ds}, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	ctx := context.Background()
	if _, err := rec.Reconcile(ctx, []catalog.Book{duneBook(), solarisBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	stats, err := ds.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.Placeholders != 2 {
		t.Errorf("index stats = %+v, want 2 placeholder records", stats)
	}

	// A metadata move re-keys the record; the dropped book leaves the index.
	moved := duneBook()
	moved.SeriesIndex = strPtr("2")
	if _, err := rec.Reconcile(ctx, []catalog.Book{moved}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	paths, err := ds.GetAllPaths(ctx)
	if err != nil {
		t.Fatalf("GetAllPaths() error = %v", err)
	}
	want := filepath.Join(base, "Herbert", "Dune", "002_Herbert_-_Dune.epub")
	if len(paths) != 1 || paths[0] != want {
		t.Errorf("indexed paths = %v, want [%s]", paths, want)
	}
}

// failingIndex errors on the two methods the engine calls. The embedded
// interface covers the rest.
type failingIndex struct {
	index.Datastore
}

func (failingIndex) IndexBatch(context.Context, []index.Record) error {
	return errors.New("index unavailable")
}

func (failingIndex) Delete(context.Context, string) error {
	return errors.New("index unavailable")
}

func TestReconcile_IndexFailureIsNotFatal(t *testing.T) {
	base := t.TempDir()
	st := store.New(filepath.Join(base, ".shelfmark", "store.json"), testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	rec, err := New(st, codec.NewCodec(), Config{BaseDir: base, Index: failingIndex{}}, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Created != 1 || result.Failed != 0 {
		t.Errorf("Reconcile() = %s, want created=1 despite index failures", result.Summary())
	}
	if _, err := os.Stat(filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")); err != nil {
		t.Errorf("placeholder missing after pass with failing index: %v", err)
	}
}

func TestRepairPath(t *testing.T) {
	rec, _, base := newTestMirror(t)

	if _, err := rec.Reconcile(context.Background(), []catalog.Book{duneBook()}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	path := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")

	// File intact: nothing to repair.
	repaired, err := rec.RepairPath(context.Background(), path)
	if err != nil {
		t.Fatalf("RepairPath() error = %v", err)
	}
	if repaired {
		t.Errorf("RepairPath() = true for intact file, want false")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	repaired, err = rec.RepairPath(context.Background(), path)
	if err != nil {
		t.Fatalf("RepairPath() error = %v", err)
	}
	if !repaired {
		t.Errorf("RepairPath() = false, want true")
	}
	isPlaceholder, err := codec.NewCodec().IsPlaceholder(path)
	if err != nil {
		t.Fatalf("IsPlaceholder() error = %v", err)
	}
	if !isPlaceholder {
		t.Errorf("repaired file is not a placeholder")
	}

	// Unknown paths are not ours to repair.
	repaired, err = rec.RepairPath(context.Background(), filepath.Join(base, "nope.epub"))
	if err != nil {
		t.Fatalf("RepairPath() error = %v", err)
	}
	if repaired {
		t.Errorf("RepairPath() = true for untracked path, want false")
	}
}

func TestAdoptPath(t *testing.T) {
	rec, st, base := newTestMirror(t)

	path := filepath.Join(base, "Herbert", "Dune", "001_Herbert_-_Dune.epub")
	data, err := codec.NewCodec().Encode(codec.MetadataFromBook(duneBook()))
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	adopted, err := rec.AdoptPath(context.Background(), path)
	if err != nil {
		t.Fatalf("AdoptPath() error = %v", err)
	}
	if !adopted {
		t.Errorf("AdoptPath() = false, want true")
	}
	meta, ok := st.Get(path)
	if !ok {
		t.Fatalf("Get(%s) = false, want adopted entry", path)
	}
	if meta.BookID != "1" {
		t.Errorf("adopted book_id = %s, want 1", meta.BookID)
	}

	// Already tracked: a second adoption is a no-op.
	adopted, err = rec.AdoptPath(context.Background(), path)
	if err != nil {
		t.Fatalf("AdoptPath() error = %v", err)
	}
	if adopted {
		t.Errorf("AdoptPath() = true for tracked path, want false")
	}

	// Real files are never adopted.
	realPath := filepath.Join(base, "real.epub")
	if err := os.WriteFile(realPath, []byte("real bytes"), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	adopted, err = rec.AdoptPath(context.Background(), realPath)
	if err != nil {
		t.Fatalf("AdoptPath() error = %v", err)
	}
	if adopted {
		t.Errorf("AdoptPath() = true for real file, want false")
	}

	adopted, err = rec.AdoptPath(context.Background(), filepath.Join(base, "missing.epub"))
	if err == nil {
		t.Errorf("AdoptPath() error = nil for missing file, want error")
	}
	if adopted {
		t.Errorf("AdoptPath() = true for missing file, want false")
	}
}
