package shortcut

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type fakeStrategy struct {
	name      string
	available bool
	err       error
	calls     *[]string
}

func (f fakeStrategy) Name() string    { return f.name }
func (f fakeStrategy) Available() bool { return f.available }

func (f fakeStrategy) Link(target, shortcut string) error {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(shortcut, []byte("linked"), 0644)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeTarget(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("book content for "+name), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return path
}

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(t.TempDir(), "recently-added")
	}
	m, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return m
}

func TestNew_Validation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recently-added")

	if _, err := New(Config{}, testLogger()); err == nil {
		t.Error("New() with empty dir: error = nil, want error")
	}
	if _, err := New(Config{Dir: dir, MaxCount: -1}, testLogger()); err == nil {
		t.Error("New() with negative max count: error = nil, want error")
	}

	_, err := New(Config{Dir: dir, Strategy: "teleport"}, testLogger())
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("New() with unknown strategy: error = %v, want ErrUnknownStrategy", err)
	}

	if !IsRegistered("fake-unavail") {
		Register(fakeStrategy{name: "fake-unavail", available: false})
	}
	_, err = New(Config{Dir: dir, Strategy: "fake-unavail"}, testLogger())
	if !errors.Is(err, ErrStrategyUnavailable) {
		t.Errorf("New() with unavailable strategy: error = %v, want ErrStrategyUnavailable", err)
	}
}

func TestManager_DefaultChain(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink strategy unavailable on windows")
	}
	m := newManager(t, Config{})

	got := m.Strategies()
	want := []string{StrategySymlink, StrategyHardlink, StrategyCopy}
	if len(got) != len(want) {
		t.Fatalf("Strategies() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Strategies()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAdd_SymlinkFirst(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink strategy unavailable on windows")
	}
	base := t.TempDir()
	target := writeTarget(t, base, "Herbert_-_Dune.epub")
	m := newManager(t, Config{})

	path, err := m.Add(target)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if filepath.Base(path) != "Herbert_-_Dune.epub" {
		t.Errorf("shortcut name = %q, want target base name", filepath.Base(path))
	}

	dest, err := os.Readlink(path)
	if err != nil {
		t.Fatalf("shortcut is not a symlink: %v", err)
	}
	if dest != target {
		t.Errorf("Readlink() = %q, want %q", dest, target)
	}
}

func TestAdd_ReplacesExisting(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink strategy unavailable on windows")
	}
	targetA := writeTarget(t, t.TempDir(), "Lem_-_Solaris.epub")
	targetB := writeTarget(t, t.TempDir(), "Lem_-_Solaris.epub")
	m := newManager(t, Config{})

	if _, err := m.Add(targetA); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	path, err := m.Add(targetB)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	dest, err := os.Readlink(path)
	if err != nil {
		t.Fatalf("shortcut is not a symlink: %v", err)
	}
	if dest != targetB {
		t.Errorf("shortcut points at %q, want %q", dest, targetB)
	}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("shortcut directory holds %d entries, want 1", len(entries))
	}
}

func TestAdd_ForcedCopy(t *testing.T) {
	base := t.TempDir()
	target := writeTarget(t, base, "Herbert_-_Dune.epub")
	m := newManager(t, Config{Strategy: StrategyCopy})

	path, err := m.Add(target)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("Lstat failed: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("shortcut is a symlink, want regular file")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(want) {
		t.Error("copied shortcut content differs from target")
	}
}

func TestAdd_ForcedHardlink(t *testing.T) {
	base := t.TempDir()
	target := writeTarget(t, base, "Herbert_-_Dune.epub")
	// Shortcut dir on the same filesystem as the target.
	m := newManager(t, Config{Dir: filepath.Join(base, "recently-added"), Strategy: StrategyHardlink})

	path, err := m.Add(target)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	targetInfo, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	shortcutInfo, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !os.SameFile(targetInfo, shortcutInfo) {
		t.Error("shortcut and target are different files, want hard link")
	}
}

func TestAdd_EnvOverride(t *testing.T) {
	t.Setenv(EnvStrategy, StrategyCopy)
	base := t.TempDir()
	target := writeTarget(t, base, "Lem_-_Solaris.epub")
	m := newManager(t, Config{})

	if got := m.Strategies(); len(got) != 1 || got[0] != StrategyCopy {
		t.Fatalf("Strategies() = %v, want [%s]", got, StrategyCopy)
	}

	path, err := m.Add(target)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("Lstat failed: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("shortcut is a symlink, want copy")
	}
}

func TestAdd_TargetMissing(t *testing.T) {
	m := newManager(t, Config{})

	_, err := m.Add(filepath.Join(t.TempDir(), "ghost.epub"))
	if !errors.Is(err, ErrTargetMissing) {
		t.Errorf("Add() on missing target: error = %v, want ErrTargetMissing", err)
	}

	_, err = m.Add(t.TempDir())
	if !errors.Is(err, ErrTargetMissing) {
		t.Errorf("Add() on directory: error = %v, want ErrTargetMissing", err)
	}
}

func TestAdd_FallsThroughFailingStrategies(t *testing.T) {
	var calls []string
	chain := []Strategy{
		fakeStrategy{name: "first", available: true, err: errors.New("boom"), calls: &calls},
		fakeStrategy{name: "second", available: true, err: errors.New("bang"), calls: &calls},
		fakeStrategy{name: "third", available: true, calls: &calls},
	}
	m, err := newWithChain(Config{Dir: filepath.Join(t.TempDir(), "recently-added")}, chain, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	target := writeTarget(t, t.TempDir(), "book.epub")

	path, err := m.Add(target)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(calls) != len(want) {
		t.Fatalf("strategy calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("strategy calls = %v, want %v", calls, want)
			break
		}
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("shortcut missing after fallback: %v", err)
	}
}

func TestAdd_AllStrategiesFail(t *testing.T) {
	chain := []Strategy{
		fakeStrategy{name: "first", available: true, err: errors.New("boom")},
		fakeStrategy{name: "second", available: true, err: errors.New("bang")},
	}
	m, err := newWithChain(Config{Dir: filepath.Join(t.TempDir(), "recently-added")}, chain, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	target := writeTarget(t, t.TempDir(), "book.epub")

	_, err = m.Add(target)
	if !errors.Is(err, ErrNoStrategy) {
		t.Fatalf("Add() error = %v, want ErrNoStrategy", err)
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("error %q does not name the failed strategies", err)
	}
}

func TestRemoveFor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink strategy unavailable on windows")
	}
	base := t.TempDir()
	dune := writeTarget(t, base, "Herbert_-_Dune.epub")
	solaris := writeTarget(t, base, "Lem_-_Solaris.epub")
	m := newManager(t, Config{})
	if _, err := m.Add(dune); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := m.Add(solaris); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := m.RemoveFor(dune); err != nil {
		t.Fatalf("RemoveFor() error = %v", err)
	}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "Lem_-_Solaris.epub" {
		t.Errorf("shortcut directory holds %d entries, want only the Solaris shortcut", len(entries))
	}

	// Unknown paths and a missing directory are not errors.
	if err := m.RemoveFor(filepath.Join(base, "ghost.epub")); err != nil {
		t.Errorf("RemoveFor() on unknown path: error = %v", err)
	}
	empty := newManager(t, Config{Dir: filepath.Join(t.TempDir(), "never-created")})
	if err := empty.RemoveFor(dune); err != nil {
		t.Errorf("RemoveFor() without directory: error = %v", err)
	}
}

func TestRemoveFor_CopiesMatchByName(t *testing.T) {
	base := t.TempDir()
	target := writeTarget(t, base, "Herbert_-_Dune.epub")
	m := newManager(t, Config{Strategy: StrategyCopy})
	if _, err := m.Add(target); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := m.RemoveFor(target); err != nil {
		t.Fatalf("RemoveFor() error = %v", err)
	}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("shortcut directory holds %d entries, want 0", len(entries))
	}
}

func TestCleanup_RemovesDangling(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink strategy unavailable on windows")
	}
	base := t.TempDir()
	dune := writeTarget(t, base, "Herbert_-_Dune.epub")
	solaris := writeTarget(t, base, "Lem_-_Solaris.epub")
	m := newManager(t, Config{})
	if _, err := m.Add(dune); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := m.Add(solaris); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.Remove(dune); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	removed, err := m.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "Lem_-_Solaris.epub" {
		t.Errorf("shortcut directory holds %d entries, want only the live shortcut", len(entries))
	}
}

func TestCleanup_CopiesOutliveTarget(t *testing.T) {
	base := t.TempDir()
	target := writeTarget(t, base, "book.epub")
	m := newManager(t, Config{Strategy: StrategyCopy})
	if _, err := m.Add(target); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := os.Remove(target); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	removed, err := m.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("Cleanup() = %d, want 0", removed)
	}
}

func TestCleanup_PrunesOldest(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "recently-added")
	adder := newManager(t, Config{Dir: dir, MaxCount: 10, Strategy: StrategyCopy})

	paths := make([]string, 3)
	for i, name := range []string{"a.epub", "b.epub", "c.epub"} {
		target := writeTarget(t, base, name)
		p, err := adder.Add(target)
		if err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		paths[i] = p
	}
	now := time.Now()
	for i, p := range paths {
		mod := now.Add(time.Duration(i-3) * time.Hour)
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}

	pruner := newManager(t, Config{Dir: dir, MaxCount: 2, Strategy: StrategyCopy})
	removed, err := pruner.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Error("oldest shortcut survived the prune")
	}
	for _, p := range paths[1:] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("newer shortcut pruned: %v", err)
		}
	}
}

func TestAdd_PrunesBeyondMaxCount(t *testing.T) {
	base := t.TempDir()
	m := newManager(t, Config{Dir: filepath.Join(base, "recently-added"), MaxCount: 1, Strategy: StrategyCopy})

	first := writeTarget(t, base, "a.epub")
	p1, err := m.Add(first)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(p1, old, old); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	second := writeTarget(t, base, "b.epub")
	p2, err := m.Add(second)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := os.Stat(p1); !os.IsNotExist(err) {
		t.Error("oldest shortcut survived the Add prune")
	}
	if _, err := os.Stat(p2); err != nil {
		t.Errorf("newest shortcut missing: %v", err)
	}
}
