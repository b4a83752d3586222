package settings

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st := New(filepath.Join(t.TempDir(), "settings.toml"), testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return st
}

func TestStore_SetGet(t *testing.T) {
	st := newTestStore(t)

	if err := st.Set("kindle_email", "reader@kindle.com"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := st.Set("preferred_format", "epub"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := st.Get("kindle_email")
	if !ok || got != "reader@kindle.com" {
		t.Errorf("Get(kindle_email) = %q, %v, want reader@kindle.com, true", got, ok)
	}
	if _, ok := st.Get("missing"); ok {
		t.Errorf("Get(missing) = true, want false")
	}

	if err := st.Set("", "x"); err == nil {
		t.Errorf("Set() with empty key error = nil, want error")
	}
}

func TestStore_PersistsAcrossLoads(t *testing.T) {
	st := newTestStore(t)
	if err := st.Set("kindle_email", "reader@kindle.com"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reloaded := New(st.Path(), testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, ok := reloaded.Get("kindle_email")
	if !ok || got != "reader@kindle.com" {
		t.Errorf("reloaded Get(kindle_email) = %q, %v, want persisted value", got, ok)
	}

	// The file stays hand-editable TOML.
	data, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `kindle_email = "reader@kindle.com"`) {
		t.Errorf("settings file = %q, want a plain TOML assignment", data)
	}
}

func TestStore_Delete(t *testing.T) {
	st := newTestStore(t)
	if err := st.Set("kindle_email", "reader@kindle.com"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := st.Delete("kindle_email"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := st.Get("kindle_email"); ok {
		t.Errorf("Get() = true after Delete(), want false")
	}

	reloaded := New(st.Path(), testLogger())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := reloaded.Get("kindle_email"); ok {
		t.Errorf("deleted key survived a reload")
	}

	// Absent key: quiet no-op.
	if err := st.Delete("missing"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
}

func TestStore_AllReturnsCopy(t *testing.T) {
	st := newTestStore(t)
	if err := st.Set("a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	all := st.All()
	if len(all) != 1 || all["a"] != "1" {
		t.Errorf("All() = %v, want map[a:1]", all)
	}
	all["a"] = "mutated"
	if got, _ := st.Get("a"); got != "1" {
		t.Errorf("mutating All() result changed the store: Get(a) = %q", got)
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "nope", "settings.toml"), testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Load() of missing file error = %v, want nil", err)
	}
	if len(st.All()) != 0 {
		t.Errorf("All() = %v, want empty", st.All())
	}
}

func TestStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("= this is [not toml"), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	st := New(path, testLogger())
	if err := st.Load(); err == nil {
		t.Errorf("Load() of corrupt file error = nil, want parse error")
	}

	// The corrupt file is untouched, not wiped.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "= this is [not toml" {
		t.Errorf("corrupt file was rewritten: %q", data)
	}
}

func TestStore_ReadsHandEditedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	doc := "# written by hand\nkindle_email = \"reader@kindle.com\"\n\"format.kobo\" = \"kepub\"\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	st := New(path, testLogger())
	if err := st.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, _ := st.Get("kindle_email"); got != "reader@kindle.com" {
		t.Errorf("Get(kindle_email) = %q, want the hand-edited value", got)
	}
	if got, _ := st.Get("format.kobo"); got != "kepub" {
		t.Errorf("Get(format.kobo) = %q, want the quoted dotted key to survive", got)
	}
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	st := newTestStore(t)
	if err := st.Set("a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := os.Stat(st.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind at %s.tmp", st.Path())
	}
}
