package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := NewJournal(filepath.Join(t.TempDir(), "journal.jsonl"))
	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Errorf("Failed to close journal: %v", err)
		}
	})
	return j
}

// TestJournal_RecordAndRecent verifies that recorded entries come back
// newest first with their fields intact.
func TestJournal_RecordAndRecent(t *testing.T) {
	j := newTestJournal(t)

	ops := []string{JournalReconcile, JournalDownload, JournalRepair}
	for _, op := range ops {
		if err := j.Record(op, "/library/book.epub", "detail for "+op); err != nil {
			t.Fatalf("Record(%s) failed: %v", op, err)
		}
	}

	entries, err := j.Recent(0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	// Newest first: the last recorded op leads.
	if entries[0].Op != JournalRepair {
		t.Errorf("Expected first entry op %s, got %s", JournalRepair, entries[0].Op)
	}
	if entries[2].Op != JournalReconcile {
		t.Errorf("Expected last entry op %s, got %s", JournalReconcile, entries[2].Op)
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Error("Entry should have a non-empty ID")
		}
		if e.Time.IsZero() {
			t.Error("Entry should have a non-zero time")
		}
		if e.Path != "/library/book.epub" {
			t.Errorf("Expected path /library/book.epub, got %s", e.Path)
		}
		if e.Detail != "detail for "+e.Op {
			t.Errorf("Expected detail for %s, got %s", e.Op, e.Detail)
		}
	}
}

// TestJournal_RecentHonorsLimit verifies that limit caps the result.
func TestJournal_RecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)

	for i := 0; i < 5; i++ {
		if err := j.Record(JournalDownload, "", ""); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	entries, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent(2) failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(entries))
	}
}

// TestJournal_RecentBeforeFirstWrite verifies that a journal that has
// never been written to reads as empty, not as an error.
func TestJournal_RecentBeforeFirstWrite(t *testing.T) {
	j := newTestJournal(t)

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent() on unwritten journal failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected 0 entries, got %d", len(entries))
	}
}

// TestJournal_Since verifies the cutoff filter and oldest-first ordering.
func TestJournal_Since(t *testing.T) {
	j := newTestJournal(t)

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	clock := base
	j.nowFn = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for _, op := range []string{JournalReconcile, JournalDownload, JournalAdoption} {
		if err := j.Record(op, "", ""); err != nil {
			t.Fatalf("Record(%s) failed: %v", op, err)
		}
	}

	// Cutoff lands exactly on the second entry; it should be included.
	entries, err := j.Since(base.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("Since() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Op != JournalDownload {
		t.Errorf("Expected oldest entry op %s, got %s", JournalDownload, entries[0].Op)
	}
	if entries[1].Op != JournalAdoption {
		t.Errorf("Expected newest entry op %s, got %s", JournalAdoption, entries[1].Op)
	}
}

// TestJournal_SkipsMalformedLines verifies that a torn write does not
// poison the rest of the journal.
func TestJournal_SkipsMalformedLines(t *testing.T) {
	j := newTestJournal(t)

	if err := j.Record(JournalReconcile, "", "before crash"); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	// Simulate a torn write by appending half a JSON object.
	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open journal file: %v", err)
	}
	if _, err := f.WriteString(`{"id":"torn","op":"down` + "\n"); err != nil {
		t.Fatalf("Failed to append torn line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close journal file: %v", err)
	}

	if err := j.Record(JournalDownload, "", "after crash"); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	entries, err := j.Recent(0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Detail != "after crash" || entries[1].Detail != "before crash" {
		t.Errorf("Expected entries around the torn line, got %+v", entries)
	}
}

// TestJournal_UniqueIDs verifies that every entry gets its own ID.
func TestJournal_UniqueIDs(t *testing.T) {
	j := newTestJournal(t)

	for i := 0; i < 10; i++ {
		if err := j.Record(JournalDownload, "", ""); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	entries, err := j.Recent(0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID] {
			t.Errorf("Duplicate entry ID %s", e.ID)
		}
		seen[e.ID] = true
	}
}
