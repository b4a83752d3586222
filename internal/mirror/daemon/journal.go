package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Operation names recorded in the journal.
const (
	// JournalReconcile records a completed reconcile pass with its summary.
	JournalReconcile = "reconcile"
	// JournalDownload records a placeholder replaced by real content.
	JournalDownload = "download"
	// JournalAdoption records an untracked placeholder joining the store.
	JournalAdoption = "adoption"
	// JournalOrphan records an orphaned placeholder removed from disk.
	JournalOrphan = "orphan_removed"
	// JournalRepair records a missing placeholder recreated in place.
	JournalRepair = "repair"
	// JournalResume records a restart checkpoint consumed at startup.
	JournalResume = "resume"
)

// Entry is one journal line.
type Entry struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Op     string    `json:"op"`
	Path   string    `json:"path,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Journal is an append-only JSONL record of mirror operations.
//
// Writes go through lumberjack for size-based rotation. Reads scan the
// live file only; rotated archives are not consulted.
type Journal struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	enc    *json.Encoder
	path   string
	nowFn  func() time.Time
}

// NewJournal opens (or creates on first write) the journal at path.
func NewJournal(path string) *Journal {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return &Journal{
		writer: writer,
		enc:    json.NewEncoder(writer),
		path:   path,
		nowFn:  time.Now,
	}
}

// Record appends one entry. Each entry gets a unique ID and the current
// time.
func (j *Journal) Record(op, path, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		ID:     uuid.New().String(),
		Time:   j.nowFn().UTC(),
		Op:     op,
		Path:   path,
		Detail: detail,
	}
	if err := j.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to journal %s: %w", op, err)
	}
	return nil
}

// Recent returns the newest entries, most recent first, up to limit.
// A limit of zero or less returns everything in the live file.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	// Reverse so the newest entry comes first.
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Since returns entries recorded at or after cutoff, oldest first.
func (j *Journal) Since(cutoff time.Time) ([]Entry, error) {
	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var matched []Entry
	for _, e := range entries {
		if e.Time.Before(cutoff) {
			continue
		}
		matched = append(matched, e)
	}
	return matched, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// Close releases the underlying writer.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writer.Close()
}

// readAll parses the live journal file, oldest first. Lines that do not
// parse (a torn write from a crash) are skipped.
func (j *Journal) readAll() ([]Entry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return entries, nil
}
