// Package checkpoint persists the restart handoff record: which book the
// download workflow just replaced, so the next startup can reopen it.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror"
)

const (
	// SchemaVersion guards the checkpoint file layout. A mismatch means the
	// file was written by a different build and is treated as stale.
	SchemaVersion = 1

	// DefaultFreshness is how old a checkpoint may be and still be
	// consumed. Anything older is a leftover from an abandoned run.
	DefaultFreshness = 60 * time.Second
)

// Checkpoint is the handoff record written just before a restart request.
type Checkpoint struct {
	FolderPath    string    `json:"folder_path"`
	BookPath      string    `json:"book_path"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schema_version"`
}

// Validate checks that the Checkpoint has valid field values.
func (c *Checkpoint) Validate() error {
	if c.FolderPath == "" {
		return fmt.Errorf("folder_path is required")
	}
	if c.BookPath == "" {
		return fmt.Errorf("book_path is required")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Manager reads and writes the checkpoint at its well-known location.
type Manager struct {
	path   string
	window time.Duration
	logger *log.Logger
	nowFn  func() time.Time
}

// NewManager creates a manager for the checkpoint file at path. A nil
// logger falls back to the default logger.
func NewManager(path string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		path:   path,
		window: DefaultFreshness,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Write persists a fresh checkpoint atomically (temp file, then rename).
func (m *Manager) Write(folderPath, bookPath string) error {
	cp := Checkpoint{
		FolderPath:    folderPath,
		BookPath:      bookPath,
		Timestamp:     m.nowFn(),
		SchemaVersion: SchemaVersion,
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid checkpoint: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Consume reads the checkpoint and deletes it, enforcing exactly-once
// delivery. The file is deleted before the record is returned, so a crash
// at the wrong moment loses a checkpoint rather than replaying one.
//
// A missing file returns (nil, nil): there is simply nothing to resume.
// A checkpoint that is corrupt, from another schema version, or older than
// the freshness window is deleted and reported as StaleCheckpoint; callers
// treat that as recovered, not as a failure.
func (m *Manager) Consume() (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file %s: %w", m.path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		m.discard()
		return nil, fmt.Errorf("corrupt checkpoint discarded: %w", mirror.ErrStaleCheckpoint)
	}
	if err := cp.Validate(); err != nil {
		m.discard()
		return nil, fmt.Errorf("incomplete checkpoint discarded: %w", mirror.ErrStaleCheckpoint)
	}
	if cp.SchemaVersion != SchemaVersion {
		m.discard()
		return nil, fmt.Errorf("checkpoint schema version %d discarded: %w", cp.SchemaVersion, mirror.ErrStaleCheckpoint)
	}
	if age := m.nowFn().Sub(cp.Timestamp); age > m.window {
		m.discard()
		return nil, fmt.Errorf("checkpoint aged %s discarded: %w", age.Round(time.Second), mirror.ErrStaleCheckpoint)
	}

	if err := os.Remove(m.path); err != nil {
		// Without a confirmed delete the exactly-once contract is gone, so
		// the record is withheld.
		return nil, fmt.Errorf("failed to delete checkpoint before handoff: %w", err)
	}
	return &cp, nil
}

// Path returns the location of the checkpoint file.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) discard() {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.logger.Printf("Warning: failed to remove stale checkpoint %s: %v", m.path, err)
	}
}
