// Package store persists the placeholder database: which absolute paths are
// placeholders and which catalog book each one stands for.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/shelfmark/shelfmark/internal/mirror"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
)

// schemaVersion guards the backing file layout.
const schemaVersion = 1

// storeFile is the on-disk shape of the database.
type storeFile struct {
	SchemaVersion int                       `json:"schema_version"`
	Entries       map[string]codec.Metadata `json:"entries"`
}

// Store is the source of truth for "what does this path represent". It is
// single-writer: callers serialize mutations and decide when to Persist.
// Lookups by book ID are backed by a secondary index kept in step with the
// path map, so reconciliation does not scan.
type Store struct {
	path    string
	entries map[string]codec.Metadata
	byID    map[string]string
	logger  *log.Logger
}

// New creates a store backed by the file at path. Nothing is read until
// Load is called. A nil logger falls back to the default logger.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		path:    path,
		entries: make(map[string]codec.Metadata),
		byID:    make(map[string]string),
		logger:  logger,
	}
}

// Load reads the backing file. A missing file is a valid empty store. A
// file that cannot be parsed, or that carries an unknown schema version,
// resets the store to empty and returns a StoreCorruption error; callers
// treat that as recovered (the store stays usable) rather than fatal.
func (s *Store) Load() error {
	s.reset()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file %s: %w", s.path, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Printf("Warning: store file %s is corrupt, starting empty: %v", s.path, err)
		return fmt.Errorf("failed to parse store file %s: %w", s.path, mirror.ErrStoreCorruption)
	}
	if file.SchemaVersion != schemaVersion {
		s.logger.Printf("Warning: store file %s has schema version %d (want %d), starting empty", s.path, file.SchemaVersion, schemaVersion)
		return fmt.Errorf("unsupported store schema version %d: %w", file.SchemaVersion, mirror.ErrStoreCorruption)
	}

	for path, meta := range file.Entries {
		if err := meta.Validate(); err != nil {
			s.logger.Printf("Warning: dropping invalid store entry %s: %v", path, err)
			continue
		}
		s.entries[path] = meta
		s.byID[meta.BookID] = path
	}
	return nil
}

// Persist writes the store atomically: full marshal to a temporary file in
// the same directory, then rename over the real one. A crash mid-write
// leaves the previous file intact.
func (s *Store) Persist() error {
	file := storeFile{
		SchemaVersion: schemaVersion,
		Entries:       s.entries,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// Get returns the entry for an absolute path.
func (s *Store) Get(path string) (codec.Metadata, bool) {
	meta, ok := s.entries[path]
	return meta, ok
}

// FindByBookID returns the path and entry for a catalog book ID.
func (s *Store) FindByBookID(id string) (string, codec.Metadata, bool) {
	path, ok := s.byID[id]
	if !ok {
		return "", codec.Metadata{}, false
	}
	return path, s.entries[path], true
}

// Put records that path is a placeholder for the given book.
func (s *Store) Put(path string, meta codec.Metadata) {
	if old, ok := s.entries[path]; ok && old.BookID != meta.BookID {
		if s.byID[old.BookID] == path {
			delete(s.byID, old.BookID)
		}
	}
	s.entries[path] = meta
	s.byID[meta.BookID] = path
}

// Remove drops the entry for path. Returns false when path was not present.
func (s *Store) Remove(path string) bool {
	meta, ok := s.entries[path]
	if !ok {
		return false
	}
	delete(s.entries, path)
	if s.byID[meta.BookID] == path {
		delete(s.byID, meta.BookID)
	}
	return true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Paths returns every stored path in sorted order, so passes over the store
// visit entries deterministically.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.entries))
	for path := range s.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) reset() {
	s.entries = make(map[string]codec.Metadata)
	s.byID = make(map[string]string)
}
