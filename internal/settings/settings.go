// Package settings persists small user-scoped values, such as a kindle
// email or a preferred download format, in a hand-editable TOML file.
// It is separate from app configuration on purpose: config describes how
// shelfmark runs, settings describe what the user wants.
package settings

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Store is a flat key-value table backed by one TOML file. Every mutation
// saves immediately and atomically, so a crash never leaves the file
// half-written.
//
// Unlike the placeholder store, a file that fails to parse is an error
// rather than a reset: the file is hand-editable, and a typo must not
// cost the user their other settings.
type Store struct {
	path   string
	values map[string]string
	logger *log.Logger
}

// New creates a store backed by the file at path. Nothing is read until
// Load is called. A nil logger falls back to the default logger.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		path:   path,
		values: make(map[string]string),
		logger: logger,
	}
}

// Load reads the backing file. A missing file is a valid empty store.
func (s *Store) Load() error {
	s.values = make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file %s: %w", s.path, err)
	}
	if err := toml.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", s.path, err)
	}
	return nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool) {
	value, ok := s.values[key]
	return value, ok
}

// Set stores value under key and saves.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("settings key must not be empty")
	}
	s.values[key] = value
	return s.save()
}

// Delete drops key and saves. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.save()
}

// All returns a copy of every setting.
func (s *Store) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

// save writes the table atomically: full encode to a temporary file in the
// same directory, then rename over the real one. The encoder emits keys in
// sorted order, so saves are deterministic.
func (s *Store) save() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s.values); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write settings temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
