// Package shortcut maintains a flat "Recently Added" directory of links
// to the newest real books in the library.
//
// Links are created by the first strategy in the chain that succeeds:
// symlink, then hard link, then byte copy. A single strategy can be
// forced through configuration or the SHELFMARK_SHORTCUT_STRATEGY
// environment variable. Shortcuts whose target vanished are swept by
// Cleanup, and the directory is pruned to a configured maximum, oldest
// first.
package shortcut

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// EnvStrategy forces a single strategy by name when set.
const EnvStrategy = "SHELFMARK_SHORTCUT_STRATEGY"

// DefaultMaxCount bounds the recently-added directory when the
// configuration does not.
const DefaultMaxCount = 50

// Config controls the manager.
type Config struct {
	// Dir is the recently-added directory. Required.
	Dir string

	// MaxCount caps how many shortcuts the directory keeps. Zero means
	// DefaultMaxCount.
	MaxCount int

	// Strategy forces a single strategy by name. Empty walks the default
	// chain, unless the SHELFMARK_SHORTCUT_STRATEGY environment variable
	// names one.
	Strategy string
}

// Manager owns one recently-added directory.
type Manager struct {
	cfg    Config
	chain  []Strategy
	logger *log.Logger
}

// New validates cfg, resolves the strategy chain, and returns a manager.
func New(cfg Config, logger *log.Logger) (*Manager, error) {
	chain, err := resolveChain(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return newWithChain(cfg, chain, logger)
}

// newWithChain is the test seam behind New.
func newWithChain(cfg Config, chain []Strategy, logger *log.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("shortcut directory is required")
	}
	if cfg.MaxCount < 0 {
		return nil, fmt.Errorf("max count cannot be negative: %d", cfg.MaxCount)
	}
	if cfg.MaxCount == 0 {
		cfg.MaxCount = DefaultMaxCount
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no usable strategy: %w", ErrNoStrategy)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[shortcut] ", log.LstdFlags)
	}
	return &Manager{cfg: cfg, chain: chain, logger: logger}, nil
}

// resolveChain picks the strategies Add will try, in order.
func resolveChain(forced string) ([]Strategy, error) {
	if forced == "" {
		forced = os.Getenv(EnvStrategy)
	}
	if forced != "" {
		s := getStrategy(forced)
		if s == nil {
			return nil, fmt.Errorf("strategy %q (registered: %s): %w",
				forced, strings.Join(RegisteredNames(), ", "), ErrUnknownStrategy)
		}
		if !s.Available() {
			return nil, fmt.Errorf("strategy %q: %w", forced, ErrStrategyUnavailable)
		}
		return []Strategy{s}, nil
	}

	var chain []Strategy
	for _, name := range defaultOrder {
		s := getStrategy(name)
		if s == nil || !s.Available() {
			continue
		}
		chain = append(chain, s)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no usable strategy registered: %w", ErrNoStrategy)
	}
	return chain, nil
}

// Strategies returns the names of the resolved chain, in try order.
func (m *Manager) Strategies() []string {
	names := make([]string, len(m.chain))
	for i, s := range m.chain {
		names[i] = s.Name()
	}
	return names
}

// Add links target into the recently-added directory and returns the
// shortcut path. The shortcut is named after target's base name; an
// existing shortcut under that name is replaced.
func (m *Manager) Add(target string) (string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("shortcut target %s: %v: %w", target, err, ErrTargetMissing)
	}
	if info.IsDir() {
		return "", fmt.Errorf("shortcut target %s is a directory: %w", target, ErrTargetMissing)
	}

	if err := os.MkdirAll(m.cfg.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create shortcut directory: %w", err)
	}

	path := filepath.Join(m.cfg.Dir, filepath.Base(target))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to replace existing shortcut %s: %w", path, err)
	}

	var failures []string
	for _, s := range m.chain {
		if err := s.Link(target, path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		m.logger.Printf("Added shortcut: %s (%s)", path, s.Name())
		if _, err := m.prune(); err != nil {
			m.logger.Printf("WARNING: Failed to prune shortcuts: %v", err)
		}
		return path, nil
	}

	return "", fmt.Errorf("target %s (%s): %w", target, strings.Join(failures, "; "), ErrNoStrategy)
}

// RemoveFor removes any shortcut created for path, whether it matches by
// name or is a symlink resolving to path. The replacement workflow calls
// this after swapping a placeholder for real content.
func (m *Manager) RemoveFor(path string) error {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read shortcut directory: %w", err)
	}

	base := filepath.Base(path)
	for _, entry := range entries {
		shortcutPath := filepath.Join(m.cfg.Dir, entry.Name())
		if entry.Name() != base && !pointsAt(shortcutPath, path) {
			continue
		}
		if err := os.Remove(shortcutPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove shortcut %s: %w", shortcutPath, err)
		}
		m.logger.Printf("Removed shortcut: %s", shortcutPath)
	}
	return nil
}

// Cleanup removes dangling shortcuts (target gone) and prunes the
// directory beyond the configured maximum, oldest first. Returns how
// many shortcuts were removed.
func (m *Manager) Cleanup() (int, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read shortcut directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		shortcutPath := filepath.Join(m.cfg.Dir, entry.Name())
		// Stat follows symlinks, so a dangling link fails here.
		if _, err := os.Stat(shortcutPath); err == nil || !os.IsNotExist(err) {
			continue
		}
		if err := os.Remove(shortcutPath); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove dangling shortcut %s: %w", shortcutPath, err)
		}
		m.logger.Printf("Removed dangling shortcut: %s", shortcutPath)
		removed++
	}

	pruned, err := m.prune()
	if err != nil {
		return removed, err
	}
	return removed + pruned, nil
}

// prune drops the oldest shortcuts beyond MaxCount. Age comes from the
// shortcut file itself, not the target.
func (m *Manager) prune() (int, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read shortcut directory: %w", err)
	}
	if len(entries) <= m.cfg.MaxCount {
		return 0, nil
	}

	type aged struct {
		path string
		mod  time.Time
	}
	all := make([]aged, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		all = append(all, aged{filepath.Join(m.cfg.Dir, entry.Name()), info.ModTime()})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].mod.After(all[j].mod) })

	removed := 0
	for _, old := range all[m.cfg.MaxCount:] {
		if err := os.Remove(old.path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to prune shortcut %s: %w", old.path, err)
		}
		removed++
	}
	return removed, nil
}

// pointsAt reports whether shortcut is a symlink resolving to target.
func pointsAt(shortcut, target string) bool {
	dest, err := os.Readlink(shortcut)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(shortcut), dest)
	}
	return filepath.Clean(dest) == filepath.Clean(target)
}
