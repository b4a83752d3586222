// Package cache is a bounded TTL cache for remote metadata, persisted to
// disk so a restart does not refetch the whole catalog.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config controls cache behavior.
type Config struct {
	// TTL is how long an entry stays valid after it was written.
	TTL time.Duration

	// Capacity bounds the number of entries. At capacity the entry with
	// the fewest accesses is evicted first.
	Capacity int

	// FlushInterval is how often the background flusher persists a dirty
	// cache to disk.
	FlushInterval time.Duration
}

// DefaultConfig returns the standard cache settings.
func DefaultConfig() Config {
	return Config{
		TTL:           15 * time.Minute,
		Capacity:      1000,
		FlushInterval: 5 * time.Minute,
	}
}

// entry is one cached value with its bookkeeping fields.
type entry struct {
	Value       json.RawMessage `json:"value"`
	CreatedAt   time.Time       `json:"created_at"`
	AccessCount int             `json:"access_count"`
}

// Cache is a key/value cache with expiry on access and least-accessed
// eviction. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	path    string
	cfg     Config
	entries map[string]*entry
	dirty   bool
	logger  *log.Logger
	nowFn   func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a cache backed by the file at path. Non-positive config
// fields fall back to the defaults. A nil logger falls back to the default
// logger.
func New(path string, cfg Config, logger *log.Logger) *Cache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		path:    path,
		cfg:     cfg,
		entries: make(map[string]*entry),
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Get returns the cached value and its age. An entry past its TTL is
// evicted on the spot and reported as a miss. A hit counts as an access.
func (c *Cache) Get(key string) (json.RawMessage, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}

	age := c.nowFn().Sub(e.CreatedAt)
	if age > c.cfg.TTL {
		delete(c.entries, key)
		c.dirty = true
		return nil, 0, false
	}

	e.AccessCount++
	c.dirty = true
	return e.Value, age, true
}

// Set stores a value under key, refreshing its creation time. An existing
// entry keeps its access count; a new entry at capacity evicts the least
// accessed entry first (ties broken by key order, so eviction is
// deterministic).
func (c *Cache) Set(key string, value json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if e, ok := c.entries[key]; ok {
		e.Value = value
		e.CreatedAt = now
		c.dirty = true
		return
	}

	if len(c.entries) >= c.cfg.Capacity {
		c.evictOne()
	}
	c.entries[key] = &entry{Value: value, CreatedAt: now}
	c.dirty = true
}

// evictOne removes the entry with the lowest access count. Caller holds mu.
func (c *Cache) evictOne() {
	victim := ""
	for key, e := range c.entries {
		if victim == "" {
			victim = key
			continue
		}
		v := c.entries[victim]
		if e.AccessCount < v.AccessCount || (e.AccessCount == v.AccessCount && key < victim) {
			victim = key
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// InvalidatePattern drops every entry whose key the matcher accepts and
// returns how many were dropped.
func (c *Cache) InvalidatePattern(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.dirty = true
	}
	return dropped
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load reads the persisted cache. Entries already past their TTL are
// dropped instead of restored. A missing or corrupt file starts empty; a
// stale cache is never worth failing over.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.dirty = false

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache file %s: %w", c.path, err)
	}

	var persisted map[string]*entry
	if err := json.Unmarshal(data, &persisted); err != nil {
		c.logger.Printf("Warning: cache file %s is corrupt, starting empty: %v", c.path, err)
		return nil
	}

	now := c.nowFn()
	for key, e := range persisted {
		if e == nil || now.Sub(e.CreatedAt) > c.cfg.TTL {
			continue
		}
		c.entries[key] = e
	}
	return nil
}

// Persist writes the cache to disk if anything changed since the last
// flush. The write is atomic (temp file, then rename).
func (c *Cache) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}

// persistLocked does the actual write. Caller holds mu.
func (c *Cache) persistLocked() error {
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	c.dirty = false
	return nil
}

// Start launches the background flusher. Calling Start twice is a no-op.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.flushLoop()
}

// flushLoop persists the cache on a fixed interval until Close.
func (c *Cache) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Persist(); err != nil {
				c.logger.Printf("Warning: cache flush failed: %v", err)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops the flusher and persists any pending changes.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.started {
		c.cancel()
		c.started = false
	}
	c.mu.Unlock()
	c.wg.Wait()
	return c.Persist()
}
