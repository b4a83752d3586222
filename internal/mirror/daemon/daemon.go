package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/checkpoint"
	"github.com/shelfmark/shelfmark/internal/mirror/reconcile"
)

// Source yields the catalog truth a reconcile pass mirrors.
type Source interface {
	Books(ctx context.Context) ([]catalog.Book, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// ReconcileInterval is how often a full reconcile pass runs.
	ReconcileInterval time.Duration

	// DebounceInterval is how long a filesystem change rests in the
	// queue before the repair tick picks it up. Rapid bursts for the
	// same path collapse to a single entry.
	DebounceInterval time.Duration

	// LockPath is the daemon lockfile. Empty derives
	// <base>/.shelfmark/daemon.lock.
	LockPath string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReconcileInterval: time.Hour,
		DebounceInterval:  500 * time.Millisecond,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon keeps one library mirrored: full reconcile passes on a timer,
// incremental repair from filesystem events in between.
type Daemon struct {
	baseDir     string
	source      Source
	engine      reconcile.Reconciler
	checkpoints *checkpoint.Manager
	journal     *Journal
	config      *Config

	watcher       *LibraryWatcher
	lock          *Lock
	changeQueue   map[string]time.Time // path -> first seen
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - baseDir: the library root being mirrored
//   - source: where catalog books come from
//   - engine: the reconciler that repairs the mirror
//
// checkpoints and journal may be nil; resume handling and journaling are
// skipped when they are. Use Start() to begin watching.
func New(baseDir string, source Source, engine reconcile.Reconciler, checkpoints *checkpoint.Manager, journal *Journal, config *Config) (*Daemon, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = time.Hour
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.LockPath == "" {
		config.LockPath = filepath.Join(baseDir, ".shelfmark", "daemon.lock")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := NewLibraryWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		baseDir:     baseDir,
		source:      source,
		engine:      engine,
		checkpoints: checkpoints,
		journal:     journal,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Take the library lock (one daemon per library)
//  2. Consume a fresh restart checkpoint, if any
//  3. Perform an initial full reconcile
//  4. Watch the library tree and repair settled changes
//  5. Run periodic full reconciles
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	lock, err := Acquire(d.config.LockPath)
	if err != nil {
		return err
	}
	d.lock = lock

	d.consumeCheckpoint()

	if err := d.reconcileOnce(ctx); err != nil {
		d.releaseLock()
		return fmt.Errorf("initial reconcile failed: %w", err)
	}

	if err := d.watcher.Start(d.baseDir); err != nil {
		d.releaseLock()
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.baseDir)

	// Start background goroutines
	d.wg.Add(3)
	go d.watchLibraryEvents()
	go d.processChangeQueue()
	go d.reconcilePeriodically()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	// Close watcher
	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error stopping watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.releaseLock()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// consumeCheckpoint acknowledges a replacement that requested a restart.
// The workflow wrote the checkpoint just before the daemon went down; by
// the time we run again the book is already real content on disk.
func (d *Daemon) consumeCheckpoint() {
	if d.checkpoints == nil {
		return
	}
	cp, err := d.checkpoints.Consume()
	if err != nil {
		d.config.Logger.Printf("WARNING: Failed to consume restart checkpoint: %v", err)
		return
	}
	if cp == nil {
		return
	}
	d.config.Logger.Printf("Resuming after restart: %s", cp.BookPath)
	d.journalRecord(JournalResume, cp.BookPath, "restart checkpoint consumed")
}

// reconcileOnce runs one full reconcile pass against the catalog.
func (d *Daemon) reconcileOnce(ctx context.Context) error {
	books, err := d.source.Books(ctx)
	if err != nil {
		return fmt.Errorf("failed to list catalog books: %w", err)
	}

	result, err := d.engine.Reconcile(ctx, books)
	if result != nil {
		d.journalRecord(JournalReconcile, d.baseDir, result.Summary())
	}
	if err != nil {
		return fmt.Errorf("reconcile pass failed: %w", err)
	}
	return nil
}

// watchLibraryEvents monitors filesystem events and queues changes.
func (d *Daemon) watchLibraryEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a path to the change queue. The first-seen time is
// kept, so a path that keeps changing still settles eventually.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if _, queued := d.changeQueue[path]; !queued {
		d.changeQueue[path] = time.Now()
	}
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges repairs paths that have been settled for long
// enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, firstSeen := range d.changeQueue {
		if now.Sub(firstSeen) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)
		d.repairPath(path)
	}
}

// repairPath restores one settled path. A deleted placeholder with a
// live store entry comes back; an untracked placeholder file joins the
// store. Real books are left alone.
func (d *Daemon) repairPath(path string) {
	repaired, err := d.engine.RepairPath(d.ctx, path)
	if err != nil {
		d.config.Logger.Printf("Error repairing %s: %v", path, err)
		return
	}
	if repaired {
		d.config.Logger.Printf("Repaired placeholder: %s", path)
		d.journalRecord(JournalRepair, path, "placeholder recreated")
		return
	}

	// Nothing to restore. If the path still exists it may be an
	// untracked placeholder worth adopting.
	if _, err := os.Stat(path); err != nil {
		return
	}
	adopted, err := d.engine.AdoptPath(d.ctx, path)
	if err != nil {
		d.config.Logger.Printf("Error adopting %s: %v", path, err)
		return
	}
	if adopted {
		d.journalRecord(JournalAdoption, path, "untracked placeholder registered")
	}
}

// reconcilePeriodically runs full reconcile passes on the configured
// interval.
func (d *Daemon) reconcilePeriodically() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.reconcileOnce(d.ctx); err != nil {
				d.config.Logger.Printf("Error in periodic reconcile: %v", err)
			}
		}
	}
}

// journalRecord writes one journal entry, logging instead of failing.
func (d *Daemon) journalRecord(op, path, detail string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(op, path, detail); err != nil {
		d.config.Logger.Printf("WARNING: Failed to journal %s: %v", op, err)
	}
}

func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Release(); err != nil {
		d.config.Logger.Printf("Error releasing lock: %v", err)
	}
	d.lock = nil
}
