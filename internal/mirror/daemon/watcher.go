package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// LibraryEvent represents a file system event under the library tree.
type LibraryEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Op is the operation that occurred (create, modify, delete).
	Op EventOp
}

// LibraryWatcher watches the library tree for changes.
// It uses fsnotify for cross-platform file system event monitoring and
// keeps the watch recursive: the base directory is walked at Start, and
// directories created later (new authors, new series) join the watch set
// as their create events arrive.
type LibraryWatcher struct {
	watcher *fsnotify.Watcher
	events  chan LibraryEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	baseDir string
}

// NewLibraryWatcher creates a new LibraryWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewLibraryWatcher() (*LibraryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &LibraryWatcher{
		watcher: watcher,
		events:  make(chan LibraryEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the library tree rooted at baseDir.
// Every directory in the tree is watched except dot-directories, which
// hold state rather than books.
func (lw *LibraryWatcher) Start(baseDir string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.running {
		return fmt.Errorf("watcher already running")
	}

	lw.baseDir = baseDir

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != baseDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := lw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch library tree %s: %w", baseDir, err)
	}

	lw.running = true
	lw.wg.Add(1)
	go lw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (lw *LibraryWatcher) Stop() error {
	lw.mu.Lock()
	if !lw.running {
		lw.mu.Unlock()
		return nil
	}
	lw.running = false
	lw.mu.Unlock()

	// Signal shutdown
	close(lw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := lw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Wait for event processing to finish
	lw.wg.Wait()

	// Close channels
	close(lw.events)
	close(lw.errors)

	return nil
}

// Events returns the channel that emits LibraryEvent notifications.
// This channel is closed when the watcher is stopped.
func (lw *LibraryWatcher) Events() <-chan LibraryEvent {
	return lw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (lw *LibraryWatcher) Errors() <-chan error {
	return lw.errors
}

// processEvents is the main event loop that processes fsnotify events
// and converts them to LibraryEvent notifications.
func (lw *LibraryWatcher) processEvents() {
	defer lw.wg.Done()

	for {
		select {
		case <-lw.done:
			return

		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}

			// New directories join the watch set so events under them
			// keep flowing.
			if event.Has(fsnotify.Create) && lw.armIfDir(event.Name) {
				continue
			}

			if libraryEvent, ok := lw.convertEvent(event); ok {
				select {
				case lw.events <- libraryEvent:
				case <-lw.done:
					return
				}
			}

		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case lw.errors <- err:
			case <-lw.done:
				return
			}
		}
	}
}

// armIfDir adds a newly created directory to the watch set.
// Returns true when path is a directory, whether or not it was armed.
func (lw *LibraryWatcher) armIfDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	if err := lw.watcher.Add(path); err != nil {
		select {
		case lw.errors <- fmt.Errorf("failed to watch new directory %s: %w", path, err):
		default:
		}
	}
	return true
}

// convertEvent converts an fsnotify event to a LibraryEvent.
// Returns (LibraryEvent, true) if the event should be processed,
// or (LibraryEvent{}, false) if the event should be ignored.
func (lw *LibraryWatcher) convertEvent(event fsnotify.Event) (LibraryEvent, bool) {
	// Dot-prefixed names are state files and in-flight downloads, never
	// library books.
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return LibraryEvent{}, false
	}

	// Convert fsnotify operation to our EventOp
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return LibraryEvent{}, false
	}

	return LibraryEvent{
		Path: event.Name,
		Op:   op,
	}, true
}

// IsRunning returns true if the watcher is currently running.
func (lw *LibraryWatcher) IsRunning() bool {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.running
}
