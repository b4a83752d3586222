// Package daemon keeps a placeholder library continuously mirrored.
//
// The daemon watches the library tree for filesystem changes and repairs
// damage as it settles, runs full reconcile passes on a timer, and
// records everything it does in an append-only journal.
//
// # Architecture
//
// The package has four components:
//
//   - LibraryWatcher: recursive fsnotify watching over the library tree
//   - Daemon: orchestrates watching, change debouncing, and reconciling
//   - Journal: append-only JSONL operation record with rotation
//   - Lock: flock-based lockfile keeping one daemon per library
//
// # File Watching
//
// LibraryWatcher walks the tree at Start and watches every directory
// except dot-directories. Directories created later (a new author, a new
// series) join the watch set as their create events arrive, so the watch
// stays recursive as reconcile grows the tree:
//
//	lw, err := daemon.NewLibraryWatcher()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lw.Stop()
//
//	if err := lw.Start("/library"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range lw.Events() {
//	    fmt.Printf("%s: %s\n", event.Op, event.Path)
//	}
//
// Dot-prefixed names (the state directory, in-flight downloads) never
// produce events. Renames are reported as deletes; the new name triggers
// a separate create.
//
// # Change Debouncing and Repair
//
// Events land in a change queue keyed by path, holding the time the path
// was first seen. A ticker drains paths that have been quiet for the
// debounce interval and hands each to the reconciler: a deleted
// placeholder with a live store entry is recreated, an untracked
// placeholder file is adopted, and real books are left alone.
//
// # Lifecycle
//
// Start blocks until the context is cancelled. It takes the library
// lock first; a second daemon on the same library fails fast with
// ErrLocked. A fresh restart checkpoint is consumed and journaled before
// the initial reconcile pass.
//
// # Journal
//
// Every reconcile summary, repair, adoption, and resume is one JSONL
// line with a unique ID and UTC timestamp. The file rotates by size;
// Recent and Since read the live file for the recent-activity listing.
package daemon
