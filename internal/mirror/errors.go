// Package mirror defines the shared error taxonomy for the placeholder
// mirror subsystem.
//
// The subpackages (store, codec, cache, checkpoint, reconcile, workflow,
// daemon, index, events) wrap these sentinels so that callers can branch on
// failure class without depending on the failing layer's internals.
package mirror

import "errors"

// Common errors returned by mirror operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, mirror.ErrNetwork) {
//	    // Transient; the whole fetch may be retried.
//	}
var (
	// ErrNetwork is returned when a catalog or download request fails for
	// transport-level reasons. The operation may be retried as a whole.
	ErrNetwork = errors.New("network error")

	// ErrInvalidDownload is returned when a downloaded payload is too small
	// or otherwise not a plausible book. Not retryable without investigation.
	ErrInvalidDownload = errors.New("invalid download")

	// ErrServerReturnedPlaceholder is returned when the downloaded payload is
	// itself a placeholder document. The upstream is misbehaving; the local
	// placeholder is left untouched.
	ErrServerReturnedPlaceholder = errors.New("server returned a placeholder")

	// ErrFilesystem is returned when a create, delete, or rename on the
	// library tree fails after any bounded retries.
	ErrFilesystem = errors.New("filesystem operation failed")

	// ErrStoreCorruption is returned when the persisted placeholder store
	// cannot be decoded. Callers recover by reinitializing an empty store
	// rather than failing startup.
	ErrStoreCorruption = errors.New("placeholder store is corrupt")

	// ErrStaleCheckpoint is returned when a restart checkpoint is older than
	// the freshness window. It is discarded silently, never surfaced to the
	// user as a failure.
	ErrStaleCheckpoint = errors.New("restart checkpoint is stale")

	// ErrNotAPlaceholder is returned when a path handed to the
	// download-replace workflow has no store entry.
	ErrNotAPlaceholder = errors.New("path is not a tracked placeholder")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsRecovered returns true for errors that the subsystem absorbs on its own:
// a corrupt store restarts empty and a stale checkpoint is dropped unread.
// Callers log these and continue.
func IsRecovered(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreCorruption) || errors.Is(err, ErrStaleCheckpoint)
}
